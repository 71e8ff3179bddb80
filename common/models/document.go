package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the lifecycle status of a policy document
type DocumentStatus string

const (
	StatusNew     DocumentStatus = "NEW"
	StatusIssue   DocumentStatus = "ISSUE"
	StatusRevoke  DocumentStatus = "REVOKE"
	StatusSuspend DocumentStatus = "SUSPEND"
	StatusResume  DocumentStatus = "RESUME"
)

// allowedTransitions is the document status machine. Transitions outside of
// it are rejected and leave the document untouched.
var allowedTransitions = map[DocumentStatus][]DocumentStatus{
	StatusNew:     {StatusIssue},
	StatusIssue:   {StatusRevoke, StatusSuspend},
	StatusSuspend: {StatusResume},
	StatusResume:  {StatusIssue},
}

// CanTransition reports whether from -> to is an allowed status transition
func CanTransition(from, to DocumentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PolicyDocument is the credential-like document moved between blocks.
// Maps to: policy_document table
type PolicyDocument struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	InstanceID uuid.UUID      `db:"instance_id" json:"instance_id"`
	Owner      string         `db:"owner" json:"owner"`
	SchemaRef  string         `db:"schema_ref" json:"schema_ref"`
	Status     DocumentStatus `db:"status" json:"status"`

	// Relationships accumulate ledger message refs; append-only, deduplicated
	Relationships []string `db:"relationships" json:"relationships"`

	Payload   map[string]interface{} `db:"payload" json:"payload"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt time.Time              `db:"updated_at" json:"updated_at"`
}

// AddRelationship appends a ledger message ref, deduplicated by value.
// Returns true if the ref was new.
func (d *PolicyDocument) AddRelationship(messageRef string) bool {
	for _, ref := range d.Relationships {
		if ref == messageRef {
			return false
		}
	}
	d.Relationships = append(d.Relationships, messageRef)
	return true
}

// Clone returns a deep copy of the document
func (d *PolicyDocument) Clone() *PolicyDocument {
	cp := *d
	cp.Relationships = append([]string(nil), d.Relationships...)
	cp.Payload = cloneMap(d.Payload)
	return &cp
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
