package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DiffActionType is the kind of change a DiffAction records
type DiffActionType string

const (
	DiffInsert DiffActionType = "INSERT"
	DiffUpdate DiffActionType = "UPDATE"
	DiffDelete DiffActionType = "DELETE"
)

// DiffAction is one recorded change to an instance-scoped row. Actions are
// append-only; each carries the chain hash accumulated up to and including
// itself, making the log tamper-evident and order-dependent.
// Maps to: diff_action table
type DiffAction struct {
	Seq        int64          `db:"seq" json:"seq"`
	InstanceID uuid.UUID      `db:"instance_id" json:"instance_id"`
	Collection string         `db:"collection" json:"collection"`
	Type       DiffActionType `db:"action_type" json:"type"`
	RowID      string         `db:"row_id" json:"row_id"`

	// StructuralHash covers stable identity fields of the row
	StructuralHash string `db:"structural_hash" json:"structural_hash"`

	// ContentHash covers the mutable payload of the row
	ContentHash string `db:"content_hash" json:"content_hash"`

	// ChainHash = H(previousChainHash, type, rowId, structuralHash, contentHash)
	ChainHash string `db:"chain_hash" json:"chain_hash"`

	// Payload is the row envelope; nil for Delete actions. Oversized
	// payloads are externalized to blob storage, leaving only a BlobRef in
	// the envelope.
	Payload json.RawMessage `db:"payload" json:"payload,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SnapshotRow is the last recorded hash pair for one row, used by the diff
// engine for change detection between backup cycles.
// Maps to: snapshot_row table
type SnapshotRow struct {
	InstanceID     uuid.UUID `db:"instance_id" json:"instance_id"`
	Collection     string    `db:"collection" json:"collection"`
	RowID          string    `db:"row_id" json:"row_id"`
	StructuralHash string    `db:"structural_hash" json:"structural_hash"`
	ContentHash    string    `db:"content_hash" json:"content_hash"`
}

// RowEnvelope is the serialized form a row travels in inside a DiffAction
// payload. Exactly one of Document/Patch/BlobRef carries the row data.
type RowEnvelope struct {
	// RestoreKey is the restore-scoped idempotency key, distinct from the
	// live row id, so repeated replays converge to the same state
	RestoreKey string `json:"restore_key"`

	// Document is the base64-encoded row JSON for full-row actions
	Document string `json:"document,omitempty"`

	// Patch is an RFC 7386 merge patch for sparse updates
	Patch json.RawMessage `json:"patch,omitempty"`

	// BlobRef points to an externalized payload in blob storage
	BlobRef string `json:"blob_ref,omitempty"`

	// Encrypted holds protected fields keyed by field path
	Encrypted map[string]EncryptedField `json:"encrypted,omitempty"`
}

// EncryptedField is one protected field, sealed under a key resolved via the
// key-custody collaborator at restore time.
type EncryptedField struct {
	Ciphertext string `json:"ciphertext"` // base64
	Nonce      string `json:"nonce"`      // base64
	OwnerDID   string `json:"owner_did"`
	KeyType    string `json:"key_type"`
}

// StateBlob is per-block mutable state owned by one (instance, user) lane.
// Maps to: execution_state table
type StateBlob struct {
	InstanceID uuid.UUID       `db:"instance_id" json:"instance_id"`
	UserID     string          `db:"user_id" json:"user_id"`
	BlockID    uuid.UUID       `db:"block_id" json:"block_id"`
	Data       json.RawMessage `db:"data" json:"data"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}
