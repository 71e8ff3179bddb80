package docs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/expr"
	"github.com/google/uuid"
)

// Store persists policy documents for running instances
type Store interface {
	Insert(ctx context.Context, doc *models.PolicyDocument) error
	Update(ctx context.Context, doc *models.PolicyDocument) error
	Get(ctx context.Context, id uuid.UUID) (*models.PolicyDocument, error)
	ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*models.PolicyDocument, error)
	ListByOwner(ctx context.Context, instanceID uuid.UUID, owner string) ([]*models.PolicyDocument, error)
}

// Service is the document flow model: creation, monotonic status
// transitions, append-only relationship accumulation, and the addon
// operations (pagination, calculation) over per-user document slices.
type Service struct {
	store Store
	expr  *expr.Evaluator
	log   *logger.Logger
}

// NewService creates a document service
func NewService(store Store, evaluator *expr.Evaluator, log *logger.Logger) *Service {
	return &Service{
		store: store,
		expr:  evaluator,
		log:   log,
	}
}

// Store exposes the underlying document store
func (s *Service) Store() Store {
	return s.store
}

// Create inserts a new document with status NEW
func (s *Service) Create(ctx context.Context, instanceID uuid.UUID, owner, schemaRef string, payload map[string]interface{}) (*models.PolicyDocument, error) {
	now := time.Now().UTC()
	doc := &models.PolicyDocument{
		ID:         uuid.New(),
		InstanceID: instanceID,
		Owner:      owner,
		SchemaRef:  schemaRef,
		Status:     models.StatusNew,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.Insert(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}

	s.log.Info("document created", "document_id", doc.ID, "instance_id", instanceID, "owner", owner)
	return doc, nil
}

// Transition moves a document to the next status. Transitions outside the
// allowed machine fail with InvalidStatusTransition and leave the document
// unchanged.
func (s *Service) Transition(ctx context.Context, docID uuid.UUID, next models.DocumentStatus) (*models.PolicyDocument, error) {
	doc, err := s.store.Get(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", docID, err)
	}

	if !models.CanTransition(doc.Status, next) {
		return nil, enginerrors.InvalidStatusTransition(string(doc.Status), string(next))
	}

	doc.Status = next
	doc.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update document %s: %w", docID, err)
	}

	s.log.Info("document status changed", "document_id", docID, "status", next)
	return doc, nil
}

// AddRelationship appends a ledger message ref to a document, deduplicated
// by ref. Relationships are never removed.
func (s *Service) AddRelationship(ctx context.Context, docID uuid.UUID, messageRef string) (*models.PolicyDocument, error) {
	doc, err := s.store.Get(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", docID, err)
	}

	if !doc.AddRelationship(messageRef) {
		return doc, nil
	}

	doc.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update document %s: %w", docID, err)
	}

	return doc, nil
}

// PatchPayload applies an RFC 7386 merge patch to a document's payload
func (s *Service) PatchPayload(ctx context.Context, docID uuid.UUID, patch json.RawMessage) (*models.PolicyDocument, error) {
	doc, err := s.store.Get(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", docID, err)
	}

	current, err := json.Marshal(doc.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to apply payload patch: %w", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(merged, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode patched payload: %w", err)
	}

	doc.Payload = payload
	doc.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update document %s: %w", docID, err)
	}

	return doc, nil
}

// Page returns one page of a user's document slice plus the total count
func (s *Service) Page(ctx context.Context, instanceID uuid.UUID, owner string, page, size int) ([]*models.PolicyDocument, int, error) {
	docs, err := s.store.ListByOwner(ctx, instanceID, owner)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}

	total := len(docs)
	if size < 1 {
		return docs, total, nil
	}
	if page < 0 {
		page = 0
	}

	start := page * size
	if start >= total {
		return nil, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return docs[start:end], total, nil
}

// CalcResult is the calculation addon's per-document outcome. Value is
// expr.ErrValue when the formula failed for that document.
type CalcResult struct {
	DocumentID uuid.UUID   `json:"document_id"`
	Value      interface{} `json:"value"`
}

// Calculate evaluates a formula against each document, binding the declared
// variables from payload fields. Formula failures degrade to the sentinel
// value per result; a bad formula never aborts the run.
func (s *Service) Calculate(docs []*models.PolicyDocument, formula string, variables []models.DeclaredVariable) []CalcResult {
	results := make([]CalcResult, 0, len(docs))

	for _, doc := range docs {
		scope := make(map[string]interface{}, len(variables))
		for _, v := range variables {
			scope[v.Alias] = lookupPath(doc.Payload, v.Path)
		}

		value := s.expr.Evaluate(formula, scope)
		if value == expr.ErrValue {
			s.log.Warn("formula failed for document", "document_id", doc.ID, "formula", formula)
		}
		results = append(results, CalcResult{DocumentID: doc.ID, Value: value})
	}

	return results
}

// lookupPath resolves a dot-separated path inside a payload map. Missing
// segments resolve to nil, which CEL surfaces as an evaluation error and
// Calculate degrades to the sentinel.
func lookupPath(payload map[string]interface{}, path string) interface{} {
	current := interface{}(payload)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		segment := path[start:i]
		start = i + 1

		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}
