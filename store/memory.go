// Package store provides the instance-scoped persistence layer: document,
// execution-state, snapshot, and diff-log stores, with in-memory and
// Postgres implementations plus the collection adapters that plug them
// into the backup/restore engines.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clearchain/policy-engine/common/models"
	"github.com/google/uuid"
)

// MemoryDocumentStore keeps policy documents in memory. Used by tests and
// the memory profile.
type MemoryDocumentStore struct {
	mu    sync.RWMutex
	docs  map[uuid.UUID]*models.PolicyDocument
	order []uuid.UUID
}

// NewMemoryDocumentStore creates an empty document store
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		docs: make(map[uuid.UUID]*models.PolicyDocument),
	}
}

// Insert adds a document
func (s *MemoryDocumentStore) Insert(ctx context.Context, doc *models.PolicyDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[doc.ID]; exists {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	s.docs[doc.ID] = doc.Clone()
	s.order = append(s.order, doc.ID)
	return nil
}

// Update replaces a document
func (s *MemoryDocumentStore) Update(ctx context.Context, doc *models.PolicyDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[doc.ID]; !exists {
		return fmt.Errorf("document %s not found", doc.ID)
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

// Get returns a copy of a document
func (s *MemoryDocumentStore) Get(ctx context.Context, id uuid.UUID) (*models.PolicyDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.docs[id]
	if !exists {
		return nil, fmt.Errorf("document %s not found", id)
	}
	return doc.Clone(), nil
}

// ListByInstance returns an instance's documents in insertion order
func (s *MemoryDocumentStore) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*models.PolicyDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PolicyDocument
	for _, id := range s.order {
		doc := s.docs[id]
		if doc != nil && doc.InstanceID == instanceID {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

// ListByOwner returns a user's document slice in insertion order
func (s *MemoryDocumentStore) ListByOwner(ctx context.Context, instanceID uuid.UUID, owner string) ([]*models.PolicyDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PolicyDocument
	for _, id := range s.order {
		doc := s.docs[id]
		if doc != nil && doc.InstanceID == instanceID && doc.Owner == owner {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

// Delete removes a document. Live document flow never deletes; restore's
// rebuild mode does.
func (s *MemoryDocumentStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// DeleteByInstance clears an instance's documents
func (s *MemoryDocumentStore) DeleteByInstance(ctx context.Context, instanceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	for _, id := range s.order {
		doc := s.docs[id]
		if doc != nil && doc.InstanceID == instanceID {
			delete(s.docs, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return nil
}

type stateKey struct {
	instanceID uuid.UUID
	userID     string
	blockID    uuid.UUID
}

// MemoryStateStore keeps per-(instance, user, block) state blobs in memory
type MemoryStateStore struct {
	mu    sync.RWMutex
	blobs map[stateKey][]byte
}

// NewMemoryStateStore creates an empty state store
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		blobs: make(map[stateKey][]byte),
	}
}

// Get returns the state blob, or nil if none has been written
func (s *MemoryStateStore) Get(ctx context.Context, instanceID uuid.UUID, userID string, blockID uuid.UUID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.blobs[stateKey{instanceID, userID, blockID}]
	if !exists {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

// Put stores the state blob
func (s *MemoryStateStore) Put(ctx context.Context, instanceID uuid.UUID, userID string, blockID uuid.UUID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[stateKey{instanceID, userID, blockID}] = append([]byte(nil), data...)
	return nil
}

// ListByInstance returns every state blob for an instance in a stable order
func (s *MemoryStateStore) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]models.StateBlob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.StateBlob
	for key, data := range s.blobs {
		if key.instanceID != instanceID {
			continue
		}
		out = append(out, models.StateBlob{
			InstanceID: key.instanceID,
			UserID:     key.userID,
			BlockID:    key.blockID,
			Data:       append([]byte(nil), data...),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].BlockID.String() < out[j].BlockID.String()
	})
	return out, nil
}

// DeleteInstance destroys all execution state for an instance
func (s *MemoryStateStore) DeleteInstance(ctx context.Context, instanceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.blobs {
		if key.instanceID == instanceID {
			delete(s.blobs, key)
		}
	}
	return nil
}

type snapshotKey struct {
	instanceID uuid.UUID
	collection string
	rowID      string
}

// MemorySnapshotStore keeps backup snapshots in memory
type MemorySnapshotStore struct {
	mu   sync.RWMutex
	rows map[snapshotKey]models.SnapshotRow
}

// NewMemorySnapshotStore creates an empty snapshot store
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		rows: make(map[snapshotKey]models.SnapshotRow),
	}
}

// List returns the snapshot rows for one (instance, collection)
func (s *MemorySnapshotStore) List(ctx context.Context, instanceID uuid.UUID, collection string) ([]models.SnapshotRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SnapshotRow
	for key, row := range s.rows {
		if key.instanceID == instanceID && key.collection == collection {
			out = append(out, row)
		}
	}
	return out, nil
}

// Put records a row's hash pair
func (s *MemorySnapshotStore) Put(ctx context.Context, row *models.SnapshotRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[snapshotKey{row.InstanceID, row.Collection, row.RowID}] = *row
	return nil
}

// Delete forgets a row's snapshot
func (s *MemorySnapshotStore) Delete(ctx context.Context, instanceID uuid.UUID, collection, rowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rows, snapshotKey{instanceID, collection, rowID})
	return nil
}

// MemoryDiffLog is an append-only in-memory diff action log
type MemoryDiffLog struct {
	mu      sync.RWMutex
	actions []models.DiffAction
	nextSeq int64
}

// NewMemoryDiffLog creates an empty diff log
func NewMemoryDiffLog() *MemoryDiffLog {
	return &MemoryDiffLog{}
}

// Append records an action in arrival order
func (l *MemoryDiffLog) Append(ctx context.Context, action *models.DiffAction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSeq++
	action.Seq = l.nextSeq
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	l.actions = append(l.actions, *action)
	return nil
}

// List returns the ordered log for one (instance, collection)
func (l *MemoryDiffLog) List(ctx context.Context, instanceID uuid.UUID, collection string) ([]models.DiffAction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.DiffAction
	for _, action := range l.actions {
		if action.InstanceID == instanceID && action.Collection == collection {
			out = append(out, action)
		}
	}
	return out, nil
}

// Head returns the latest chain hash, or "" for an empty chain
func (l *MemoryDiffLog) Head(ctx context.Context, instanceID uuid.UUID, collection string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.actions) - 1; i >= 0; i-- {
		action := l.actions[i]
		if action.InstanceID == instanceID && action.Collection == collection {
			return action.ChainHash, nil
		}
	}
	return "", nil
}
