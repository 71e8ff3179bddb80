package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/backup"
	"github.com/google/uuid"
)

// CollectionDocuments and CollectionStates name the two instance-scoped
// collections the diff engine tracks.
const (
	CollectionDocuments = "documents"
	CollectionStates    = "block_states"
)

// DocumentStorage is the document store surface the backup adapter needs
// on top of the read/write operations the document service uses.
type DocumentStorage interface {
	Insert(ctx context.Context, doc *models.PolicyDocument) error
	Update(ctx context.Context, doc *models.PolicyDocument) error
	Get(ctx context.Context, id uuid.UUID) (*models.PolicyDocument, error)
	ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*models.PolicyDocument, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByInstance(ctx context.Context, instanceID uuid.UUID) error
}

// DocumentAdapter exposes the document collection to the backup and
// restore engines. Documents are never hard-deleted by the live flow, so
// the adapter reports no deletion markers.
type DocumentAdapter struct {
	storage DocumentStorage
	mode    backup.RestoreMode
}

// NewDocumentAdapter wraps a document store. The restore mode is fixed at
// construction, not inferred per restore run.
func NewDocumentAdapter(storage DocumentStorage, mode backup.RestoreMode) *DocumentAdapter {
	return &DocumentAdapter{storage: storage, mode: mode}
}

func (a *DocumentAdapter) Collection() string { return CollectionDocuments }

func (a *DocumentAdapter) FindAllRows(ctx context.Context, instanceID uuid.UUID) ([]backup.Row, error) {
	docs, err := a.storage.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	rows := make([]backup.Row, 0, len(docs))
	for _, doc := range docs {
		payload, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("serializing document %s: %w", doc.ID, err)
		}
		rows = append(rows, backup.Row{ID: doc.ID.String(), Payload: payload})
	}
	return rows, nil
}

func (a *DocumentAdapter) FindDeletedRowMarkers(ctx context.Context, instanceID uuid.UUID) ([]string, error) {
	return nil, nil
}

// StructuralHash covers the identity fields that never change after
// creation
func (a *DocumentAdapter) StructuralHash(row backup.Row) string {
	var doc models.PolicyDocument
	if err := json.Unmarshal(row.Payload, &doc); err != nil {
		return backup.HashBytes(row.Payload)
	}
	identity := strings.Join([]string{
		doc.ID.String(),
		doc.InstanceID.String(),
		doc.Owner,
		doc.SchemaRef,
	}, "\x00")
	return backup.HashBytes([]byte(identity))
}

// ContentHash covers status, relationships, and payload, the parts the
// flow mutates
func (a *DocumentAdapter) ContentHash(row backup.Row) string {
	var doc models.PolicyDocument
	if err := json.Unmarshal(row.Payload, &doc); err != nil {
		return backup.HashBytes(row.Payload)
	}
	content, err := json.Marshal(struct {
		Status        models.DocumentStatus  `json:"status"`
		Relationships []string               `json:"relationships"`
		Payload       map[string]interface{} `json:"payload"`
	}{doc.Status, doc.Relationships, doc.Payload})
	if err != nil {
		return backup.HashBytes(row.Payload)
	}
	return backup.HashBytes(content)
}

func (a *DocumentAdapter) NeedsExternalization(row backup.Row) bool { return false }

func (a *DocumentAdapter) RestoreMode() backup.RestoreMode { return a.mode }

func (a *DocumentAdapter) ClearCollection(ctx context.Context, instanceID uuid.UUID) error {
	return a.storage.DeleteByInstance(ctx, instanceID)
}

// InsertOrUpdate converges to the payload's document regardless of how
// many times the same action is replayed
func (a *DocumentAdapter) InsertOrUpdate(ctx context.Context, instanceID uuid.UUID, restoreKey string, payload []byte) error {
	var doc models.PolicyDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decoding document payload: %w", err)
	}
	doc.InstanceID = instanceID

	if _, err := a.storage.Get(ctx, doc.ID); err != nil {
		return a.storage.Insert(ctx, &doc)
	}
	return a.storage.Update(ctx, &doc)
}

// DeleteRow resolves the restore key back to a live row by recomputing
// keys over the current collection. A key with no match is a no-op, which
// keeps replays idempotent.
func (a *DocumentAdapter) DeleteRow(ctx context.Context, instanceID uuid.UUID, restoreKey string) error {
	docs, err := a.storage.ListByInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	for _, doc := range docs {
		if backup.RestoreKey(instanceID, CollectionDocuments, doc.ID.String()) == restoreKey {
			return a.storage.Delete(ctx, doc.ID)
		}
	}
	return nil
}

// StateStorage is the execution-state surface the backup adapter needs,
// including per-row deletion which the execution engine itself never uses.
type StateStorage interface {
	Put(ctx context.Context, instanceID uuid.UUID, userID string, blockID uuid.UUID, data []byte) error
	ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]models.StateBlob, error)
	DeleteInstance(ctx context.Context, instanceID uuid.UUID) error
}

// StateAdapter exposes per-(user, block) execution state to the backup and
// restore engines. Row ids are "<userID>/<blockID>".
type StateAdapter struct {
	storage StateStorage
	mode    backup.RestoreMode
}

// NewStateAdapter wraps a state store
func NewStateAdapter(storage StateStorage, mode backup.RestoreMode) *StateAdapter {
	return &StateAdapter{storage: storage, mode: mode}
}

func (a *StateAdapter) Collection() string { return CollectionStates }

func (a *StateAdapter) FindAllRows(ctx context.Context, instanceID uuid.UUID) ([]backup.Row, error) {
	blobs, err := a.storage.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("listing block states: %w", err)
	}

	rows := make([]backup.Row, 0, len(blobs))
	for _, blob := range blobs {
		payload, err := json.Marshal(blob)
		if err != nil {
			return nil, fmt.Errorf("serializing state %s/%s: %w", blob.UserID, blob.BlockID, err)
		}
		rows = append(rows, backup.Row{
			ID:      stateRowID(blob.UserID, blob.BlockID),
			Payload: payload,
		})
	}
	return rows, nil
}

func (a *StateAdapter) FindDeletedRowMarkers(ctx context.Context, instanceID uuid.UUID) ([]string, error) {
	return nil, nil
}

func (a *StateAdapter) StructuralHash(row backup.Row) string {
	var blob models.StateBlob
	if err := json.Unmarshal(row.Payload, &blob); err != nil {
		return backup.HashBytes(row.Payload)
	}
	identity := strings.Join([]string{
		blob.InstanceID.String(),
		blob.UserID,
		blob.BlockID.String(),
	}, "\x00")
	return backup.HashBytes([]byte(identity))
}

func (a *StateAdapter) ContentHash(row backup.Row) string {
	var blob models.StateBlob
	if err := json.Unmarshal(row.Payload, &blob); err != nil {
		return backup.HashBytes(row.Payload)
	}
	return backup.HashBytes(blob.Data)
}

func (a *StateAdapter) NeedsExternalization(row backup.Row) bool { return false }

func (a *StateAdapter) RestoreMode() backup.RestoreMode { return a.mode }

func (a *StateAdapter) ClearCollection(ctx context.Context, instanceID uuid.UUID) error {
	return a.storage.DeleteInstance(ctx, instanceID)
}

func (a *StateAdapter) InsertOrUpdate(ctx context.Context, instanceID uuid.UUID, restoreKey string, payload []byte) error {
	var blob models.StateBlob
	if err := json.Unmarshal(payload, &blob); err != nil {
		return fmt.Errorf("decoding state payload: %w", err)
	}
	return a.storage.Put(ctx, instanceID, blob.UserID, blob.BlockID, blob.Data)
}

// DeleteRow writes an empty blob for the matching row. The state store has
// no per-row delete; a nil blob reads back as unset to block handlers.
func (a *StateAdapter) DeleteRow(ctx context.Context, instanceID uuid.UUID, restoreKey string) error {
	blobs, err := a.storage.ListByInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("listing block states: %w", err)
	}
	for _, blob := range blobs {
		rowID := stateRowID(blob.UserID, blob.BlockID)
		if backup.RestoreKey(instanceID, CollectionStates, rowID) == restoreKey {
			return a.storage.Put(ctx, instanceID, blob.UserID, blob.BlockID, nil)
		}
	}
	return nil
}

func stateRowID(userID string, blockID uuid.UUID) string {
	return userID + "/" + blockID.String()
}
