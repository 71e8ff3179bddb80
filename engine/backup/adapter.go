package backup

import (
	"context"

	"github.com/clearchain/policy-engine/common/models"
	"github.com/google/uuid"
)

// RestoreMode decides how a collection is rebuilt from a diff log
type RestoreMode int

const (
	// RestoreRebuild clears the collection before replaying the log
	RestoreRebuild RestoreMode = iota

	// RestoreIncremental applies the log onto the existing collection
	RestoreIncremental
)

// Row is one instance-scoped row as seen by the diff engine: an identity
// plus the serialized payload the adapter would restore it from.
type Row struct {
	ID      string
	Payload []byte
}

// CollectionAdapter plugs one instance-scoped collection type into the
// backup and restore engines. StructuralHash covers stable identity
// fields; ContentHash covers the mutable payload. Both are refreshed per
// cycle and drive change detection and chain hashing.
type CollectionAdapter interface {
	Collection() string

	FindAllRows(ctx context.Context, instanceID uuid.UUID) ([]Row, error)
	FindDeletedRowMarkers(ctx context.Context, instanceID uuid.UUID) ([]string, error)

	StructuralHash(row Row) string
	ContentHash(row Row) string

	// NeedsExternalization reports whether the row's payload should move
	// to blob storage instead of being inlined in the diff action
	NeedsExternalization(row Row) bool

	// RestoreMode is this collection's explicit rebuild-vs-incremental
	// choice
	RestoreMode() RestoreMode

	ClearCollection(ctx context.Context, instanceID uuid.UUID) error
	InsertOrUpdate(ctx context.Context, instanceID uuid.UUID, restoreKey string, payload []byte) error
	DeleteRow(ctx context.Context, instanceID uuid.UUID, restoreKey string) error
}

// SnapshotStore persists the last recorded hash pair per row between
// backup cycles.
type SnapshotStore interface {
	List(ctx context.Context, instanceID uuid.UUID, collection string) ([]models.SnapshotRow, error)
	Put(ctx context.Context, row *models.SnapshotRow) error
	Delete(ctx context.Context, instanceID uuid.UUID, collection, rowID string) error
}

// LogStore is the append-only diff action log, one chain per (instance,
// collection). Appends must preserve arrival order.
type LogStore interface {
	Append(ctx context.Context, action *models.DiffAction) error
	List(ctx context.Context, instanceID uuid.UUID, collection string) ([]models.DiffAction, error)
	Head(ctx context.Context, instanceID uuid.UUID, collection string) (string, error)
}
