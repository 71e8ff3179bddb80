package store

import (
	"context"
	"testing"

	"github.com/clearchain/policy-engine/common/clients"
	"github.com/clearchain/policy-engine/common/config"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/backup"
	"github.com/clearchain/policy-engine/engine/restore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackupEngine(snapshots backup.SnapshotStore, log backup.LogStore) *backup.Engine {
	return backup.NewEngine(snapshots, log, clients.NewMemoryBlobClient(),
		&config.EngineConfig{ExternalizeThreshold: 1 << 16}, logger.New("error", "json"))
}

func TestDocumentAdapterBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	instanceID := uuid.New()

	source := NewMemoryDocumentStore()
	doc := &models.PolicyDocument{
		ID:            uuid.New(),
		InstanceID:    instanceID,
		Owner:         "did:user:alice",
		SchemaRef:     "schema/policy-v1",
		Status:        models.StatusIssue,
		Relationships: []string{"topic/policies/1"},
		Payload:       map[string]interface{}{"coverage": 5000.0},
	}
	require.NoError(t, source.Insert(ctx, doc))

	logStore := NewMemoryDiffLog()
	engine := newBackupEngine(NewMemorySnapshotStore(), logStore)
	engine.RegisterAdapter(NewDocumentAdapter(source, backup.RestoreRebuild))

	_, err := engine.RunCycle(ctx, instanceID)
	require.NoError(t, err)

	actions, err := logStore.List(ctx, instanceID, CollectionDocuments)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.NoError(t, backup.VerifyChain(actions))

	// replay into an empty store
	target := NewMemoryDocumentStore()
	restorer := restore.NewEngine(clients.NewMemoryBlobClient(), clients.NewMemoryKeyCustody(), logger.New("error", "json"))

	report, err := restorer.Restore(ctx, instanceID, NewDocumentAdapter(target, backup.RestoreRebuild), actions)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	restored, err := target.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Owner, restored.Owner)
	assert.Equal(t, doc.Status, restored.Status)
	assert.Equal(t, doc.Relationships, restored.Relationships)
	assert.Equal(t, doc.Payload, restored.Payload)
}

func TestDocumentAdapterHashesSplitIdentityAndContent(t *testing.T) {
	ctx := context.Background()
	instanceID := uuid.New()

	storage := NewMemoryDocumentStore()
	doc := &models.PolicyDocument{
		ID:         uuid.New(),
		InstanceID: instanceID,
		Owner:      "did:user:alice",
		SchemaRef:  "schema/policy-v1",
		Status:     models.StatusNew,
	}
	require.NoError(t, storage.Insert(ctx, doc))

	adapter := NewDocumentAdapter(storage, backup.RestoreRebuild)
	rows, err := adapter.FindAllRows(ctx, instanceID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	structural := adapter.StructuralHash(rows[0])
	content := adapter.ContentHash(rows[0])

	// a status change moves only the content hash
	doc.Status = models.StatusIssue
	require.NoError(t, storage.Update(ctx, doc))
	rows, err = adapter.FindAllRows(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, structural, adapter.StructuralHash(rows[0]))
	assert.NotEqual(t, content, adapter.ContentHash(rows[0]))
}

func TestDocumentAdapterDeleteRowByRestoreKey(t *testing.T) {
	ctx := context.Background()
	instanceID := uuid.New()

	storage := NewMemoryDocumentStore()
	doc := &models.PolicyDocument{ID: uuid.New(), InstanceID: instanceID}
	require.NoError(t, storage.Insert(ctx, doc))

	adapter := NewDocumentAdapter(storage, backup.RestoreRebuild)
	key := backup.RestoreKey(instanceID, CollectionDocuments, doc.ID.String())

	require.NoError(t, adapter.DeleteRow(ctx, instanceID, key))
	_, err := storage.Get(ctx, doc.ID)
	assert.Error(t, err)

	// replaying the delete is a no-op
	assert.NoError(t, adapter.DeleteRow(ctx, instanceID, key))
}

func TestStateAdapterBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	instanceID := uuid.New()
	blockID := uuid.New()

	source := NewMemoryStateStore()
	require.NoError(t, source.Put(ctx, instanceID, "did:user:alice", blockID, []byte(`{"current_child_index":2}`)))

	logStore := NewMemoryDiffLog()
	engine := newBackupEngine(NewMemorySnapshotStore(), logStore)
	engine.RegisterAdapter(NewStateAdapter(source, backup.RestoreRebuild))

	_, err := engine.RunCycle(ctx, instanceID)
	require.NoError(t, err)

	actions, err := logStore.List(ctx, instanceID, CollectionStates)
	require.NoError(t, err)
	require.Len(t, actions, 1)

	target := NewMemoryStateStore()
	restorer := restore.NewEngine(clients.NewMemoryBlobClient(), clients.NewMemoryKeyCustody(), logger.New("error", "json"))

	report, err := restorer.Restore(ctx, instanceID, NewStateAdapter(target, backup.RestoreRebuild), actions)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	data, err := target.Get(ctx, instanceID, "did:user:alice", blockID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"current_child_index":2}`, string(data))
}

func TestStateAdapterDeleteRowBlanksState(t *testing.T) {
	ctx := context.Background()
	instanceID := uuid.New()
	blockID := uuid.New()

	storage := NewMemoryStateStore()
	require.NoError(t, storage.Put(ctx, instanceID, "did:user:alice", blockID, []byte(`{"n":1}`)))

	adapter := NewStateAdapter(storage, backup.RestoreRebuild)
	key := backup.RestoreKey(instanceID, CollectionStates, "did:user:alice/"+blockID.String())

	require.NoError(t, adapter.DeleteRow(ctx, instanceID, key))

	data, err := storage.Get(ctx, instanceID, "did:user:alice", blockID)
	require.NoError(t, err)
	assert.Empty(t, data, "a blanked row reads back as unset")
}

func TestDocumentAdapterChangedDetectionAcrossCycles(t *testing.T) {
	ctx := context.Background()
	instanceID := uuid.New()

	storage := NewMemoryDocumentStore()
	doc := &models.PolicyDocument{ID: uuid.New(), InstanceID: instanceID, Status: models.StatusNew}
	require.NoError(t, storage.Insert(ctx, doc))

	logStore := NewMemoryDiffLog()
	engine := newBackupEngine(NewMemorySnapshotStore(), logStore)
	engine.RegisterAdapter(NewDocumentAdapter(storage, backup.RestoreRebuild))

	_, err := engine.RunCycle(ctx, instanceID)
	require.NoError(t, err)
	_, err = engine.RunCycle(ctx, instanceID)
	require.NoError(t, err)

	actions, err := logStore.List(ctx, instanceID, CollectionDocuments)
	require.NoError(t, err)
	assert.Len(t, actions, 1, "an unchanged document must not re-emit")

	doc.Status = models.StatusIssue
	require.NoError(t, storage.Update(ctx, doc))
	_, err = engine.RunCycle(ctx, instanceID)
	require.NoError(t, err)

	actions, err = logStore.List(ctx, instanceID, CollectionDocuments)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, models.DiffUpdate, actions[1].Type)
	assert.NoError(t, backup.VerifyChain(actions))
}
