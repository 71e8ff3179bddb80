package backup_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/clearchain/policy-engine/common/clients"
	"github.com/clearchain/policy-engine/common/config"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/backup"
	"github.com/clearchain/policy-engine/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCollection is a test collection with explicit rows and delete markers
type fakeCollection struct {
	name        string
	mode        backup.RestoreMode
	rows        map[string][]byte
	order       []string
	deleted     []string
	externalize bool

	restored map[string][]byte
	cleared  int
}

func newFakeCollection(name string) *fakeCollection {
	return &fakeCollection{
		name:     name,
		rows:     make(map[string][]byte),
		restored: make(map[string][]byte),
	}
}

func (f *fakeCollection) put(rowID string, payload []byte) {
	if _, exists := f.rows[rowID]; !exists {
		f.order = append(f.order, rowID)
	}
	f.rows[rowID] = payload
}

func (f *fakeCollection) remove(rowID string) {
	delete(f.rows, rowID)
	for i, id := range f.order {
		if id == rowID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.deleted = append(f.deleted, rowID)
}

func (f *fakeCollection) Collection() string { return f.name }

func (f *fakeCollection) FindAllRows(ctx context.Context, instanceID uuid.UUID) ([]backup.Row, error) {
	rows := make([]backup.Row, 0, len(f.order))
	for _, id := range f.order {
		rows = append(rows, backup.Row{ID: id, Payload: f.rows[id]})
	}
	return rows, nil
}

func (f *fakeCollection) FindDeletedRowMarkers(ctx context.Context, instanceID uuid.UUID) ([]string, error) {
	return f.deleted, nil
}

func (f *fakeCollection) StructuralHash(row backup.Row) string {
	return backup.HashBytes([]byte(row.ID))
}

func (f *fakeCollection) ContentHash(row backup.Row) string {
	return backup.HashBytes(row.Payload)
}

func (f *fakeCollection) NeedsExternalization(row backup.Row) bool { return f.externalize }

func (f *fakeCollection) RestoreMode() backup.RestoreMode { return f.mode }

func (f *fakeCollection) ClearCollection(ctx context.Context, instanceID uuid.UUID) error {
	f.cleared++
	f.restored = make(map[string][]byte)
	return nil
}

func (f *fakeCollection) InsertOrUpdate(ctx context.Context, instanceID uuid.UUID, restoreKey string, payload []byte) error {
	f.restored[restoreKey] = payload
	return nil
}

func (f *fakeCollection) DeleteRow(ctx context.Context, instanceID uuid.UUID, restoreKey string) error {
	delete(f.restored, restoreKey)
	return nil
}

type fixture struct {
	engine     *backup.Engine
	collection *fakeCollection
	logStore   *store.MemoryDiffLog
	blob       *clients.MemoryBlobClient
	instanceID uuid.UUID
}

func newFixture(t *testing.T, threshold int) *fixture {
	t.Helper()
	if threshold == 0 {
		threshold = 1 << 16
	}

	collection := newFakeCollection("documents")
	logStore := store.NewMemoryDiffLog()
	blob := clients.NewMemoryBlobClient()
	engine := backup.NewEngine(store.NewMemorySnapshotStore(), logStore, blob,
		&config.EngineConfig{ExternalizeThreshold: threshold}, logger.New("error", "json"))
	engine.RegisterAdapter(collection)

	return &fixture{
		engine:     engine,
		collection: collection,
		logStore:   logStore,
		blob:       blob,
		instanceID: uuid.New(),
	}
}

func (f *fixture) cycle(t *testing.T) backup.CollectionReport {
	t.Helper()
	report, err := f.engine.RunCycle(context.Background(), f.instanceID)
	require.NoError(t, err)
	require.Len(t, report.Collections, 1)
	return report.Collections[0]
}

func (f *fixture) actions(t *testing.T) []models.DiffAction {
	t.Helper()
	actions, err := f.logStore.List(context.Background(), f.instanceID, "documents")
	require.NoError(t, err)
	return actions
}

func TestRunCycleRecordsInserts(t *testing.T) {
	f := newFixture(t, 0)
	f.collection.put("r1", []byte(`{"v":1}`))
	f.collection.put("r2", []byte(`{"v":2}`))

	report := f.cycle(t)
	assert.Equal(t, 2, report.Inserts)
	assert.Equal(t, 0, report.Updates)
	assert.Empty(t, report.Failures)

	actions := f.actions(t)
	require.Len(t, actions, 2)
	assert.Equal(t, models.DiffInsert, actions[0].Type)
	assert.Equal(t, "r1", actions[0].RowID)
	assert.NoError(t, backup.VerifyChain(actions))

	var envelope models.RowEnvelope
	require.NoError(t, json.Unmarshal(actions[0].Payload, &envelope))
	assert.Equal(t, backup.RestoreKey(f.instanceID, "documents", "r1"), envelope.RestoreKey)
	inlined, err := base64.StdEncoding.DecodeString(envelope.Document)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(inlined))
	assert.Empty(t, envelope.BlobRef)
}

func TestRunCycleIsIncremental(t *testing.T) {
	f := newFixture(t, 0)
	f.collection.put("r1", []byte(`{"v":1}`))

	f.cycle(t)

	// unchanged rows produce no actions
	report := f.cycle(t)
	assert.Equal(t, 0, report.Inserts+report.Updates+report.Deletes)
	assert.Len(t, f.actions(t), 1)

	// content change produces exactly one update
	f.collection.put("r1", []byte(`{"v":2}`))
	report = f.cycle(t)
	assert.Equal(t, 1, report.Updates)

	actions := f.actions(t)
	require.Len(t, actions, 2)
	assert.Equal(t, models.DiffUpdate, actions[1].Type)
	assert.NoError(t, backup.VerifyChain(actions))
}

func TestRunCycleRecordsDeletes(t *testing.T) {
	f := newFixture(t, 0)
	f.collection.put("r1", []byte(`{"v":1}`))
	f.cycle(t)

	f.collection.remove("r1")
	report := f.cycle(t)
	assert.Equal(t, 1, report.Deletes)

	actions := f.actions(t)
	require.Len(t, actions, 2)
	assert.Equal(t, models.DiffDelete, actions[1].Type)
	assert.NotNil(t, actions[1].Payload, "delete actions still carry the restore-key envelope")
	assert.NoError(t, backup.VerifyChain(actions))

	// the marker was already consumed; the row never re-deletes
	report = f.cycle(t)
	assert.Equal(t, 0, report.Deletes)
	assert.Len(t, f.actions(t), 2)
}

func TestRunCycleExternalizesLargePayloads(t *testing.T) {
	f := newFixture(t, 8)
	f.collection.put("big", []byte(`{"blob":"0123456789abcdef"}`))

	f.cycle(t)

	actions := f.actions(t)
	require.Len(t, actions, 1)

	var envelope models.RowEnvelope
	require.NoError(t, json.Unmarshal(actions[0].Payload, &envelope))
	assert.Empty(t, envelope.Document)
	require.NotEmpty(t, envelope.BlobRef)

	stored, err := f.blob.Get(context.Background(), envelope.BlobRef)
	require.NoError(t, err)
	assert.Equal(t, `{"blob":"0123456789abcdef"}`, string(stored))
}

func TestRunCycleExternalizesOnAdapterRequest(t *testing.T) {
	f := newFixture(t, 0)
	f.collection.externalize = true
	f.collection.put("r1", []byte(`{"v":1}`))

	f.cycle(t)

	var envelope models.RowEnvelope
	require.NoError(t, json.Unmarshal(f.actions(t)[0].Payload, &envelope))
	assert.NotEmpty(t, envelope.BlobRef)
}

func TestChainSpansCycles(t *testing.T) {
	f := newFixture(t, 0)

	f.collection.put("r1", []byte(`{"v":1}`))
	f.cycle(t)
	f.collection.put("r2", []byte(`{"v":2}`))
	f.cycle(t)
	f.collection.put("r1", []byte(`{"v":3}`))
	f.collection.remove("r2")
	f.cycle(t)

	actions := f.actions(t)
	require.Len(t, actions, 4)
	assert.NoError(t, backup.VerifyChain(actions))

	// seqs are strictly increasing
	for i := 1; i < len(actions); i++ {
		assert.Greater(t, actions[i].Seq, actions[i-1].Seq)
	}
}

func TestAdapterLookup(t *testing.T) {
	f := newFixture(t, 0)

	adapter, found := f.engine.Adapter("documents")
	require.True(t, found)
	assert.Equal(t, "documents", adapter.Collection())

	_, found = f.engine.Adapter("ghosts")
	assert.False(t, found)
}

func TestInstancesAreIsolated(t *testing.T) {
	f := newFixture(t, 0)
	f.collection.put("r1", []byte(`{"v":1}`))

	otherInstance := uuid.New()
	_, err := f.engine.RunCycle(context.Background(), f.instanceID)
	require.NoError(t, err)

	actions, err := f.logStore.List(context.Background(), otherInstance, "documents")
	require.NoError(t, err)
	assert.Empty(t, actions)
}
