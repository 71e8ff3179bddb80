package store

import (
	"context"
	"testing"

	"github.com/clearchain/policy-engine/common/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDocumentStore(t *testing.T) {
	s := NewMemoryDocumentStore()
	ctx := context.Background()
	instanceID := uuid.New()

	doc := &models.PolicyDocument{
		ID:         uuid.New(),
		InstanceID: instanceID,
		Owner:      "did:user:alice",
		SchemaRef:  "schema/policy-v1",
		Status:     models.StatusNew,
		Payload:    map[string]interface{}{"v": 1.0},
	}
	require.NoError(t, s.Insert(ctx, doc))
	assert.Error(t, s.Insert(ctx, doc), "double insert must fail")

	got, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Owner, got.Owner)

	// stores hand out copies, not aliases
	got.Payload["v"] = 2.0
	again, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Payload["v"])

	doc.Status = models.StatusIssue
	require.NoError(t, s.Update(ctx, doc))
	got, err = s.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIssue, got.Status)

	missing := &models.PolicyDocument{ID: uuid.New()}
	assert.Error(t, s.Update(ctx, missing))
	_, err = s.Get(ctx, missing.ID)
	assert.Error(t, err)
}

func TestMemoryDocumentStoreListsInInsertionOrder(t *testing.T) {
	s := NewMemoryDocumentStore()
	ctx := context.Background()
	instanceID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		doc := &models.PolicyDocument{ID: uuid.New(), InstanceID: instanceID, Owner: "did:user:alice"}
		require.NoError(t, s.Insert(ctx, doc))
		ids = append(ids, doc.ID)
	}
	other := &models.PolicyDocument{ID: uuid.New(), InstanceID: instanceID, Owner: "did:user:bob"}
	require.NoError(t, s.Insert(ctx, other))

	list, err := s.ListByInstance(ctx, instanceID)
	require.NoError(t, err)
	require.Len(t, list, 4)
	for i, id := range ids {
		assert.Equal(t, id, list[i].ID)
	}

	owned, err := s.ListByOwner(ctx, instanceID, "did:user:alice")
	require.NoError(t, err)
	require.Len(t, owned, 3)

	foreign, err := s.ListByInstance(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, foreign)
}

func TestMemoryDocumentStoreDelete(t *testing.T) {
	s := NewMemoryDocumentStore()
	ctx := context.Background()
	instanceID := uuid.New()

	doc := &models.PolicyDocument{ID: uuid.New(), InstanceID: instanceID}
	require.NoError(t, s.Insert(ctx, doc))
	require.NoError(t, s.Delete(ctx, doc.ID))
	_, err := s.Get(ctx, doc.ID)
	assert.Error(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Insert(ctx, &models.PolicyDocument{ID: uuid.New(), InstanceID: instanceID}))
	}
	require.NoError(t, s.DeleteByInstance(ctx, instanceID))
	list, err := s.ListByInstance(ctx, instanceID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryStateStore(t *testing.T) {
	s := NewMemoryStateStore()
	ctx := context.Background()
	instanceID := uuid.New()
	blockID := uuid.New()

	data, err := s.Get(ctx, instanceID, "alice", blockID)
	require.NoError(t, err)
	assert.Nil(t, data, "absent state reads as nil, not an error")

	require.NoError(t, s.Put(ctx, instanceID, "alice", blockID, []byte(`{"n":1}`)))
	require.NoError(t, s.Put(ctx, instanceID, "bob", blockID, []byte(`{"n":2}`)))

	data, err = s.Get(ctx, instanceID, "alice", blockID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(data))

	blobs, err := s.ListByInstance(ctx, instanceID)
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.Equal(t, "alice", blobs[0].UserID)
	assert.Equal(t, "bob", blobs[1].UserID)

	require.NoError(t, s.DeleteInstance(ctx, instanceID))
	blobs, err = s.ListByInstance(ctx, instanceID)
	require.NoError(t, err)
	assert.Empty(t, blobs)
}

func TestMemorySnapshotStore(t *testing.T) {
	s := NewMemorySnapshotStore()
	ctx := context.Background()
	instanceID := uuid.New()

	require.NoError(t, s.Put(ctx, &models.SnapshotRow{
		InstanceID: instanceID, Collection: "documents", RowID: "r1",
		StructuralHash: "s1", ContentHash: "c1",
	}))

	// upsert replaces hashes in place
	require.NoError(t, s.Put(ctx, &models.SnapshotRow{
		InstanceID: instanceID, Collection: "documents", RowID: "r1",
		StructuralHash: "s1", ContentHash: "c2",
	}))

	rows, err := s.List(ctx, instanceID, "documents")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c2", rows[0].ContentHash)

	require.NoError(t, s.Delete(ctx, instanceID, "documents", "r1"))
	rows, err = s.List(ctx, instanceID, "documents")
	require.NoError(t, err)
	assert.Empty(t, rows)

	// deleting an absent row is a no-op
	assert.NoError(t, s.Delete(ctx, instanceID, "documents", "ghost"))
}

func TestMemoryDiffLog(t *testing.T) {
	l := NewMemoryDiffLog()
	ctx := context.Background()
	instanceID := uuid.New()

	head, err := l.Head(ctx, instanceID, "documents")
	require.NoError(t, err)
	assert.Equal(t, "", head, "the empty chain's head is the genesis value")

	for i, hash := range []string{"h1", "h2", "h3"} {
		action := &models.DiffAction{
			InstanceID: instanceID,
			Collection: "documents",
			Type:       models.DiffInsert,
			RowID:      "r1",
			ChainHash:  hash,
		}
		require.NoError(t, l.Append(ctx, action))
		assert.Equal(t, int64(i+1), action.Seq, "append assigns the sequence")
		assert.False(t, action.CreatedAt.IsZero())
	}

	actions, err := l.List(ctx, instanceID, "documents")
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "h1", actions[0].ChainHash)

	head, err = l.Head(ctx, instanceID, "documents")
	require.NoError(t, err)
	assert.Equal(t, "h3", head)

	// other chains are untouched
	head, err = l.Head(ctx, instanceID, "block_states")
	require.NoError(t, err)
	assert.Equal(t, "", head)
	actions, err = l.List(ctx, uuid.New(), "documents")
	require.NoError(t, err)
	assert.Empty(t, actions)
}
