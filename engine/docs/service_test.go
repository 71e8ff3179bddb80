package docs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/docs"
	"github.com/clearchain/policy-engine/engine/expr"
	"github.com/clearchain/policy-engine/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() *docs.Service {
	return docs.NewService(store.NewMemoryDocumentStore(), expr.NewEvaluator(), logger.New("error", "json"))
}

func TestCreateStartsAsNew(t *testing.T) {
	svc := newService()
	instanceID := uuid.New()

	doc, err := svc.Create(context.Background(), instanceID, "did:user:alice", "schema/policy-v1", map[string]interface{}{"amount": 100.0})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, doc.ID)
	assert.Equal(t, models.StatusNew, doc.Status)
	assert.Equal(t, instanceID, doc.InstanceID)
	assert.Equal(t, "did:user:alice", doc.Owner)
}

func TestTransitionHappyPath(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, uuid.New(), "did:user:alice", "schema/policy-v1", nil)
	require.NoError(t, err)

	for _, next := range []models.DocumentStatus{
		models.StatusIssue,
		models.StatusSuspend,
		models.StatusResume,
		models.StatusIssue,
	} {
		doc, err = svc.Transition(ctx, doc.ID, next)
		require.NoError(t, err)
		assert.Equal(t, next, doc.Status)
	}

	doc, err = svc.Transition(ctx, doc.ID, models.StatusRevoke)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoke, doc.Status)
}

func TestTransitionRejectedLeavesDocumentUntouched(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, uuid.New(), "did:user:alice", "schema/policy-v1", nil)
	require.NoError(t, err)

	_, err = svc.Transition(ctx, doc.ID, models.StatusRevoke)
	require.Error(t, err)
	assert.True(t, errors.Is(err, enginerrors.ErrInvalidStatusTransition))

	stored, err := svc.Store().Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, stored.Status)
}

func TestAddRelationshipDeduplicates(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, uuid.New(), "did:user:alice", "schema/policy-v1", nil)
	require.NoError(t, err)

	doc, err = svc.AddRelationship(ctx, doc.ID, "msg-001")
	require.NoError(t, err)
	doc, err = svc.AddRelationship(ctx, doc.ID, "msg-002")
	require.NoError(t, err)
	doc, err = svc.AddRelationship(ctx, doc.ID, "msg-001")
	require.NoError(t, err)

	assert.Equal(t, []string{"msg-001", "msg-002"}, doc.Relationships)
}

func TestPatchPayloadMerges(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, uuid.New(), "did:user:alice", "schema/policy-v1", map[string]interface{}{
		"amount": 100.0,
		"holder": map[string]interface{}{"name": "Alice", "country": "NL"},
	})
	require.NoError(t, err)

	patched, err := svc.PatchPayload(ctx, doc.ID, json.RawMessage(`{"amount": 250, "holder": {"country": "DE"}}`))
	require.NoError(t, err)

	assert.Equal(t, 250.0, patched.Payload["amount"])
	holder := patched.Payload["holder"].(map[string]interface{})
	assert.Equal(t, "Alice", holder["name"])
	assert.Equal(t, "DE", holder["country"])
}

func TestPage(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	instanceID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		doc, err := svc.Create(ctx, instanceID, "did:user:alice", "schema/policy-v1", nil)
		require.NoError(t, err)
		ids = append(ids, doc.ID)
	}
	_, err := svc.Create(ctx, instanceID, "did:user:bob", "schema/policy-v1", nil)
	require.NoError(t, err)

	// size < 1 returns the full slice
	all, total, err := svc.Page(ctx, instanceID, "did:user:alice", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, all, 5)

	page, total, err := svc.Page(ctx, instanceID, "did:user:alice", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	// last partial page
	page, _, err = svc.Page(ctx, instanceID, "did:user:alice", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[4], page[0].ID)

	// beyond the end
	page, total, err = svc.Page(ctx, instanceID, "did:user:alice", 9, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, page)
}

func TestCalculate(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	instanceID := uuid.New()

	good, err := svc.Create(ctx, instanceID, "did:user:alice", "schema/policy-v1", map[string]interface{}{
		"coverage": map[string]interface{}{"amount": 1000.0},
	})
	require.NoError(t, err)

	// missing field binds nil, so this document degrades to the sentinel
	bad, err := svc.Create(ctx, instanceID, "did:user:alice", "schema/policy-v1", map[string]interface{}{})
	require.NoError(t, err)

	list, _, err := svc.Page(ctx, instanceID, "did:user:alice", 0, 0)
	require.NoError(t, err)

	results := svc.Calculate(list, "amount * 2.0", []models.DeclaredVariable{
		{Path: "coverage.amount", Alias: "amount", Type: "number"},
	})
	require.Len(t, results, 2)

	byID := make(map[uuid.UUID]interface{}, len(results))
	for _, r := range results {
		byID[r.DocumentID] = r.Value
	}
	assert.Equal(t, 2000.0, byID[good.ID])
	assert.Equal(t, expr.ErrValue, byID[bad.ID])
}
