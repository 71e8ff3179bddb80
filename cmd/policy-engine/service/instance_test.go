package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/clearchain/policy-engine/cmd/policy-engine/service"
	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishStartsLiveInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	instanceID, err := f.instances.Publish(ctx, []byte(policyTreeJSON))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, instanceID)

	assert.True(t, f.instances.Exists(instanceID))
	assert.Equal(t, []uuid.UUID{instanceID}, f.instances.ActiveInstances())
}

func TestPublishRejectsInvalidDefinition(t *testing.T) {
	f := newFixture(t)

	// missing schema_ref and an unregistered schema on the same tree
	_, err := f.instances.Publish(context.Background(), []byte(`{
		"block_type": "policyContainer",
		"children": [
			{"block_type": "requestDocumentBlock", "tag": "request"},
			{"block_type": "requestDocumentBlock", "tag": "other",
			 "options": {"schema_ref": "schema/unknown"}}
		]
	}`))
	require.Error(t, err)

	var verr *enginerrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Reports, 2)
	assert.Empty(t, f.instances.ActiveInstances())
}

func TestPublishRejectsMalformedJSON(t *testing.T) {
	f := newFixture(t)

	_, err := f.instances.Publish(context.Background(), []byte(`{"block_type":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse definition")
}

func TestValidateReportsWithoutPublishing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reports, err := f.instances.Validate(ctx, []byte(policyTreeJSON))
	require.NoError(t, err)
	assert.Empty(t, reports)

	reports, err = f.instances.Validate(ctx, []byte(`{
		"block_type": "policyContainer",
		"children": [
			{"block_type": "requestDocumentBlock", "tag": "request"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Errors, "schema_ref option is required")
	assert.Empty(t, f.instances.ActiveInstances())
}

func TestRegisterSchemaGatesValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	definition := []byte(`{
		"block_type": "policyContainer",
		"children": [
			{"block_type": "requestDocumentBlock", "tag": "request",
			 "options": {"schema_ref": "schema/health-v2"}}
		]
	}`)

	reports, err := f.instances.Validate(ctx, definition)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	f.instances.RegisterSchema("schema/health-v2")

	reports, err = f.instances.Validate(ctx, definition)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestEmitRoutesIntoInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	instanceID, err := f.instances.Publish(ctx, []byte(policyTreeJSON))
	require.NoError(t, err)

	tree, err := f.instances.Tree(ctx, instanceID)
	require.NoError(t, err)

	alice := block.User{ID: "did:user:alice"}
	err = f.instances.Emit(ctx, instanceID, alice, tree.Root().ID, models.EventRunBlock, map[string]interface{}{
		"document": map[string]interface{}{"coverage": 5000.0},
	})
	require.NoError(t, err)

	list, err := f.docStore.ListByInstance(ctx, instanceID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "did:user:alice", list[0].Owner)
	assert.Equal(t, models.StatusNew, list[0].Status)
}

func TestEmitUnknownInstance(t *testing.T) {
	f := newFixture(t)

	err := f.instances.Emit(context.Background(), uuid.New(), block.User{ID: "alice"}, uuid.New(), models.EventRunBlock, nil)
	assert.ErrorIs(t, err, service.ErrInstanceNotFound)
}

func TestTreeServedFromCacheAfterPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	instanceID, err := f.instances.Publish(ctx, []byte(policyTreeJSON))
	require.NoError(t, err)

	first, err := f.instances.Tree(ctx, instanceID)
	require.NoError(t, err)
	second, err := f.instances.Tree(ctx, instanceID)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = f.instances.Tree(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrInstanceNotFound)
}

func TestArchiveStopsInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	instanceID, err := f.instances.Publish(ctx, []byte(policyTreeJSON))
	require.NoError(t, err)

	tree, err := f.instances.Tree(ctx, instanceID)
	require.NoError(t, err)
	alice := block.User{ID: "did:user:alice"}
	require.NoError(t, f.instances.Emit(ctx, instanceID, alice, tree.Root().ID, models.EventRunBlock, map[string]interface{}{
		"document": map[string]interface{}{"coverage": 1.0},
	}))

	require.NoError(t, f.instances.Archive(ctx, instanceID))

	assert.False(t, f.instances.Exists(instanceID))
	assert.ErrorIs(t, f.instances.Archive(ctx, instanceID), service.ErrInstanceNotFound)

	err = f.instances.Emit(ctx, instanceID, alice, tree.Root().ID, models.EventRunBlock, nil)
	assert.ErrorIs(t, err, service.ErrInstanceNotFound)

	_, err = f.instances.Tree(ctx, instanceID)
	assert.ErrorIs(t, err, service.ErrInstanceNotFound)

	states, err := f.state.ListByInstance(ctx, instanceID)
	require.NoError(t, err)
	assert.Empty(t, states)
}
