package exec_test

import (
	"context"
	"errors"
	"testing"

	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/exec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stepTreeJSON = `{
	"block_type": "steps", "tag": "wizard",
	"children": [
		{"block_type": "leaf", "tag": "intro"},
		{"block_type": "leaf", "tag": "details"},
		{"block_type": "leaf", "tag": "confirm"}
	]
}`

func TestStepIndexDefaultsToZero(t *testing.T) {
	rec := &recorder{}
	engine, tree, _ := buildEngine(t, rec, stepTreeJSON, exec.Options{})

	index, err := engine.StepIndex(context.Background(), user("alice"), tree.Root().ID)
	require.NoError(t, err)
	assert.Equal(t, 0, index)
}

func TestChangeStepByTag(t *testing.T) {
	rec := &recorder{}
	engine, tree, _ := buildEngine(t, rec, stepTreeJSON, exec.Options{})
	ctx := context.Background()
	alice := user("alice")

	err := engine.ChangeStep(ctx, alice, tree.Root().ID, exec.StepTarget{Tag: "details"})
	require.NoError(t, err)

	index, err := engine.StepIndex(ctx, alice, tree.Root().ID)
	require.NoError(t, err)
	assert.Equal(t, 1, index)

	// the container saw the change and activated the new step
	assert.Equal(t, []string{
		"steps:StepChangedEvent",
		"details:RunEvent:alice",
	}, rec.snapshot())
}

func TestChangeStepByIndex(t *testing.T) {
	rec := &recorder{}
	engine, tree, _ := buildEngine(t, rec, stepTreeJSON, exec.Options{})
	ctx := context.Background()
	alice := user("alice")

	two := 2
	require.NoError(t, engine.ChangeStep(ctx, alice, tree.Root().ID, exec.StepTarget{Index: &two}))

	index, err := engine.StepIndex(ctx, alice, tree.Root().ID)
	require.NoError(t, err)
	assert.Equal(t, 2, index)
}

func TestChangeStepIsPerUser(t *testing.T) {
	rec := &recorder{}
	engine, tree, _ := buildEngine(t, rec, stepTreeJSON, exec.Options{})
	ctx := context.Background()

	require.NoError(t, engine.ChangeStep(ctx, user("alice"), tree.Root().ID, exec.StepTarget{Tag: "confirm"}))

	index, err := engine.StepIndex(ctx, user("bob"), tree.Root().ID)
	require.NoError(t, err)
	assert.Equal(t, 0, index)
}

func TestChangeStepInvalidTargetLeavesCursor(t *testing.T) {
	rec := &recorder{}
	engine, tree, _ := buildEngine(t, rec, stepTreeJSON, exec.Options{})
	ctx := context.Background()
	alice := user("alice")

	require.NoError(t, engine.ChangeStep(ctx, alice, tree.Root().ID, exec.StepTarget{Tag: "details"}))

	err := engine.ChangeStep(ctx, alice, tree.Root().ID, exec.StepTarget{Tag: "ghost"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, enginerrors.ErrInvalidStepTarget))

	nine := 9
	err = engine.ChangeStep(ctx, alice, tree.Root().ID, exec.StepTarget{Index: &nine})
	require.Error(t, err)
	assert.True(t, errors.Is(err, enginerrors.ErrInvalidStepTarget))

	index, err := engine.StepIndex(ctx, alice, tree.Root().ID)
	require.NoError(t, err)
	assert.Equal(t, 1, index)
}

func TestChangeStepOnNonStepBlock(t *testing.T) {
	rec := &recorder{}
	engine, tree, _ := buildEngine(t, rec, `{"block_type": "leaf"}`, exec.Options{})

	// a leaf has no children, so any target is invalid
	err := engine.ChangeStep(context.Background(), user("alice"), tree.Root().ID, exec.StepTarget{Tag: "anything"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, enginerrors.ErrInvalidStepTarget))
}

func TestEmitStepChangedDirectly(t *testing.T) {
	rec := &recorder{}
	engine, tree, _ := buildEngine(t, rec, stepTreeJSON, exec.Options{})

	// leaf blocks do not accept StepChangedEvent
	leaf, found := tree.ChildByWireTarget(tree.Root(), "intro")
	require.True(t, found)

	err := engine.Emit(context.Background(), user("alice"), leaf.ID, models.EventStepChanged, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, enginerrors.ErrUnsupportedEvent))
}
