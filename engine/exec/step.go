package exec

import (
	"context"
	"encoding/json"
	"fmt"

	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/clearchain/policy-engine/engine/blocktree"
	"github.com/google/uuid"
)

// stepChangedEvent marks a block type as a step container: accepting it in
// the descriptor is the capability probe used for error-policy redirects.
const stepChangedEvent = models.EventStepChanged

// StepTarget addresses a step-container child either by tag or by index.
// Exactly one of the two should be set.
type StepTarget struct {
	Tag   string
	Index *int
}

func (t StepTarget) String() string {
	if t.Index != nil {
		return fmt.Sprintf("index %d", *t.Index)
	}
	return fmt.Sprintf("tag %q", t.Tag)
}

// stepCursor is the persisted per-user state of a step container
type stepCursor struct {
	CurrentChildIndex int `json:"current_child_index"`
}

// ChangeStep moves a step container's per-user cursor to the addressed
// child. The move is serialized on the user's lane. Jumping to a
// non-existent child fails with InvalidStepTarget and leaves the cursor
// unchanged.
func (e *Engine) ChangeStep(ctx context.Context, user block.User, blockID uuid.UUID, target StepTarget) error {
	node, exists := e.tree.ByID(blockID)
	if !exists {
		return fmt.Errorf("block %s not found in instance %s", blockID, e.instanceID)
	}

	ln, err := e.lane(user.ID)
	if err != nil {
		return err
	}

	return ln.run(ctx, func(ctx context.Context) error {
		return e.changeStepLocked(ctx, user, node, target)
	})
}

// changeStepLocked performs the cursor move. Must run on the user's lane.
func (e *Engine) changeStepLocked(ctx context.Context, user block.User, node *blocktree.Node, target StepTarget) error {
	index, err := e.resolveStepTarget(node, target)
	if err != nil {
		return err
	}

	if err := e.putCursor(ctx, user, node.ID, index); err != nil {
		return err
	}

	e.log.Info("step changed",
		"block_id", node.ID, "user_id", user.ID, "index", index)

	// Let the container react to the move (activate the new child, refresh
	// UI state) through its normal handler path.
	if desc := e.descriptors[node.ID]; desc.AcceptsInput(stepChangedEvent) {
		return e.dispatch(ctx, user, node.ID, stepChangedEvent, map[string]interface{}{
			"index": index,
		})
	}
	return nil
}

// StepIndex returns a step container's per-user cursor, defaulting to 0
func (e *Engine) StepIndex(ctx context.Context, user block.User, blockID uuid.UUID) (int, error) {
	data, err := e.state.Get(ctx, e.instanceID, user.ID, blockID)
	if err != nil {
		return 0, fmt.Errorf("failed to read step cursor: %w", err)
	}
	if data == nil {
		return 0, nil
	}

	var cursor stepCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return 0, fmt.Errorf("failed to decode step cursor: %w", err)
	}
	return cursor.CurrentChildIndex, nil
}

func (e *Engine) resolveStepTarget(node *blocktree.Node, target StepTarget) (int, error) {
	if target.Index != nil {
		if *target.Index < 0 || *target.Index >= len(node.Children) {
			return 0, enginerrors.InvalidStepTarget(target.String())
		}
		return *target.Index, nil
	}

	index := e.tree.ChildIndexByTag(node, target.Tag)
	if index < 0 {
		return 0, enginerrors.InvalidStepTarget(target.String())
	}
	return index, nil
}

func (e *Engine) putCursor(ctx context.Context, user block.User, blockID uuid.UUID, index int) error {
	data, err := json.Marshal(stepCursor{CurrentChildIndex: index})
	if err != nil {
		return fmt.Errorf("failed to encode step cursor: %w", err)
	}
	if err := e.state.Put(ctx, e.instanceID, user.ID, blockID, data); err != nil {
		return fmt.Errorf("failed to persist step cursor: %w", err)
	}
	return nil
}
