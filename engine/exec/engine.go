package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/clearchain/policy-engine/engine/blocktree"
	"github.com/clearchain/policy-engine/engine/registry"
	"github.com/google/uuid"
)

// StateStore persists per-(instance, user, block) mutable state. The block
// tree itself stays immutable; all runtime state lives here.
type StateStore interface {
	Get(ctx context.Context, instanceID uuid.UUID, userID string, blockID uuid.UUID) ([]byte, error)
	Put(ctx context.Context, instanceID uuid.UUID, userID string, blockID uuid.UUID, data []byte) error
	ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]models.StateBlob, error)
	DeleteInstance(ctx context.Context, instanceID uuid.UUID) error
}

// ErrorSink receives handler faults for external alerting. Notification
// happens before the configured error policy is applied.
type ErrorSink interface {
	NotifyFault(ctx context.Context, fault *enginerrors.HandlerFault)
}

// Engine executes one policy instance: it routes input events to block
// handlers, fans triggered output events out to children depth-first, and
// serializes all dispatches per (instance, user) lane.
type Engine struct {
	instanceID uuid.UUID
	tree       *blocktree.Tree
	reg        *registry.Registry
	state      StateStore
	sink       ErrorSink
	log        *logger.Logger

	// handlers are bound once at construction, already wrapped in the
	// recovery envelope; read-only afterwards
	handlers    map[uuid.UUID]block.Handler
	descriptors map[uuid.UUID]*models.BlockDescriptor

	laneMu    sync.Mutex
	lanes     map[string]*lane
	laneQueue int
	archived  bool
}

// Options tunes engine construction
type Options struct {
	// LaneQueueSize bounds each lane's pending-event queue
	LaneQueueSize int

	// Sink receives handler faults; nil disables external notification
	Sink ErrorSink
}

// New binds handlers for every node in the tree and returns a ready engine.
// Fails with UnknownBlockType if the tree references an unregistered type.
func New(instanceID uuid.UUID, tree *blocktree.Tree, reg *registry.Registry, deps *block.Deps, state StateStore, log *logger.Logger, opts Options) (*Engine, error) {
	if opts.LaneQueueSize < 1 {
		opts.LaneQueueSize = 256
	}

	e := &Engine{
		instanceID:  instanceID,
		tree:        tree,
		reg:         reg,
		state:       state,
		sink:        opts.Sink,
		log:         log.WithInstanceID(instanceID.String()),
		handlers:    make(map[uuid.UUID]block.Handler, tree.Len()),
		descriptors: make(map[uuid.UUID]*models.BlockDescriptor, tree.Len()),
		lanes:       make(map[string]*lane),
		laneQueue:   opts.LaneQueueSize,
	}

	var bindErr error
	tree.Walk(func(n *blocktree.Node) bool {
		registration, err := reg.Resolve(n.BlockType)
		if err != nil {
			bindErr = err
			return false
		}

		handler, err := registration.Factory(n, deps)
		if err != nil {
			bindErr = fmt.Errorf("failed to bind block %s (%s): %w", n.ID, n.BlockType, err)
			return false
		}

		policy := policyFromOptions(n, deps.Config)
		e.handlers[n.ID] = e.withRecovery(n, handler, policy)
		e.descriptors[n.ID] = registration.Descriptor
		return true
	})
	if bindErr != nil {
		return nil, bindErr
	}

	return e, nil
}

// InstanceID returns the policy instance this engine runs
func (e *Engine) InstanceID() uuid.UUID {
	return e.instanceID
}

// Tree returns the immutable block tree
func (e *Engine) Tree() *blocktree.Tree {
	return e.tree
}

// Emit delivers an input event to a block. Events for the same user are
// strictly serialized on that user's lane; events for different users run
// in parallel. The call returns once the dispatch, including all
// synchronous downstream triggers, has completed.
func (e *Engine) Emit(ctx context.Context, user block.User, blockID uuid.UUID, eventType models.EventType, payload map[string]interface{}) error {
	ln, err := e.lane(user.ID)
	if err != nil {
		return err
	}

	return ln.run(ctx, func(ctx context.Context) error {
		return e.dispatch(ctx, user, blockID, eventType, payload)
	})
}

// dispatch runs inside a lane. Re-entrant for synchronous triggers.
func (e *Engine) dispatch(ctx context.Context, user block.User, blockID uuid.UUID, eventType models.EventType, payload map[string]interface{}) error {
	node, exists := e.tree.ByID(blockID)
	if !exists {
		return fmt.Errorf("block %s not found in instance %s", blockID, e.instanceID)
	}

	desc := e.descriptors[node.ID]
	if !desc.AcceptsInput(eventType) {
		return enginerrors.UnsupportedEvent(node.BlockType, string(eventType))
	}

	if !node.AllowsRole(user.Roles) {
		return fmt.Errorf("%w: user %s on block %s", enginerrors.ErrPermissionDenied, user.ID, blockID)
	}

	ev := &block.Event{
		InstanceID: e.instanceID,
		User:       user,
		BlockID:    blockID,
		Type:       eventType,
		Payload:    payload,
	}

	api := &dispatchAPI{engine: e, node: node, user: user}
	return e.handlers[node.ID](ctx, ev, api)
}

// Archive tears down the instance: lanes stop accepting events and all
// per-user execution state is destroyed.
func (e *Engine) Archive(ctx context.Context) error {
	e.laneMu.Lock()
	e.archived = true
	lanes := make([]*lane, 0, len(e.lanes))
	for _, ln := range e.lanes {
		lanes = append(lanes, ln)
	}
	e.lanes = make(map[string]*lane)
	e.laneMu.Unlock()

	for _, ln := range lanes {
		ln.stop()
	}

	if err := e.state.DeleteInstance(ctx, e.instanceID); err != nil {
		return fmt.Errorf("failed to destroy execution state: %w", err)
	}

	e.log.Info("instance archived")
	return nil
}

// lane returns the dispatch lane for a user, creating it lazily
func (e *Engine) lane(userID string) (*lane, error) {
	e.laneMu.Lock()
	defer e.laneMu.Unlock()

	if e.archived {
		return nil, fmt.Errorf("instance %s is archived", e.instanceID)
	}

	ln, exists := e.lanes[userID]
	if !exists {
		ln = newLane(e.laneQueue)
		e.lanes[userID] = ln
	}
	return ln, nil
}

// dispatchAPI is the per-dispatch view handed to handlers
type dispatchAPI struct {
	engine *Engine
	node   *blocktree.Node
	user   block.User
}

func (a *dispatchAPI) Node() *blocktree.Node {
	return a.node
}

func (a *dispatchAPI) Children() []*blocktree.Node {
	return a.engine.tree.ChildNodes(a.node)
}

// Trigger fans an output event out to every wired child, depth-first and
// synchronously within the current dispatch.
func (a *dispatchAPI) Trigger(ctx context.Context, output models.EventType, payload map[string]interface{}) error {
	for _, wire := range a.node.Events {
		if wire.Source != output {
			continue
		}

		child, exists := a.engine.tree.ChildByWireTarget(a.node, wire.Target)
		if !exists {
			a.engine.log.Warn("event wire target not found",
				"block_id", a.node.ID, "source", output, "target", wire.Target)
			continue
		}

		if err := a.engine.dispatch(ctx, a.user, child.ID, wire.Input, payload); err != nil {
			return fmt.Errorf("trigger %s -> %s: %w", output, wire.Target, err)
		}
	}
	return nil
}

func (a *dispatchAPI) DispatchChild(ctx context.Context, target string, input models.EventType, payload map[string]interface{}) error {
	child, exists := a.engine.tree.ChildByWireTarget(a.node, target)
	if !exists {
		return fmt.Errorf("child %q not found under block %s", target, a.node.ID)
	}
	return a.engine.dispatch(ctx, a.user, child.ID, input, payload)
}

func (a *dispatchAPI) DispatchChildAt(ctx context.Context, index int, input models.EventType, payload map[string]interface{}) error {
	if index < 0 || index >= len(a.node.Children) {
		return fmt.Errorf("child index %d out of range for block %s", index, a.node.ID)
	}
	child := a.engine.tree.At(a.node.Children[index])
	return a.engine.dispatch(ctx, a.user, child.ID, input, payload)
}

func (a *dispatchAPI) GetState(ctx context.Context, v interface{}) (bool, error) {
	data, err := a.engine.state.Get(ctx, a.engine.instanceID, a.user.ID, a.node.ID)
	if err != nil {
		return false, fmt.Errorf("failed to read block state: %w", err)
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode block state: %w", err)
	}
	return true, nil
}

func (a *dispatchAPI) SetState(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode block state: %w", err)
	}
	return a.engine.state.Put(ctx, a.engine.instanceID, a.user.ID, a.node.ID, data)
}

func (a *dispatchAPI) Log() *logger.Logger {
	return a.engine.log.WithUserID(a.user.ID).WithBlockID(a.node.ID.String())
}
