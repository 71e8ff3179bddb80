package block

import (
	"context"

	"github.com/clearchain/policy-engine/common/clients"
	"github.com/clearchain/policy-engine/common/config"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/common/queue"
	"github.com/clearchain/policy-engine/engine/blocktree"
	"github.com/clearchain/policy-engine/engine/docs"
	"github.com/clearchain/policy-engine/engine/expr"
	"github.com/google/uuid"
)

// User identifies the acting user and their roles for one event
type User struct {
	ID    string        `json:"id"`
	Roles []models.Role `json:"roles,omitempty"`
}

// Event is one input event delivered to a block handler
type Event struct {
	InstanceID uuid.UUID
	User       User
	BlockID    uuid.UUID
	Type       models.EventType
	Payload    map[string]interface{}
}

// API is the surface a handler uses to interact with the engine during a
// dispatch. All calls are lane-local; triggers resolve synchronously,
// depth-first, before the dispatch completes.
type API interface {
	// Node returns the block node being dispatched
	Node() *blocktree.Node

	// Children returns the node's children in tree order
	Children() []*blocktree.Node

	// Trigger resolves an output event against the node's configured
	// wiring and dispatches to every matching child
	Trigger(ctx context.Context, output models.EventType, payload map[string]interface{}) error

	// DispatchChild sends an input event directly to the child addressed
	// by tag or id, bypassing wiring. Used by switch and step containers.
	DispatchChild(ctx context.Context, target string, input models.EventType, payload map[string]interface{}) error

	// DispatchChildAt sends an input event to the child at the given
	// position among this node's children
	DispatchChildAt(ctx context.Context, index int, input models.EventType, payload map[string]interface{}) error

	// GetState unmarshals this block's per-user state into v. Returns
	// false if no state has been written yet.
	GetState(ctx context.Context, v interface{}) (bool, error)

	// SetState marshals v as this block's per-user state
	SetState(ctx context.Context, v interface{}) error

	// Log returns a logger carrying instance/user/block context
	Log() *logger.Logger
}

// Handler processes one input event for a block
type Handler func(ctx context.Context, ev *Event, api API) error

// Deps are the collaborators a factory can close over when binding a
// handler to a node.
type Deps struct {
	Docs   *docs.Service
	Ledger clients.LedgerClient
	Blob   clients.BlobClient
	Queue  queue.TaskQueue
	Expr   *expr.Evaluator
	Config *config.EngineConfig
	Log    *logger.Logger
}

// Factory binds a handler to a node at instance-start time
type Factory func(node *blocktree.Node, deps *Deps) (Handler, error)

// ValidateContext carries the shared checks a type-specific option
// validator can call back into.
type ValidateContext struct {
	Ctx  context.Context
	Tree *blocktree.Tree
	Expr *expr.Evaluator

	// External lookups; nil check functions skip the corresponding check
	SchemaExists func(ctx context.Context, schemaRef string) (bool, error)
	TokenExists  func(ctx context.Context, templateID string) (bool, error)
}

// OptionValidator checks a node's options at publish time and returns
// human-readable errors. The tree is publishable only if every block's
// error list is empty.
type OptionValidator func(vc *ValidateContext, node *blocktree.Node) []string

// OptionString reads a string option, with ok=false when absent or not a
// string.
func OptionString(node *blocktree.Node, key string) (string, bool) {
	v, exists := node.Options[key]
	if !exists {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// OptionBool reads a bool option, defaulting to false when absent
func OptionBool(node *blocktree.Node, key string) bool {
	v, exists := node.Options[key]
	if !exists {
		return false
	}
	b, _ := v.(bool)
	return b
}

// OptionInt reads a numeric option. JSON numbers decode as float64.
func OptionInt(node *blocktree.Node, key string) (int, bool) {
	v, exists := node.Options[key]
	if !exists {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
