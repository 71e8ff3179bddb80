package exec

import (
	"context"
	"time"

	"github.com/clearchain/policy-engine/common/config"
	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/clearchain/policy-engine/engine/blocktree"
)

// PolicyKind selects how a handler fault is resolved
type PolicyKind string

const (
	PolicyNone     PolicyKind = "none"
	PolicyRetry    PolicyKind = "retry"
	PolicyGotoStep PolicyKind = "gotoStep"
	PolicyGotoTag  PolicyKind = "gotoTag"
)

// ErrorPolicy is a block's configured fault resolution, read from its
// "on_error" options at bind time.
type ErrorPolicy struct {
	Kind        PolicyKind
	Delay       time.Duration
	MaxAttempts int // 0 = unbounded
	Step        int
	Tag         string
}

// policyFromOptions reads the on_error option object, falling back to the
// engine defaults for delay and attempt cap.
func policyFromOptions(node *blocktree.Node, cfg *config.EngineConfig) ErrorPolicy {
	policy := ErrorPolicy{Kind: PolicyNone}
	if cfg != nil {
		policy.Delay = cfg.RetryDelay
		policy.MaxAttempts = cfg.RetryMaxAttempts
	}

	raw, exists := node.Options["on_error"]
	if !exists {
		return policy
	}
	opts, ok := raw.(map[string]interface{})
	if !ok {
		return policy
	}

	if kind, ok := opts["policy"].(string); ok {
		policy.Kind = PolicyKind(kind)
	}
	if delay, ok := opts["delay"].(string); ok {
		if d, err := time.ParseDuration(delay); err == nil {
			policy.Delay = d
		}
	}
	if max, ok := opts["max_attempts"].(float64); ok {
		policy.MaxAttempts = int(max)
	}
	if step, ok := opts["step"].(float64); ok {
		policy.Step = int(step)
	}
	if tag, ok := opts["tag"].(string); ok {
		policy.Tag = tag
	}

	return policy
}

// withRecovery wraps a handler in the recoverable-error envelope. Composed
// once at bind time; a wrapped handler never lets a fault escape its lane.
func (e *Engine) withRecovery(node *blocktree.Node, handler block.Handler, policy ErrorPolicy) block.Handler {
	return func(ctx context.Context, ev *block.Event, api block.API) error {
		attempts := 0
		for {
			err := handler(ctx, ev, api)
			if err == nil {
				return nil
			}

			fault := &enginerrors.HandlerFault{
				InstanceID: e.instanceID,
				BlockID:    node.ID,
				BlockType:  node.BlockType,
				UserID:     ev.User.ID,
				Err:        err,
			}

			e.log.Error("block handler failed",
				"block_id", node.ID,
				"block_type", node.BlockType,
				"user_id", ev.User.ID,
				"event", ev.Type,
				"policy", policy.Kind,
				"error", err)

			if e.sink != nil {
				e.sink.NotifyFault(ctx, fault)
			}

			switch policy.Kind {
			case PolicyRetry:
				attempts++
				if policy.MaxAttempts > 0 && attempts >= policy.MaxAttempts {
					e.log.Warn("retry cap reached, dropping event",
						"block_id", node.ID, "attempts", attempts)
					return nil
				}
				select {
				case <-time.After(policy.Delay):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue

			case PolicyGotoStep:
				e.redirectToStep(ctx, ev.User, node, StepTarget{Index: &policy.Step})
				return nil

			case PolicyGotoTag:
				e.redirectToStep(ctx, ev.User, node, StepTarget{Tag: policy.Tag})
				return nil

			default:
				// None: swallow and stop propagation for this event only;
				// the lane stays usable for future events
				return nil
			}
		}
	}
}

// redirectToStep forces the owning step container to jump. The owning
// container is the nearest ancestor (or the block itself) that accepts
// StepChangedEvent.
func (e *Engine) redirectToStep(ctx context.Context, user block.User, from *blocktree.Node, target StepTarget) {
	container := e.owningStepContainer(from)
	if container == nil {
		e.log.Warn("no owning step container for error redirect", "block_id", from.ID)
		return
	}

	if err := e.changeStepLocked(ctx, user, container, target); err != nil {
		e.log.Error("error-policy step redirect failed",
			"block_id", from.ID, "container_id", container.ID, "error", err)
	}
}

func (e *Engine) owningStepContainer(from *blocktree.Node) *blocktree.Node {
	for n := from; n != nil; n = e.tree.ParentOf(n) {
		if desc, exists := e.descriptors[n.ID]; exists && desc.AcceptsInput(stepChangedEvent) {
			return n
		}
	}
	return nil
}
