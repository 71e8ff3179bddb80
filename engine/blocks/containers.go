package blocks

import (
	"context"
	"fmt"

	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/clearchain/policy-engine/engine/blocktree"
	"github.com/clearchain/policy-engine/engine/registry"
)

// policyContainer is the root container of every policy version. On run it
// forwards the run event through its configured wiring; default-active
// children with no explicit wiring are started directly.
func policyContainerRegistration() registry.Registration {
	return registry.Registration{
		Factory: func(node *blocktree.Node, deps *block.Deps) (block.Handler, error) {
			return func(ctx context.Context, ev *block.Event, api block.API) error {
				if err := api.Trigger(ctx, models.EventRunBlock, ev.Payload); err != nil {
					return err
				}
				return startUnwiredChildren(ctx, ev, api)
			}, nil
		},
		Descriptor: &models.BlockDescriptor{
			CommonBlock: true,
			Children:    models.ChildrenAny,
			Surface:     models.SurfaceServer,
			InputEvents: []models.EventType{
				models.EventRunBlock,
				models.EventRefresh,
			},
			OutputEvents: []models.EventType{
				models.EventRunBlock,
			},
		},
		Validate: validateContainerOptions,
	}
}

// startUnwiredChildren runs default-active children that no wire targets
func startUnwiredChildren(ctx context.Context, ev *block.Event, api block.API) error {
	node := api.Node()

	wired := make(map[string]bool, len(node.Events))
	for _, wire := range node.Events {
		wired[wire.Target] = true
	}

	for i, child := range api.Children() {
		if !child.DefaultActive {
			continue
		}
		if wired[child.Tag] || wired[child.ID.String()] {
			continue
		}
		if err := api.DispatchChildAt(ctx, i, models.EventRunBlock, ev.Payload); err != nil {
			return err
		}
	}
	return nil
}

// stepCursorState mirrors the cursor the execution core persists for step
// containers.
type stepCursorState struct {
	CurrentChildIndex int `json:"current_child_index"`
}

// stepContainer models a multi-step UI flow: children are mutually
// exclusive stages and a per-user cursor tracks the active one.
func stepContainerRegistration() registry.Registration {
	return registry.Registration{
		Factory: func(node *blocktree.Node, deps *block.Deps) (block.Handler, error) {
			return func(ctx context.Context, ev *block.Event, api block.API) error {
				var cursor stepCursorState
				found, err := api.GetState(ctx, &cursor)
				if err != nil {
					return err
				}

				switch ev.Type {
				case models.EventRunBlock:
					if !found {
						if err := api.SetState(ctx, &cursor); err != nil {
							return err
						}
					}
					return api.DispatchChildAt(ctx, cursor.CurrentChildIndex, models.EventRunBlock, ev.Payload)

				case models.EventStepChanged:
					// Cursor already moved by the execution core; activate
					// the newly current stage
					return api.DispatchChildAt(ctx, cursor.CurrentChildIndex, models.EventRunBlock, ev.Payload)

				case models.EventRefresh:
					return api.DispatchChildAt(ctx, cursor.CurrentChildIndex, models.EventRefresh, ev.Payload)
				}
				return nil
			}, nil
		},
		Descriptor: &models.BlockDescriptor{
			Children: models.ChildrenAny,
			Surface:  models.SurfaceUI,
			InputEvents: []models.EventType{
				models.EventRunBlock,
				models.EventStepChanged,
				models.EventRefresh,
			},
			OutputEvents: []models.EventType{
				models.EventRunBlock,
				models.EventStepChanged,
			},
		},
		Validate: validateStepOptions,
	}
}

// switchBlock routes an incoming event to the first child whose condition
// formula evaluates true against the event payload.
func switchRegistration() registry.Registration {
	return registry.Registration{
		Factory: func(node *blocktree.Node, deps *block.Deps) (block.Handler, error) {
			conditions, err := switchConditions(node)
			if err != nil {
				return nil, err
			}

			return func(ctx context.Context, ev *block.Event, api block.API) error {
				scope := ev.Payload
				if scope == nil {
					scope = map[string]interface{}{}
				}

				for _, cond := range conditions {
					result := deps.Expr.Evaluate(cond.Formula, scope)
					matched, ok := result.(bool)
					if !ok {
						api.Log().Warn("switch condition did not return boolean",
							"tag", cond.Tag, "formula", cond.Formula)
						continue
					}
					if matched {
						return api.DispatchChild(ctx, cond.Tag, models.EventRunBlock, ev.Payload)
					}
				}
				return nil
			}, nil
		},
		Descriptor: &models.BlockDescriptor{
			Children: models.ChildrenSpecial,
			Surface:  models.SurfaceServer,
			InputEvents: []models.EventType{
				models.EventRunBlock,
				models.EventDocumentNew,
				models.EventDocumentState,
			},
			OutputEvents: []models.EventType{
				models.EventRunBlock,
			},
		},
		Validate: validateSwitchOptions,
	}
}

// switchCondition is one branch of a switch block
type switchCondition struct {
	Tag     string
	Formula string
}

func switchConditions(node *blocktree.Node) ([]switchCondition, error) {
	raw, exists := node.Options["conditions"]
	if !exists {
		return nil, fmt.Errorf("switch block %s has no conditions", node.ID)
	}

	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("switch block %s: conditions must be a list", node.ID)
	}

	conditions := make([]switchCondition, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("switch block %s: condition %d must be an object", node.ID, i)
		}
		tag, _ := obj["tag"].(string)
		formula, _ := obj["formula"].(string)
		if tag == "" || formula == "" {
			return nil, fmt.Errorf("switch block %s: condition %d needs tag and formula", node.ID, i)
		}
		conditions = append(conditions, switchCondition{Tag: tag, Formula: formula})
	}
	return conditions, nil
}
