package blocks

import (
	"context"
	"fmt"

	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/clearchain/policy-engine/engine/blocktree"
	"github.com/clearchain/policy-engine/engine/docs"
	"github.com/clearchain/policy-engine/engine/registry"
)

// paginationState is the per-user window over the document slice
type paginationState struct {
	Page  int      `json:"page"`
	Size  int      `json:"size"`
	Total int      `json:"total"`
	IDs   []string `json:"ids"`
}

// paginationAddon keeps a per-user page window over the user's documents.
// Events may carry page/size overrides; Refresh re-reads the slice with the
// stored window.
func paginationRegistration() registry.Registration {
	return registry.Registration{
		Factory: func(node *blocktree.Node, deps *block.Deps) (block.Handler, error) {
			defaultSize, ok := block.OptionInt(node, "page_size")
			if !ok {
				defaultSize = 20
			}

			return func(ctx context.Context, ev *block.Event, api block.API) error {
				state := paginationState{Size: defaultSize}
				if _, err := api.GetState(ctx, &state); err != nil {
					return err
				}
				if state.Size < 1 {
					state.Size = defaultSize
				}

				if page, ok := ev.Payload["page"].(float64); ok {
					state.Page = int(page)
				}
				if size, ok := ev.Payload["size"].(float64); ok && size > 0 {
					state.Size = int(size)
				}

				slice, total, err := deps.Docs.Page(ctx, ev.InstanceID, ev.User.ID, state.Page, state.Size)
				if err != nil {
					return err
				}

				state.Total = total
				state.IDs = state.IDs[:0]
				for _, doc := range slice {
					state.IDs = append(state.IDs, doc.ID.String())
				}

				return api.SetState(ctx, &state)
			}, nil
		},
		Descriptor: &models.BlockDescriptor{
			CommonBlock: true,
			Children:    models.ChildrenNone,
			Surface:     models.SurfaceUI,
			InputEvents: []models.EventType{
				models.EventRunBlock,
				models.EventRefresh,
			},
			OutputEvents: []models.EventType{},
		},
		Validate: validatePaginationOptions,
	}
}

// calculationState holds the addon's last results per user
type calculationState struct {
	Results []docs.CalcResult `json:"results"`
}

// calculationAddon evaluates its formula over the user's document slice,
// binding declared variables from schema fields. A failing formula records
// the sentinel value per document and never aborts the run.
func calculationRegistration() registry.Registration {
	return registry.Registration{
		Factory: func(node *blocktree.Node, deps *block.Deps) (block.Handler, error) {
			formula, ok := block.OptionString(node, "formula")
			if !ok {
				return nil, fmt.Errorf("calculation block %s: formula option is required", node.ID)
			}
			variables, err := declaredVariables(node)
			if err != nil {
				return nil, err
			}

			return func(ctx context.Context, ev *block.Event, api block.API) error {
				slice, _, err := deps.Docs.Page(ctx, ev.InstanceID, ev.User.ID, 0, 0)
				if err != nil {
					return err
				}

				results := deps.Docs.Calculate(slice, formula, variables)
				if err := api.SetState(ctx, &calculationState{Results: results}); err != nil {
					return err
				}

				return api.Trigger(ctx, models.EventRunBlock, ev.Payload)
			}, nil
		},
		Descriptor: &models.BlockDescriptor{
			CommonBlock: true,
			Children:    models.ChildrenNone,
			Surface:     models.SurfaceServer,
			InputEvents: []models.EventType{
				models.EventRunBlock,
				models.EventDocumentNew,
				models.EventRefresh,
			},
			OutputEvents: []models.EventType{
				models.EventRunBlock,
			},
		},
		Validate: validateCalculationOptions,
	}
}

// declaredVariables decodes the variables option into variable bindings
func declaredVariables(node *blocktree.Node) ([]models.DeclaredVariable, error) {
	raw, exists := node.Options["variables"]
	if !exists {
		return nil, nil
	}

	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("block %s: variables must be a list", node.ID)
	}

	variables := make([]models.DeclaredVariable, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("block %s: variable %d must be an object", node.ID, i)
		}
		v := models.DeclaredVariable{}
		v.Path, _ = obj["path"].(string)
		v.Alias, _ = obj["alias"].(string)
		v.Type, _ = obj["type"].(string)
		if v.Path == "" || v.Alias == "" {
			return nil, fmt.Errorf("block %s: variable %d needs path and alias", node.ID, i)
		}
		variables = append(variables, v)
	}
	return variables, nil
}

// timerBlock fires its wiring into its children on scheduled ticks. With
// autorun set it also fires when the instance starts.
func timerRegistration() registry.Registration {
	return registry.Registration{
		Factory: func(node *blocktree.Node, deps *block.Deps) (block.Handler, error) {
			autorun := block.OptionBool(node, "autorun")

			return func(ctx context.Context, ev *block.Event, api block.API) error {
				if ev.Type == models.EventRunBlock && !autorun {
					return nil
				}
				return api.Trigger(ctx, models.EventRunBlock, ev.Payload)
			}, nil
		},
		Descriptor: &models.BlockDescriptor{
			Children: models.ChildrenAny,
			Surface:  models.SurfaceServer,
			InputEvents: []models.EventType{
				models.EventRunBlock,
				models.EventTimerTick,
			},
			OutputEvents: []models.EventType{
				models.EventRunBlock,
			},
		},
		Validate: validateTimerOptions,
	}
}
