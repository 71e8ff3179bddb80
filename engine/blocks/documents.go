package blocks

import (
	"context"
	"fmt"

	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/clearchain/policy-engine/engine/blocktree"
	"github.com/clearchain/policy-engine/engine/registry"
	"github.com/google/uuid"
)

// requestDocumentBlock takes a document payload from a user action and
// creates a NEW policy document owned by the acting user.
func requestDocumentRegistration() registry.Registration {
	return registry.Registration{
		Factory: func(node *blocktree.Node, deps *block.Deps) (block.Handler, error) {
			schemaRef, ok := block.OptionString(node, "schema_ref")
			if !ok {
				return nil, fmt.Errorf("request block %s: schema_ref option is required", node.ID)
			}

			return func(ctx context.Context, ev *block.Event, api block.API) error {
				payload, _ := ev.Payload["document"].(map[string]interface{})
				if payload == nil {
					return fmt.Errorf("request block %s: event carries no document", node.ID)
				}

				doc, err := deps.Docs.Create(ctx, ev.InstanceID, ev.User.ID, schemaRef, payload)
				if err != nil {
					return err
				}

				return api.Trigger(ctx, models.EventDocumentNew, map[string]interface{}{
					"document_id": doc.ID.String(),
					"schema_ref":  doc.SchemaRef,
					"owner":       doc.Owner,
				})
			}, nil
		},
		Descriptor: &models.BlockDescriptor{
			Children: models.ChildrenNone,
			Surface:  models.SurfaceUI,
			InputEvents: []models.EventType{
				models.EventRunBlock,
			},
			OutputEvents: []models.EventType{
				models.EventDocumentNew,
			},
			Variables: []models.DeclaredVariable{
				{Path: "document_id", Alias: "documentId", Type: "string"},
			},
		},
		Validate: validateRequestDocumentOptions,
	}
}

// documentStatusBlock transitions the referenced document to its configured
// target status. Illegal transitions fault the handler and resolve through
// the block's error policy.
func documentStatusRegistration() registry.Registration {
	return registry.Registration{
		Factory: func(node *blocktree.Node, deps *block.Deps) (block.Handler, error) {
			status, ok := block.OptionString(node, "status")
			if !ok {
				return nil, fmt.Errorf("status block %s: status option is required", node.ID)
			}
			target := models.DocumentStatus(status)

			return func(ctx context.Context, ev *block.Event, api block.API) error {
				docID, err := eventDocumentID(ev)
				if err != nil {
					return err
				}

				doc, err := deps.Docs.Transition(ctx, docID, target)
				if err != nil {
					return err
				}

				return api.Trigger(ctx, models.EventDocumentState, map[string]interface{}{
					"document_id": doc.ID.String(),
					"status":      string(doc.Status),
					"owner":       doc.Owner,
				})
			}, nil
		},
		Descriptor: &models.BlockDescriptor{
			CommonBlock: true,
			Children:    models.ChildrenNone,
			Surface:     models.SurfaceServer,
			InputEvents: []models.EventType{
				models.EventRunBlock,
				models.EventDocumentNew,
				models.EventLedgerConfirm,
			},
			OutputEvents: []models.EventType{
				models.EventDocumentState,
			},
		},
		Validate: validateDocumentStatusOptions,
	}
}

// eventDocumentID pulls the document reference out of an event payload
func eventDocumentID(ev *block.Event) (uuid.UUID, error) {
	raw, _ := ev.Payload["document_id"].(string)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("event %s carries no document_id", ev.Type)
	}
	docID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid document_id %q: %w", raw, err)
	}
	return docID, nil
}
