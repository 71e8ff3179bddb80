package blocks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/common/queue"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/clearchain/policy-engine/engine/blocktree"
	"github.com/clearchain/policy-engine/engine/registry"
)

// sendToLedgerBlock anchors the referenced document to the public ledger
// and records the resulting message ref as a document relationship.
func sendToLedgerRegistration() registry.Registration {
	return registry.Registration{
		Factory: func(node *blocktree.Node, deps *block.Deps) (block.Handler, error) {
			topicID, ok := block.OptionString(node, "topic_id")
			if !ok {
				return nil, fmt.Errorf("ledger block %s: topic_id option is required", node.ID)
			}

			return func(ctx context.Context, ev *block.Event, api block.API) error {
				docID, err := eventDocumentID(ev)
				if err != nil {
					return err
				}

				doc, err := deps.Docs.Store().Get(ctx, docID)
				if err != nil {
					return fmt.Errorf("failed to load document %s: %w", docID, err)
				}

				body, err := json.Marshal(map[string]interface{}{
					"document_id": doc.ID.String(),
					"schema_ref":  doc.SchemaRef,
					"status":      doc.Status,
					"payload":     doc.Payload,
				})
				if err != nil {
					return fmt.Errorf("failed to marshal ledger message: %w", err)
				}

				messageRef, err := deps.Ledger.SubmitMessage(ctx, topicID, body)
				if err != nil {
					return fmt.Errorf("ledger submit failed: %w", err)
				}

				if _, err := deps.Docs.AddRelationship(ctx, docID, messageRef); err != nil {
					return err
				}

				api.Log().Info("document anchored to ledger",
					"document_id", docID, "topic_id", topicID, "message_ref", messageRef)

				return api.Trigger(ctx, models.EventLedgerConfirm, map[string]interface{}{
					"document_id": docID.String(),
					"message_ref": messageRef,
				})
			}, nil
		},
		Descriptor: &models.BlockDescriptor{
			Children: models.ChildrenNone,
			Surface:  models.SurfaceServer,
			InputEvents: []models.EventType{
				models.EventRunBlock,
				models.EventDocumentNew,
				models.EventDocumentState,
			},
			OutputEvents: []models.EventType{
				models.EventLedgerConfirm,
			},
		},
		Validate: validateSendToLedgerOptions,
	}
}

// mintTokenBlock pushes minting onto the worker queue so the ledger-heavy
// work never runs on the dispatch lane. Completion comes back as a
// TaskCompleteEvent through the queue's completion wiring.
func mintTokenRegistration() registry.Registration {
	return registry.Registration{
		Factory: func(node *blocktree.Node, deps *block.Deps) (block.Handler, error) {
			template, ok := block.OptionString(node, "token_template")
			if !ok {
				return nil, fmt.Errorf("mint block %s: token_template option is required", node.ID)
			}
			priority, _ := block.OptionInt(node, "priority")

			return func(ctx context.Context, ev *block.Event, api block.API) error {
				if ev.Type == models.EventTaskComplete {
					// Mint finished off-lane; surface the result downstream
					return api.Trigger(ctx, models.EventTaskComplete, ev.Payload)
				}

				docID, err := eventDocumentID(ev)
				if err != nil {
					return err
				}

				taskID, err := deps.Queue.Submit(ctx, queue.TaskTypeMint, map[string]interface{}{
					"instance_id":    ev.InstanceID.String(),
					"block_id":       node.ID.String(),
					"user_id":        ev.User.ID,
					"document_id":    docID.String(),
					"token_template": template,
				}, priority)
				if err != nil {
					return fmt.Errorf("failed to submit mint task: %w", err)
				}

				api.Log().Info("mint task submitted",
					"task_id", taskID, "document_id", docID, "token_template", template)
				return nil
			}, nil
		},
		Descriptor: &models.BlockDescriptor{
			Children: models.ChildrenNone,
			Surface:  models.SurfaceServer,
			InputEvents: []models.EventType{
				models.EventRunBlock,
				models.EventDocumentState,
				models.EventTaskComplete,
			},
			OutputEvents: []models.EventType{
				models.EventTaskComplete,
			},
		},
		Validate: validateMintTokenOptions,
	}
}
