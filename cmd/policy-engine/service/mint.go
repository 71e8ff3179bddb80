package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clearchain/policy-engine/common/clients"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/common/queue"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/google/uuid"
)

// MintService performs token minting off the dispatch lanes and routes
// completions back into the origin block as TaskCompleteEvents.
type MintService struct {
	ledger    clients.LedgerClient
	instances *InstanceService
	log       *logger.Logger
}

// NewMintService creates the mint service
func NewMintService(ledger clients.LedgerClient, instances *InstanceService, log *logger.Logger) *MintService {
	return &MintService{
		ledger:    ledger,
		instances: instances,
		log:       log,
	}
}

// Worker mints one token: it anchors a mint message to the ledger and
// returns the routing fields the completion handler needs, plus the mint
// result.
func (m *MintService) Worker(ctx context.Context, task *queue.Task) (map[string]interface{}, error) {
	template, _ := task.Payload["token_template"].(string)
	if template == "" {
		return nil, fmt.Errorf("mint task %s: token_template missing", task.ID)
	}
	documentID, _ := task.Payload["document_id"].(string)

	tokenID := uuid.New()
	body, err := json.Marshal(map[string]interface{}{
		"token_id":       tokenID.String(),
		"token_template": template,
		"document_id":    documentID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mint message: %w", err)
	}

	messageRef, err := m.ledger.SubmitMessage(ctx, "tokens."+template, body)
	if err != nil {
		return nil, fmt.Errorf("mint submit failed: %w", err)
	}

	m.log.Info("token minted",
		"task_id", task.ID, "token_id", tokenID, "token_template", template)

	return map[string]interface{}{
		"instance_id":    task.Payload["instance_id"],
		"block_id":       task.Payload["block_id"],
		"user_id":        task.Payload["user_id"],
		"document_id":    documentID,
		"token_id":       tokenID.String(),
		"token_template": template,
		"message_ref":    messageRef,
	}, nil
}

// HandleCompletion feeds a finished mint task back into the instance that
// submitted it. Failed tasks are logged and dropped; the origin block
// simply never sees a TaskCompleteEvent for them.
func (m *MintService) HandleCompletion(ctx context.Context, result *queue.TaskResult) {
	if result.Type != queue.TaskTypeMint {
		return
	}

	if result.Status != "completed" {
		m.log.Error("mint task failed", "task_id", result.TaskID, "error", result.Error)
		return
	}

	instanceID, err := outputUUID(result.Output, "instance_id")
	if err != nil {
		m.log.Error("mint completion missing instance", "task_id", result.TaskID, "error", err)
		return
	}
	blockID, err := outputUUID(result.Output, "block_id")
	if err != nil {
		m.log.Error("mint completion missing block", "task_id", result.TaskID, "error", err)
		return
	}
	userID, _ := result.Output["user_id"].(string)

	user := block.User{ID: userID}
	if err := m.instances.Emit(ctx, instanceID, user, blockID, models.EventTaskComplete, result.Output); err != nil {
		m.log.Error("failed to deliver mint completion",
			"task_id", result.TaskID, "instance_id", instanceID, "error", err)
	}
}

func outputUUID(output map[string]interface{}, key string) (uuid.UUID, error) {
	raw, _ := output[key].(string)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("output field %s missing", key)
	}
	return uuid.Parse(raw)
}
