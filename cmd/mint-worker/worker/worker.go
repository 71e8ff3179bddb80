// Package worker consumes mint tasks from the Redis task stream and
// pushes completion results back for the engine to route.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clearchain/policy-engine/common/clients"
	"github.com/clearchain/policy-engine/common/config"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/queue"
	redisWrapper "github.com/clearchain/policy-engine/common/redis"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const consumerGroup = "mint-workers"

// MintWorker consumes the mint task stream, anchors mint messages to the
// ledger, and publishes TaskResults to the completion stream.
type MintWorker struct {
	redis  *redisWrapper.Client
	ledger clients.LedgerClient
	cfg    *config.EngineConfig
	log    *logger.Logger
}

// New creates a mint worker
func New(redisClient *redis.Client, ledger clients.LedgerClient, cfg *config.EngineConfig, log *logger.Logger) *MintWorker {
	return &MintWorker{
		redis:  redisWrapper.NewClient(redisClient, log),
		ledger: ledger,
		cfg:    cfg,
		log:    log,
	}
}

// Start consumes tasks until the context is cancelled
func (w *MintWorker) Start(ctx context.Context) error {
	stream := w.cfg.TaskStream(queue.TaskTypeMint)
	if err := w.redis.CreateStreamGroup(ctx, stream, consumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	consumer := fmt.Sprintf("mint-%s", uuid.New().String()[:8])
	w.log.Info("mint worker consuming", "stream", stream, "consumer", consumer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := w.redis.ReadFromStreamGroup(ctx, consumerGroup, consumer, stream, 16, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("task read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				w.handleTask(ctx, s.Stream, msg)
			}
		}
	}
}

func (w *MintWorker) handleTask(ctx context.Context, stream string, msg redis.XMessage) {
	defer func() {
		_ = w.redis.AckStreamMessage(ctx, stream, consumerGroup, msg.ID)
	}()

	raw, ok := msg.Values["task"].(string)
	if !ok {
		w.log.Warn("task message without task field", "message_id", msg.ID)
		return
	}

	var task queue.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		w.log.Error("failed to unmarshal task", "message_id", msg.ID, "error", err)
		return
	}

	output, err := w.mint(ctx, &task)
	result := queue.TaskResult{
		TaskID: task.ID,
		Type:   task.Type,
		Status: "completed",
		Output: output,
	}
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		w.log.Error("mint failed", "task_id", task.ID, "error", err)
	}

	if err := w.publishResult(ctx, &result); err != nil {
		w.log.Error("failed to publish result", "task_id", task.ID, "error", err)
	}
}

func (w *MintWorker) mint(ctx context.Context, task *queue.Task) (map[string]interface{}, error) {
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

	messageRef, err := w.ledger.SubmitMessage(ctx, "tokens."+template, body)
	if err != nil {
		return nil, fmt.Errorf("mint submit failed: %w", err)
	}

	w.log.Info("token minted", "task_id", task.ID, "token_id", tokenID, "token_template", template)

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

func (w *MintWorker) publishResult(ctx context.Context, result *queue.TaskResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = w.redis.AddToStream(ctx, queue.CompletionStream, map[string]interface{}{
		"result": string(resultJSON),
	})
	return err
}
