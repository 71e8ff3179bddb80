package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/clearchain/policy-engine/common/config"
	"github.com/clearchain/policy-engine/common/logger"
	redisWrapper "github.com/clearchain/policy-engine/common/redis"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CompletionStream is the Redis stream external workers push TaskResults
// to, one JSON result per message under the "result" field.
const CompletionStream = "pe.completions"

const completionGroup = "engine"

// RedisTaskQueue routes tasks onto per-type Redis streams and consumes
// completion signals pushed back by external workers.
type RedisTaskQueue struct {
	redis    *redisWrapper.Client
	cfg      *config.EngineConfig
	log      *logger.Logger
	mu       sync.Mutex
	handlers []CompletionHandler
	cancel   context.CancelFunc
}

// NewRedisTaskQueue creates a Redis-stream-backed task queue and starts the
// completion consumer.
func NewRedisTaskQueue(redisClient *redis.Client, cfg *config.EngineConfig, log *logger.Logger) (*RedisTaskQueue, error) {
	q := &RedisTaskQueue{
		redis: redisWrapper.NewClient(redisClient, log),
		cfg:   cfg,
		log:   log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	if err := q.redis.CreateStreamGroup(ctx, CompletionStream, completionGroup); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create completion group: %w", err)
	}

	go q.consumeCompletions(ctx)
	return q, nil
}

// Submit publishes a task to the stream for its type
func (q *RedisTaskQueue) Submit(ctx context.Context, taskType string, payload map[string]interface{}, priority int) (uuid.UUID, error) {
	task := &Task{
		ID:       uuid.New(),
		Type:     taskType,
		Priority: priority,
		Payload:  payload,
	}

	taskJSON, err := json.Marshal(task)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	stream := q.cfg.TaskStream(taskType)
	if _, err := q.redis.AddToStream(ctx, stream, map[string]interface{}{
		"task":     string(taskJSON),
		"priority": priority,
	}); err != nil {
		return uuid.Nil, fmt.Errorf("failed to publish task: %w", err)
	}

	q.log.Info("task published", "task_id", task.ID, "type", taskType, "stream", stream)
	return task.ID, nil
}

// OnCompletion registers a completion handler
func (q *RedisTaskQueue) OnCompletion(handler CompletionHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

func (q *RedisTaskQueue) consumeCompletions(ctx context.Context) {
	consumer := fmt.Sprintf("engine-%s", uuid.New().String()[:8])

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := q.redis.ReadFromStreamGroup(ctx, completionGroup, consumer, CompletionStream, 16, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Error("completion read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				q.handleCompletion(ctx, s.Stream, msg)
			}
		}
	}
}

func (q *RedisTaskQueue) handleCompletion(ctx context.Context, stream string, msg redis.XMessage) {
	raw, ok := msg.Values["result"].(string)
	if !ok {
		q.log.Warn("completion without result field", "message_id", msg.ID)
		_ = q.redis.AckStreamMessage(ctx, stream, completionGroup, msg.ID)
		return
	}

	var result TaskResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		q.log.Error("failed to unmarshal completion", "message_id", msg.ID, "error", err)
		_ = q.redis.AckStreamMessage(ctx, stream, completionGroup, msg.ID)
		return
	}

	q.mu.Lock()
	handlers := append([]CompletionHandler(nil), q.handlers...)
	q.mu.Unlock()

	for _, h := range handlers {
		h(ctx, &result)
	}

	_ = q.redis.AckStreamMessage(ctx, stream, completionGroup, msg.ID)
}

// Close stops the completion consumer
func (q *RedisTaskQueue) Close() error {
	q.cancel()
	return nil
}
