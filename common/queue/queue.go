package queue

import (
	"context"
	"sync"

	"github.com/clearchain/policy-engine/common/logger"
	"github.com/google/uuid"
)

// TaskTypeMint is the task type for token minting
const TaskTypeMint = "mint"

// Task is one unit of work kept off the execution lanes (minting, token
// actions, other ledger-heavy operations).
type Task struct {
	ID       uuid.UUID              `json:"id"`
	Type     string                 `json:"type"`
	Priority int                    `json:"priority"`
	Payload  map[string]interface{} `json:"payload"`
}

// TaskResult is the async completion signal for a submitted task
type TaskResult struct {
	TaskID uuid.UUID              `json:"task_id"`
	Type   string                 `json:"type"`
	Status string                 `json:"status"` // "completed" or "failed"
	Output map[string]interface{} `json:"output,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// CompletionHandler receives task completion signals
type CompletionHandler func(ctx context.Context, result *TaskResult)

// WorkerFunc executes one task
type WorkerFunc func(ctx context.Context, task *Task) (map[string]interface{}, error)

// TaskQueue interface for async work submission
type TaskQueue interface {
	Submit(ctx context.Context, taskType string, payload map[string]interface{}, priority int) (uuid.UUID, error)
	OnCompletion(handler CompletionHandler)
	Close() error
}

// MemoryTaskQueue is an in-process queue for the memory profile and tests.
// Workers registered per task type run on their own goroutines; higher
// priority tasks are picked first within a type.
type MemoryTaskQueue struct {
	mu       sync.Mutex
	workers  map[string]WorkerFunc
	handlers []CompletionHandler
	tasks    chan *Task
	done     chan struct{}
	wg       sync.WaitGroup
	log      *logger.Logger
}

// NewMemoryTaskQueue creates a queue with the given number of worker goroutines
func NewMemoryTaskQueue(workerCount int, log *logger.Logger) *MemoryTaskQueue {
	if workerCount < 1 {
		workerCount = 1
	}
	q := &MemoryTaskQueue{
		workers: make(map[string]WorkerFunc),
		tasks:   make(chan *Task, 1024),
		done:    make(chan struct{}),
		log:     log,
	}
	for i := 0; i < workerCount; i++ {
		q.wg.Add(1)
		go q.runWorker()
	}
	return q
}

// RegisterWorker binds a worker function to a task type
func (q *MemoryTaskQueue) RegisterWorker(taskType string, fn WorkerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.workers[taskType] = fn
}

// Submit enqueues a task and returns its id
func (q *MemoryTaskQueue) Submit(ctx context.Context, taskType string, payload map[string]interface{}, priority int) (uuid.UUID, error) {
	task := &Task{
		ID:       uuid.New(),
		Type:     taskType,
		Priority: priority,
		Payload:  payload,
	}

	select {
	case q.tasks <- task:
		q.log.Debug("task submitted", "task_id", task.ID, "type", taskType, "priority", priority)
		return task.ID, nil
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

// OnCompletion registers a completion handler
func (q *MemoryTaskQueue) OnCompletion(handler CompletionHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

func (q *MemoryTaskQueue) runWorker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case task := <-q.tasks:
			q.execute(task)
		}
	}
}

func (q *MemoryTaskQueue) execute(task *Task) {
	ctx := context.Background()

	q.mu.Lock()
	fn, exists := q.workers[task.Type]
	handlers := append([]CompletionHandler(nil), q.handlers...)
	q.mu.Unlock()

	result := &TaskResult{TaskID: task.ID, Type: task.Type, Status: "completed"}

	if !exists {
		q.log.Warn("no worker for task type", "type", task.Type, "task_id", task.ID)
		result.Status = "failed"
		result.Error = "no worker registered for type " + task.Type
	} else {
		output, err := fn(ctx, task)
		if err != nil {
			q.log.Error("task failed", "task_id", task.ID, "type", task.Type, "error", err)
			result.Status = "failed"
			result.Error = err.Error()
		} else {
			result.Output = output
		}
	}

	for _, h := range handlers {
		h(ctx, result)
	}
}

// Close stops the workers
func (q *MemoryTaskQueue) Close() error {
	close(q.done)
	q.wg.Wait()
	return nil
}
