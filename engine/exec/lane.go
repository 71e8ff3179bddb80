package exec

import (
	"context"
	"fmt"
	"sync"
)

// job is one queued dispatch on a lane
type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// lane serializes dispatches for one (instance, user). A new event arriving
// while a dispatch is running queues behind it; lanes for different users
// never block one another.
type lane struct {
	jobs     chan *job
	stopOnce sync.Once
	stopped  chan struct{}
}

func newLane(queueSize int) *lane {
	ln := &lane{
		jobs:    make(chan *job, queueSize),
		stopped: make(chan struct{}),
	}
	go ln.loop()
	return ln
}

func (l *lane) loop() {
	for {
		select {
		case <-l.stopped:
			return
		case j := <-l.jobs:
			if j.ctx.Err() != nil {
				j.done <- j.ctx.Err()
				continue
			}
			j.done <- j.fn(j.ctx)
		}
	}
}

// run enqueues a dispatch and waits for it to complete
func (l *lane) run(ctx context.Context, fn func(ctx context.Context) error) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case l.jobs <- j:
	case <-l.stopped:
		return fmt.Errorf("lane is stopped")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-l.stopped:
		return fmt.Errorf("lane is stopped")
	}
}

func (l *lane) stop() {
	l.stopOnce.Do(func() {
		close(l.stopped)
	})
}
