package call

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Executor is the single goroutine on which asynchronous call completions
// are delivered. Its mailbox is unbounded.
type Executor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
	logger *zap.Logger
}

// NewExecutor starts an executor goroutine.
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ex := &Executor{
		done:   make(chan struct{}),
		logger: logger.With(zap.String("component", "executor")),
	}
	ex.cond = sync.NewCond(&ex.mu)
	go ex.run()
	return ex
}

func (ex *Executor) run() {
	defer close(ex.done)
	for {
		ex.mu.Lock()
		for len(ex.queue) == 0 && !ex.closed {
			ex.cond.Wait()
		}
		if len(ex.queue) == 0 && ex.closed {
			ex.mu.Unlock()
			return
		}
		task := ex.queue[0]
		ex.queue[0] = nil
		ex.queue = ex.queue[1:]
		ex.mu.Unlock()

		ex.runTask(task)
	}
}

func (ex *Executor) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			ex.logger.Error("executor task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Post queues fn to run on the executor goroutine. It reports false once the
// executor is closed.
func (ex *Executor) Post(fn func()) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.closed {
		return false
	}
	ex.queue = append(ex.queue, fn)
	ex.cond.Signal()
	return true
}

// Close stops accepting tasks, runs the ones already queued and waits for the
// executor goroutine to exit.
func (ex *Executor) Close() {
	ex.mu.Lock()
	ex.closed = true
	ex.cond.Broadcast()
	ex.mu.Unlock()
	<-ex.done
}

// Future is the pending result of a call started with Go.
type Future[T any] struct {
	ex *Executor

	mu        sync.Mutex
	completed bool
	val       T
	err       error
	callbacks []func(T, error)
	done      chan struct{}
}

// Go runs fn on a new goroutine and delivers its result on ex. The call
// itself cannot be cancelled.
func Go[T any](ex *Executor, fn func() (T, error)) *Future[T] {
	f := &Future[T]{ex: ex, done: make(chan struct{})}
	go func() {
		v, err := fn()
		if !ex.Post(func() { f.complete(v, err) }) {
			ex.logger.Warn("executor closed; completing future off the executor")
			f.complete(v, err)
		}
	}()
	return f
}

func (f *Future[T]) complete(v T, err error) {
	f.mu.Lock()
	f.val, f.err, f.completed = v, err, true
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
}

// Then registers cb to run on the executor with the result. Callbacks run in
// registration order.
func (f *Future[T]) Then(cb func(T, error)) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	v, err := f.val, f.err
	f.mu.Unlock()

	if !f.ex.Post(func() { cb(v, err) }) {
		cb(v, err)
	}
}

// Await blocks until the result is delivered or ctx is done. Cancelling ctx
// abandons the wait only; the call keeps running and its result is dropped.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the result has been delivered.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}
