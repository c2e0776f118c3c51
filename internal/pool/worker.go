package pool

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPoolStopped is returned by Submit once the worker has begun shutting down.
var ErrPoolStopped = errors.New("worker has stopped, cannot add new task")

// Task is a unit of work run by a Worker. A returned error resolves the task's
// Future with that error.
type Task func() error

type queuedTask struct {
	run    Task
	future *Future
}

// Worker is a single goroutine draining a private FIFO of tasks.
//
// Tasks submitted to one Worker run one at a time, in submission order. Parallelism
// comes from running several Workers, never from within one.
//
// # Shutdown
//
// Stop refuses new submissions but does not discard work: tasks already queued are
// run to completion before the goroutine exits. Wait blocks until it has exited.
//
// # Failure Isolation
//
// A failing task, including one that panics, resolves its own Future with the
// error and the worker moves on to the next task.
type Worker struct {
	mu       sync.Mutex
	monitor  *sync.Cond
	queue    []queuedTask
	stopping bool

	done chan struct{}
}

// NewWorker creates a worker and starts its goroutine immediately.
func NewWorker() *Worker {
	w := &Worker{done: make(chan struct{})}
	w.monitor = sync.NewCond(&w.mu)
	go w.loop()
	return w
}

// Submit queues task and returns its completion handle.
//
// Submit only blocks to take the queue lock. It fails with ErrPoolStopped if Stop
// has been called.
func (w *Worker) Submit(task Task) (*Future, error) {
	if task == nil {
		return nil, errors.New("nil task")
	}
	f := newFuture()

	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return nil, ErrPoolStopped
	}
	w.queue = append(w.queue, queuedTask{run: task, future: f})
	w.mu.Unlock()

	w.monitor.Signal()
	return f, nil
}

// Pending returns the number of queued tasks not yet started.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Stop asks the worker to exit once its queue is empty. It does not block.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()
	w.monitor.Signal()
}

// Wait blocks until the worker goroutine has exited. Call Stop first.
func (w *Worker) Wait() {
	<-w.done
}

// Close stops the worker and waits for queued tasks to finish.
func (w *Worker) Close() {
	w.Stop()
	w.Wait()
}

func (w *Worker) loop() {
	defer close(w.done)

	for {
		w.mu.Lock()
		for !w.stopping && len(w.queue) == 0 {
			w.monitor.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		task := w.queue[0]
		w.queue[0] = queuedTask{}
		w.queue = w.queue[1:]
		w.mu.Unlock()

		task.future.resolve(run(task.run))
	}
}

// run executes task, turning a panic into an error.
func run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task()
}
