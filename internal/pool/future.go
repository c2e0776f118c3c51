package pool

import "sync"

// Future is the completion handle of a submitted task. It is resolved exactly
// once, by the worker that ran the task.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the task has run and returns its error.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// Done is closed once the task has run.
func (f *Future) Done() <-chan struct{} {
	return f.done
}
