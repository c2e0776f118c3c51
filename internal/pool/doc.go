// Package pool provides single-queue workers for dispatching tile tasks.
//
// Each Worker owns one goroutine and one FIFO queue. Callers decide which worker
// gets which task (the scene inferencer assigns tiles round robin), so there is no
// shared queue and no work stealing. Submit returns a Future that resolves when the
// task has run.
//
//	w := pool.NewWorker()
//	defer w.Close()
//	f, err := w.Submit(func() error { return process(tile) })
//	if err != nil {
//	    return err
//	}
//	if err := f.Wait(); err != nil {
//	    return err
//	}
package pool
