package service

import (
	"context"
	"errors"
	"sync"
)

var errQueueClosed = errors.New("scope queue closed")

// scopeQueue runs jobs one at a time per key and in parallel across keys.
// A key gets a worker goroutine while it has queued jobs; the worker exits
// once its queue drains.
type scopeQueue struct {
	mu      sync.Mutex
	workers map[string]*scopeWorker
	closed  bool
	wg      sync.WaitGroup
}

type scopeWorker struct {
	jobs []func()
}

func newScopeQueue() *scopeQueue {
	return &scopeQueue{workers: make(map[string]*scopeWorker)}
}

// Do queues fn behind every job already queued for key and waits for it.
// If ctx is done before fn's turn comes, fn is skipped and ctx.Err() is
// returned. Once fn has started it runs to completion.
func (q *scopeQueue) Do(ctx context.Context, key string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var result error
	done := make(chan struct{})
	job := func() {
		defer close(done)
		if err := ctx.Err(); err != nil {
			result = err
			return
		}
		result = fn()
	}

	if err := q.enqueue(key, job); err != nil {
		return err
	}
	<-done
	return result
}

func (q *scopeQueue) enqueue(key string, job func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errQueueClosed
	}

	if w, ok := q.workers[key]; ok {
		w.jobs = append(w.jobs, job)
		return nil
	}

	w := &scopeWorker{jobs: []func(){job}}
	q.workers[key] = w
	q.wg.Add(1)
	go q.run(key, w)
	return nil
}

func (q *scopeQueue) run(key string, w *scopeWorker) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(w.jobs) == 0 {
			delete(q.workers, key)
			q.mu.Unlock()
			return
		}
		job := w.jobs[0]
		w.jobs[0] = nil
		w.jobs = w.jobs[1:]
		q.mu.Unlock()

		job()
	}
}

// Active returns the number of keys with a running worker.
func (q *scopeQueue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}

// Close rejects new jobs and waits for queued ones to finish.
func (q *scopeQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
