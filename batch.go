package gofetchcache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrBatchCleared is returned to batch calls dropped by ClearAll before they ran.
var ErrBatchCleared = errors.New("batch queue cleared")

// BatchFunc is a unit of work queued with Batch.
type BatchFunc func(ctx context.Context) (any, error)

type batch struct {
	calls []*batchCall
	timer *time.Timer
}

type batchCall struct {
	ctx  context.Context
	fn   BatchFunc
	done chan batchResult
}

type batchResult struct {
	val any
	err error
}

func (b *batch) cancel(err error) {
	b.timer.Stop()
	for _, c := range b.calls {
		c.done <- batchResult{err: err}
	}
}

// Batch queues fn under group and runs it together with every other call
// queued for the same group once BatchDelay has passed since the first one.
// Each caller receives the result of its own fn.
func (f *Fetcher) Batch(ctx context.Context, group string, fn BatchFunc) (any, error) {
	call := &batchCall{ctx: ctx, fn: fn, done: make(chan batchResult, 1)}

	f.mu.Lock()
	b, ok := f.batches[group]
	if !ok {
		b = &batch{}
		b.timer = time.AfterFunc(f.c.BatchDelay, func() { f.flush(group, b) })
		f.batches[group] = b
	}
	b.calls = append(b.calls, call)
	f.mu.Unlock()

	select {
	case res := <-call.done:
		return res.val, res.err
	case <-ctx.Done():
		f.dequeue(group, b, call)
		return nil, ctx.Err()
	}
}

// dequeue drops a call whose caller stopped waiting. A group left empty is
// removed along with its timer.
func (f *Fetcher) dequeue(group string, b *batch, call *batchCall) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.batches[group] != b {
		// already flushed or cleared
		return
	}

	b.calls = slices.DeleteFunc(b.calls, func(c *batchCall) bool { return c == call })
	if len(b.calls) == 0 {
		b.timer.Stop()
		delete(f.batches, group)
	}
}

func (f *Fetcher) flush(group string, b *batch) {
	f.mu.Lock()
	if f.batches[group] != b {
		// cleared before the timer fired
		f.mu.Unlock()
		return
	}
	delete(f.batches, group)
	calls := b.calls
	f.mu.Unlock()

	f.logger.Debug("running batch", "group", group, "size", len(calls))

	var wg sync.WaitGroup
	for _, c := range calls {
		wg.Add(1)
		go func(c *batchCall) {
			defer wg.Done()
			if err := c.ctx.Err(); err != nil {
				c.done <- batchResult{err: err}
				return
			}
			v, err := c.fn(c.ctx)
			c.done <- batchResult{val: v, err: err}
		}(c)
	}
	wg.Wait()
}
