// Package worker drains a job channel with bounded concurrency. Each Start
// call runs one consumer goroutine, so jobs from a single channel are
// handled in order; the shared semaphore caps work across channels.
package worker

import "context"

type StartOptions[J any] struct {
	Ctx    context.Context
	Sem    chan struct{}
	Jobs   <-chan J
	Handle func(context.Context, J)
}

func Start[J any](opts StartOptions[J]) {
	go func() {
		for {
			select {
			case <-opts.Ctx.Done():
				return
			case job, ok := <-opts.Jobs:
				if !ok {
					return
				}
				select {
				case opts.Sem <- struct{}{}:
				case <-opts.Ctx.Done():
					return
				}
				func() {
					defer func() { <-opts.Sem }()
					opts.Handle(opts.Ctx, job)
				}()
			}
		}
	}()
}

// TryEnqueue offers a job without blocking. It reports false when the queue
// is full or the worker context is gone.
func TryEnqueue[J any](workersCtx context.Context, jobs chan<- J, job J) bool {
	select {
	case <-workersCtx.Done():
		return false
	case jobs <- job:
		return true
	default:
		return false
	}
}
