package retryutil

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultRetryDelay   = 5 * time.Second
	defaultRetryTimeout = 30 * time.Second
)

// AsyncRetry runs fn once in the background after delay, bounded by timeout.
// The returned cancel function stops the attempt if it has not started yet;
// it is safe to call more than once.
func AsyncRetry(logger *slog.Logger, name string, delay, timeout time.Duration, fn func(ctx context.Context) error) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	if timeout <= 0 {
		timeout = defaultRetryTimeout
	}
	if logger != nil {
		logger.Info(name+"_retry_scheduled", "delay", delay.String(), "timeout", timeout.String())
	}
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-done:
			if logger != nil {
				logger.Debug(name + "_retry_canceled")
			}
			return
		case <-timer.C:
		}
		ctx, cancelCtx := context.WithTimeout(context.Background(), timeout)
		defer cancelCtx()
		if err := fn(ctx); err != nil {
			if logger != nil {
				logger.Warn(name+"_retry_failed", "error", err.Error())
			}
			return
		}
		if logger != nil {
			logger.Info(name + "_retry_ok")
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
