package app

import (
	"context"
	"time"
)

// Runner schedules work that must not block or fail the calling request.
type Runner interface {
	Go(task func(ctx context.Context))
}

// Background runs tasks on detached goroutines with their own deadline, so a
// slow external dependency can never hold a request open.
type Background struct {
	Timeout time.Duration
}

func (b Background) Go(task func(ctx context.Context)) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		task(ctx)
	}()
}
