package async

import (
	"context"
	"time"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

// Go runs fn in a goroutine with panic recovery and error logging. The
// goroutine lives as long as fn does; use it for per-connection pumps and
// other loops bounded by ctx.
//
// The returned channel is closed when fn returns.
func Go(ctx context.Context, logger *observability.Logger, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).WithField("task", taskName).Warn("Background task failed")
		}
	}()
	return done
}

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Example:
//
//	SafeGo(ctx, logger, time.Minute, "session cleanup", func(ctx context.Context) error {
//	    _, err := coordinator.CleanupExpiredSessions(ctx)
//	    return err
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	return Go(parentCtx, logger, taskName, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(ctx)
	})
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
func SafeGoNoError(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context)) <-chan struct{} {
	return SafeGo(parentCtx, logger, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}
