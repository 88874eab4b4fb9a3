// Package async provides panic-safe goroutine launching for background work.
//
// Go is for loops that live as long as their context, such as the write pump
// of a push connection. SafeGo adds a timeout and is used for scheduled jobs:
//
//	<-async.SafeGo(ctx, logger, time.Minute, "session cleanup", func(ctx context.Context) error {
//		_, err := coordinator.CleanupExpiredSessions(ctx)
//		return err
//	})
//
// Both log failures and recovered panics through the observability logger
// and never crash the process.
package async
