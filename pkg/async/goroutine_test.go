package async

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestGo_LogsError(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	waitDone(t, Go(context.Background(), logger, "failing", func(context.Context) error {
		return errors.New("nope")
	}))

	assert.Contains(t, buf.String(), "Background task failed")
	assert.Contains(t, buf.String(), "nope")
}

func TestGo_SuppressesErrorAfterCancel(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	waitDone(t, Go(ctx, logger, "cancelled", func(ctx context.Context) error {
		return ctx.Err()
	}))
	assert.Zero(t, buf.Len())
}

func TestGo_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	waitDone(t, Go(context.Background(), logger, "panicky", func(context.Context) error {
		panic("boom")
	}))

	assert.Contains(t, buf.String(), "PANIC recovered")
	assert.Contains(t, buf.String(), "panicky")
}

func TestSafeGo_EnforcesTimeout(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})

	var deadline time.Time
	var hasDeadline bool
	waitDone(t, SafeGo(context.Background(), logger, 50*time.Millisecond, "bounded", func(ctx context.Context) error {
		deadline, hasDeadline = ctx.Deadline()
		<-ctx.Done()
		return ctx.Err()
	}))

	require.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now(), deadline, time.Second)
}

func TestSafeGoNoError(t *testing.T) {
	ran := false
	waitDone(t, SafeGoNoError(context.Background(), observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}), time.Second, "noop", func(context.Context) {
		ran = true
	}))
	assert.True(t, ran)
}
