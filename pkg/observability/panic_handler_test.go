package observability

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverPanic_LogsAndSwallows(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	assert.NotPanics(t, func() {
		defer RecoverPanic(logger, "notification")
		panic("boom")
	})
	assert.Contains(t, buf.String(), "PANIC recovered")
	assert.Contains(t, buf.String(), `"context":"notification"`)
}

func TestRecoverPanicWithCallback(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})

	run := func(shouldPanic bool) (ok bool) {
		ok = true
		defer RecoverPanicWithCallback(logger, "revoke", func() { ok = false })
		if shouldPanic {
			panic("provider exploded")
		}
		return true
	}

	assert.True(t, run(false))
	assert.False(t, run(true))
}

func TestMustRecover(t *testing.T) {
	assert.NoError(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("boom"), "panic: boom")

	sentinel := errors.New("closed")
	assert.ErrorIs(t, MustRecover(sentinel), sentinel)
}
