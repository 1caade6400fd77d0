package goroutine

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecover_NoPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	func() {
		defer Recover("quiet", zap.New(core).Sugar())
	}()

	assert.Zero(t, logs.Len())
}

func TestRecover_LogsPanic(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
	}{
		{"string", "boom"},
		{"error", errors.New("failed")},
		{"int", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.ErrorLevel)

			func() {
				defer Recover("worker", zap.New(core).Sugar())
				panic(tt.value)
			}()

			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, "Goroutine panic recovered", entries[0].Message)

			fields := entries[0].ContextMap()
			assert.Equal(t, "worker", fields["goroutine"])
			stack, ok := fields["stack"].(string)
			require.True(t, ok)
			assert.Contains(t, stack, "goroutine")
		})
	}
}

func TestRecover_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover("no-logger", nil)
		panic("unlogged")
	})
}

func TestGo(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	var wg sync.WaitGroup
	ran := make(chan struct{}, 1)
	Go(&wg, "ok", logger, func() { ran <- struct{}{} })
	Go(&wg, "panics", logger, func() { panic("boom") })
	wg.Wait()

	assert.Len(t, ran, 1)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "panics", logs.All()[0].ContextMap()["goroutine"])

	// nil WaitGroup is allowed
	done := make(chan struct{})
	Go(nil, "untracked", zaptest.NewLogger(t).Sugar(), func() { close(done) })
	<-done
}
