// Package goroutine runs background work with panic recovery.
package goroutine

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// StackTraceBufferSize bounds the stack captured for a recovered panic
const StackTraceBufferSize = 4096

// Recover logs a panic in the calling goroutine instead of crashing the
// process. It must be deferred directly. A nil logger writes to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	if logger == nil {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, buf[:n])
		return
	}
	logger.Errorw("Goroutine panic recovered",
		"goroutine", name,
		"panic", r,
		"stack", string(buf[:n]))
}

// Go runs fn in a new goroutine tracked by wg (which may be nil), recovering
// and logging any panic.
func Go(wg *sync.WaitGroup, name string, logger *zap.SugaredLogger, fn func()) {
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		defer Recover(name, logger)
		fn()
	}()
}
