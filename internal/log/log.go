// Package log installs the process-wide slog logger.
package log

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the log file inside the data directory's logs folder.
const FileName = "devchain.log"

var (
	initOnce    sync.Once
	initialized atomic.Bool
)

// Setup sends JSON logs to a rotating file at logFile. Debug lowers the
// level to Debug. Only the first call has an effect.
func Setup(logFile string, debug bool) {
	initOnce.Do(func() {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
		}

		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		logger := slog.NewJSONHandler(rotator, &slog.HandlerOptions{
			Level:     level,
			AddSource: true,
		})
		slog.SetDefault(slog.New(logger))
		initialized.Store(true)
	})
}

// Initialized reports whether Setup has run.
func Initialized() bool {
	return initialized.Load()
}

// RecoverPanic logs a recovered panic with its stack and writes a crash
// file next to the working directory. Call it deferred.
func RecoverPanic(name string, cleanup func()) {
	r := recover()
	if r == nil {
		return
	}
	stack := debug.Stack()
	if Initialized() {
		slog.Error("panic", "name", name, "panic", r, "stack", string(stack))
	}

	filename := fmt.Sprintf("devchain-panic-%s-%s.log", name, time.Now().Format("20060102-150405"))
	if f, err := os.Create(filename); err == nil {
		fmt.Fprintf(f, "panic in %s: %v\n\n%s", name, r, stack)
		f.Close()
	}
	if cleanup != nil {
		cleanup()
	}
}
