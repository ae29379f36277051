package testutils

import (
	"bytes"
	"io"
	"sync"

	"github.com/sourceshift/veiltun/pkg/logging"
	"go.uber.org/zap/zapcore"
)

// NewTestLogger creates a new logger for testing that discards output.
func NewTestLogger() logging.Logger {
	logger, err := logging.NewLogger("debug", "console", zapcore.AddSync(io.Discard))
	if err != nil {
		panic(err)
	}
	return logger
}

// LogBuffer collects JSON log lines so tests can assert on them.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) Sync() error { return nil }

// String returns everything logged so far.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewBufferedLogger returns a debug-level JSON logger writing into the
// returned buffer.
func NewBufferedLogger() (logging.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	logger, err := logging.NewLogger("debug", "json", buf)
	if err != nil {
		panic(err)
	}
	return logger, buf
}
