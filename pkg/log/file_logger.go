package log

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/afero"
)

// FileLogger writes trace events to a file in CBOR format.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	file    afero.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// NewFileLogger creates a FileLogger on the OS filesystem.
func NewFileLogger(path string) (*FileLogger, error) {
	return NewFileLoggerFs(afero.NewOsFs(), path)
}

// NewFileLoggerFs creates a FileLogger on fs. If the file exists, new events
// are appended; otherwise it is created with permissions 0644.
func NewFileLoggerFs(fs afero.Fs, path string) (*FileLogger, error) {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Log writes an event to the trace file.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	// Ignore encoding errors - tracing should not disrupt the daemon
	_ = l.encoder.Encode(event)
}

// Close closes the trace file.
// It is safe to call Close multiple times; later Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	return l.file.Close()
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
