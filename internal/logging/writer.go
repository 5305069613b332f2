package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
)

// Writer is an io.Writer implementation that forwards command output to slog.
// Output is split into lines; a trailing partial line is held until the next
// newline or Flush.
type Writer struct {
	logger *slog.Logger
	source string

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewWriter constructs a Writer bound to the provided logger. The source is
// attached to every record so engine and hook output can be told apart.
func NewWriter(logger *slog.Logger, source string) *Writer {
	return &Writer{logger: logger, source: source}
}

// Write logs every complete line in p at info level.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: put it back for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line)
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *Writer) emit(raw string) {
	if w.logger == nil {
		return
	}
	line := strings.TrimRight(raw, "\r\n")
	if line == "" {
		return
	}
	if w.source != "" {
		w.logger.Info("command output", "source", w.source, "line", line)
		return
	}
	w.logger.Info("command output", "line", line)
}
