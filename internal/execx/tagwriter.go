package execx

import (
	"bytes"
	"io"
	"sync"
)

// TagWriter prefixes every line written through it with "[tag] " and emits
// only whole lines to the underlying writer. Concurrent writers sharing one
// sink therefore never interleave partial lines.
type TagWriter struct {
	mu     sync.Mutex
	prefix []byte
	sink   io.Writer
	buf    bytes.Buffer
}

// NewTagWriter creates a TagWriter emitting to sink.
func NewTagWriter(tag string, sink io.Writer) *TagWriter {
	return &TagWriter{prefix: []byte("[" + tag + "] "), sink: sink}
}

// Write buffers p and flushes complete lines with the tag prefix.
func (w *TagWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line, keep it buffered for the next write.
			w.buf.Write(line)
			break
		}
		if err := w.writeLine(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush emits any buffered partial line, terminating it with a newline.
func (w *TagWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	line := append(w.buf.Bytes(), '\n')
	w.buf.Reset()
	return w.writeLine(line)
}

func (w *TagWriter) writeLine(line []byte) error {
	out := make([]byte, 0, len(w.prefix)+len(line))
	out = append(out, w.prefix...)
	out = append(out, line...)
	_, err := w.sink.Write(out)
	return err
}
