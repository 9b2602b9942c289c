// Package jsonl writes link events as one JSON object per line.
package jsonl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"cztelemetry/internal/hub"
	"cztelemetry/internal/link"
)

type Option func(*Writer)

// RecordsOnly drops diagnostics and the Done line.
func RecordsOnly() Option {
	return func(w *Writer) { w.recordsOnly = true }
}

type Writer struct {
	mu          sync.Mutex
	enc         *json.Encoder
	closer      io.Closer
	recordsOnly bool
	lines       uint64
}

func NewWriter(w io.Writer, opts ...Option) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	jw := &Writer{enc: enc}
	if c, ok := w.(io.Closer); ok && w != os.Stdout {
		jw.closer = c
	}
	for _, opt := range opts {
		opt(jw)
	}
	return jw
}

// Create opens path for writing, truncating it. "-" is stdout, which Close
// leaves open.
func Create(path string, opts ...Option) (*Writer, error) {
	return open(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, opts)
}

// Append is Create without truncation.
func Append(path string, opts ...Option) (*Writer, error) {
	return open(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, opts)
}

func open(path string, flag int, opts []Option) (*Writer, error) {
	if path == "" || path == "-" {
		return NewWriter(os.Stdout, opts...), nil
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonl: %w", err)
	}
	return NewWriter(f, opts...), nil
}

// Write encodes ev on its own line unless the writer filters it out.
func (w *Writer) Write(ev link.Event) error {
	if w.recordsOnly && ev.Kind != link.EventRecord {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(ev); err != nil {
		return fmt.Errorf("jsonl: %w", err)
	}
	w.lines++
	return nil
}

// Emit lets a Writer serve as a synchronous link.Sink. Write errors are
// dropped; use Consume to observe them.
func (w *Writer) Emit(ev link.Event) { _ = w.Write(ev) }

// Consume writes events until the subscription closes or a write fails. The
// link closes every subscription right after Done, so the queued tail and
// the Done line are always written; stopping the link is how to end it.
func (w *Writer) Consume(sub *hub.Subscription[link.Event]) error {
	for ev := range sub.C() {
		if err := w.Write(ev); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
