package replay

import (
	"time"

	"cztelemetry/internal/source"
)

// Tee records every byte read from a Source into a capture, so a live
// session can be replayed later. Write failures do not disturb the reader;
// the first one is kept and reported by Close.
type Tee struct {
	source.Source
	w   *Writer
	now func() time.Time
	err error
}

func NewTee(src source.Source, w *Writer, now func() time.Time) *Tee {
	if now == nil {
		now = time.Now
	}
	return &Tee{Source: src, w: w, now: now}
}

func (t *Tee) Read(p []byte) (int, error) {
	n, err := t.Source.Read(p)
	if n > 0 && t.err == nil {
		t.err = t.w.WriteChunk(t.now(), p[:n])
	}
	return n, err
}

// Close closes the source, then the capture.
func (t *Tee) Close() error {
	err := t.Source.Close()
	if werr := t.w.Close(); err == nil {
		err = werr
	}
	if err == nil {
		err = t.err
	}
	return err
}
