package replay

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Capture format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next chunk time is relative to 0 again).
// - Data lines are: <t_ns>,<hex>
//   where t_ns is nanoseconds since START and hex is the raw bytes of one
//   transport read, exactly as received (unframed, possibly mid-frame).

type Chunk struct {
	At   time.Duration
	Data []byte
}

// IsStart reports whether c is a START marker.
func (c Chunk) IsStart() bool { return c.Data == nil }

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Chunk, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	chunks := make([]Chunk, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			chunks = append(chunks, Chunk{})
			continue
		}

		comma := strings.IndexByte(line, ',')
		if comma < 0 {
			return nil, fmt.Errorf("capture line %d: missing comma: %q", lineNo, line)
		}
		tsStr := strings.TrimSpace(line[:comma])
		hexStr := strings.ReplaceAll(strings.TrimSpace(line[comma+1:]), " ", "")
		if tsStr == "" || hexStr == "" {
			return nil, fmt.Errorf("capture line %d: empty field: %q", lineNo, line)
		}

		tsNs, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("capture line %d: invalid timestamp %q: %w", lineNo, tsStr, err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("capture line %d: negative timestamp %d", lineNo, tsNs)
		}
		b, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, fmt.Errorf("capture line %d: invalid hex payload: %w", lineNo, err)
		}

		chunks = append(chunks, Chunk{At: time.Duration(tsNs), Data: b})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// ReadFile loads a whole capture file.
func ReadFile(path string) ([]Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

// Writer appends chunks to a capture. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	c      io.Closer
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, time.Now())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// NewWriter starts a capture on w with its origin at start. If w is an
// io.Closer, Close closes it.
func NewWriter(w io.Writer, start time.Time) (*Writer, error) {
	bw := bufio.NewWriterSize(w, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		return nil, err
	}
	c, _ := w.(io.Closer)
	return &Writer{c: c, w: bw, start: start}, nil
}

func (ww *Writer) WriteChunk(now time.Time, data []byte) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("capture writer is closed")
	}
	if len(data) == 0 {
		return nil
	}

	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s\n", d.Nanoseconds(), hex.EncodeToString(data))
	return err
}

// Comment writes a '#' line, for annotating captures.
func (ww *Writer) Comment(text string) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("capture writer is closed")
	}
	for _, line := range strings.Split(text, "\n") {
		if _, err := fmt.Fprintf(ww.w, "# %s\n", line); err != nil {
			return err
		}
	}
	return nil
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	err := ww.w.Flush()
	if ww.c != nil {
		if cerr := ww.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
