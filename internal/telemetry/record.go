package telemetry

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	StartMarker byte = 0x02
	EndMarker   byte = 0x03

	// BodySize is the packed record length: u16 header, u32 timestamp,
	// three f32 readings and the trailing u8 checksum.
	BodySize = 2 + 4 + 4 + 4 + 4 + 1

	// FrameSize is the full wire unit including both markers.
	FrameSize = BodySize + 2
)

var ErrBodySize = errors.New("telemetry: body size mismatch")

// Record is one decoded telemetry sample, fields in wire order.
//
// Records are plain values; a consumer receiving one owns its copy.
type Record struct {
	Header      uint16
	Timestamp   uint32
	Temperature float32
	Pressure    float32
	Altitude    float32
	Checksum    uint8
}

func init() {
	// The packed layout is a contract with the producer firmware.
	if n := binary.Size(Record{}); n != BodySize {
		panic(fmt.Sprintf("telemetry: record layout is %d bytes, want %d", n, BodySize))
	}
}

// DecodeBody unpacks a little-endian body. It never returns a partially
// filled record: any length other than BodySize is rejected.
func DecodeBody(body []byte) (Record, error) {
	if len(body) != BodySize {
		return Record{}, fmt.Errorf("%w: got %d want %d", ErrBodySize, len(body), BodySize)
	}
	le := binary.LittleEndian
	return Record{
		Header:      le.Uint16(body[0:2]),
		Timestamp:   le.Uint32(body[2:6]),
		Temperature: math.Float32frombits(le.Uint32(body[6:10])),
		Pressure:    math.Float32frombits(le.Uint32(body[10:14])),
		Altitude:    math.Float32frombits(le.Uint32(body[14:18])),
		Checksum:    body[18],
	}, nil
}

// AppendBody packs r verbatim, including whatever checksum it carries.
func (r Record) AppendBody(dst []byte) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint16(dst, r.Header)
	dst = le.AppendUint32(dst, r.Timestamp)
	dst = le.AppendUint32(dst, math.Float32bits(r.Temperature))
	dst = le.AppendUint32(dst, math.Float32bits(r.Pressure))
	dst = le.AppendUint32(dst, math.Float32bits(r.Altitude))
	return append(dst, r.Checksum)
}

// Seal returns a copy of r whose Checksum matches its payload fields.
func (r Record) Seal() Record {
	var buf [BodySize]byte
	body := r.AppendBody(buf[:0])
	r.Checksum = BodyChecksum(body)
	return r
}

// Valid reports whether the stored checksum matches the payload fields.
func (r Record) Valid() bool {
	return r.Seal().Checksum == r.Checksum
}

type recordJSON struct {
	Header      uint16   `json:"header"`
	Timestamp   uint32   `json:"timestamp"`
	Temperature *float64 `json:"temperature"`
	Pressure    *float64 `json:"pressure"`
	Altitude    *float64 `json:"altitude"`
	Checksum    uint8    `json:"checksum"`
}

// MarshalJSON renders non-finite readings as null; a frame that passes the
// additive checksum can still carry NaN bit patterns.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Header:      r.Header,
		Timestamp:   r.Timestamp,
		Temperature: finite(r.Temperature),
		Pressure:    finite(r.Pressure),
		Altitude:    finite(r.Altitude),
		Checksum:    r.Checksum,
	})
}

func finite(v float32) *float64 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Field returns a named reading as float64. Names match the JSON keys.
func (r Record) Field(name string) (float64, bool) {
	switch name {
	case "header":
		return float64(r.Header), true
	case "timestamp":
		return float64(r.Timestamp), true
	case "temperature":
		return float64(r.Temperature), true
	case "pressure":
		return float64(r.Pressure), true
	case "altitude":
		return float64(r.Altitude), true
	case "checksum":
		return float64(r.Checksum), true
	default:
		return 0, false
	}
}
