package telemetry

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum_IsSumMod256(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	buf := make([]byte, BodySize-1)
	for i := 0; i < 1000; i++ {
		rng.Read(buf)
		sum := 0
		for _, b := range buf {
			sum += int(b)
		}
		require.Equal(t, uint8(sum%256), Checksum(buf))
	}
}

func TestChecksum_Empty(t *testing.T) {
	assert.Equal(t, uint8(0), Checksum(nil))
	assert.Equal(t, uint8(0), BodyChecksum(nil))
}

func TestBodyChecksum_ExcludesTrailingByte(t *testing.T) {
	body := make([]byte, BodySize)
	body[0] = 0x10
	body[BodySize-1] = 0xFF
	assert.Equal(t, uint8(0x10), BodyChecksum(body))
}

func TestChecksum_DetectsEverySingleBitFlip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	buf := make([]byte, BodySize-1)
	rng.Read(buf)
	want := Checksum(buf)

	for i := range buf {
		for bit := 0; bit < 8; bit++ {
			buf[i] ^= 1 << bit
			assert.NotEqual(t, want, Checksum(buf), "byte %d bit %d", i, bit)
			buf[i] ^= 1 << bit
		}
	}
}

// The additive checksum cannot see these corruptions.
func TestChecksum_KnownBlindSpots(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04}
	want := Checksum(buf)

	swapped := []byte{0x02, 0x01, 0x04, 0x03}
	assert.Equal(t, want, Checksum(swapped), "byte permutation")

	compensated := []byte{0x06, 0xFD, 0x03, 0x04}
	assert.Equal(t, want, Checksum(compensated), "+5 on one byte, -5 on another")

	wrapped := []byte{0x81, 0x82, 0x03, 0x04}
	assert.Equal(t, want, Checksum(wrapped), "two +0x80 deltas wrap to zero")
}
