package telemetry

// Checksum is the producer's additive checksum: the low 8 bits of the
// unsigned sum of every byte in b.
//
// It is not a CRC. Any single-bit flip changes the sum, but reordered bytes,
// compensating changes (+n on one byte, -n on another) and corruptions whose
// deltas add up to a multiple of 256 all go unnoticed. Firmware compatibility
// depends on this exact algorithm.
func Checksum(b []byte) uint8 {
	var sum uint8
	for _, v := range b {
		sum += v
	}
	return sum
}

// BodyChecksum computes the checksum over a body, excluding its trailing
// checksum byte.
func BodyChecksum(body []byte) uint8 {
	if len(body) == 0 {
		return 0
	}
	return Checksum(body[:len(body)-1])
}
