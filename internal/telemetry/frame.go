package telemetry

// EncodeFrame seals r and wraps its body with the start and end markers.
//
// There is no byte stuffing: frames are delimited by their fixed size, and
// marker values may legitimately appear inside a body.
func EncodeFrame(r Record) []byte {
	return AppendFrame(make([]byte, 0, FrameSize), r)
}

func AppendFrame(dst []byte, r Record) []byte {
	dst = append(dst, StartMarker)
	dst = r.Seal().AppendBody(dst)
	return append(dst, EndMarker)
}

// AppendRawFrame frames r without resealing, so a deliberately wrong checksum
// survives. Used to produce corrupted traffic.
func AppendRawFrame(dst []byte, r Record) []byte {
	dst = append(dst, StartMarker)
	dst = r.AppendBody(dst)
	return append(dst, EndMarker)
}
