package signal

// Uint64 assembles up to eight little-endian bytes into an integer.
func Uint64(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		if i >= 8 {
			continue
		}
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Bytes returns the ceil(bitLength/8) little-endian bytes of v.
func Bytes(v uint64, bitLength uint16) []byte {
	n := int(bitLength+7) / 8
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

// SignExtend interprets the low bitLength bits of v as two's complement.
func SignExtend(v uint64, bitLength uint16) int64 {
	if bitLength == 0 || bitLength >= 64 {
		return int64(v)
	}
	shift := 64 - bitLength
	return int64(v<<shift) >> shift
}
