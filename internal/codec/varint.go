package codec

import "encoding/binary"

// putUvarint appends x to buf as an unsigned LEB128 varint, the same
// encoding encoding/binary.PutUvarint produces.
func putUvarint(buf []byte, x uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], x)
	return append(buf, tmp[:n]...)
}

// getUvarint decodes an unsigned LEB128 varint starting at buf[0]. It
// returns the decoded value, the number of bytes consumed, and ok=false if
// buf does not contain a complete varint (the caller reports Truncated).
func getUvarint(buf []byte) (value uint64, n int, ok bool) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, 0, false
	}
	return v, n, true
}
