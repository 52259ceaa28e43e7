package codec

import "fmt"

// Truncated means a parser ran past the end of the buffer while decoding a
// record header or payload. Per spec, this is not corruption: the file is
// presumed to be mid-sync and the caller should retry later.
type Truncated struct {
	AtOffset int
}

func (e *Truncated) Error() string {
	return fmt.Sprintf("truncated at offset %d", e.AtOffset)
}

// MagicMismatch means a file's leading magic bytes did not match the
// expected value for its kind. This is real corruption: callers quarantine
// the file.
type MagicMismatch struct {
	Want, Got [4]byte
}

func (e *MagicMismatch) Error() string {
	return fmt.Sprintf("magic mismatch: want %q got %q", e.Want[:], e.Got[:])
}

// UnknownVersion means a file's version byte is not one this codec
// understands. Also quarantine-worthy.
type UnknownVersion struct {
	Got byte
}

func (e *UnknownVersion) Error() string {
	return fmt.Sprintf("unknown version byte 0x%02x", e.Got)
}
