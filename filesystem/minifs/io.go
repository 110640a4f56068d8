package minifs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/diskfs/minifs/util"
)

func toUint32(b []byte, start int, to *uint32) (int, error) {
	if len(b) < start+4 {
		return 0, fmt.Errorf("%w: expected at least %d bytes, received: %d", io.ErrUnexpectedEOF, start+4, len(b))
	}
	*to = binary.LittleEndian.Uint32(b[start:])
	return start + 4, nil
}

func toUint8(b []byte, start int, to *uint8) (int, error) {
	if len(b) <= start {
		return 0, fmt.Errorf("%w: expected at least %d bytes, received: %d", io.ErrUnexpectedEOF, start+1, len(b))
	}
	*to = b[start]
	return start + 1, nil
}

// toString reads a NUL padded string field of the given length
func toString(b []byte, start, length int, to *string) (int, error) {
	if len(b) < start+length {
		return 0, fmt.Errorf("%w: expected at least %d bytes, received: %d", io.ErrUnexpectedEOF, start+length, len(b))
	}
	field := b[start : start+length]
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	*to = string(field)
	return start + length, nil
}

func putUint32(b []byte, start int, v uint32) int {
	binary.LittleEndian.PutUint32(b[start:start+4], v)
	return start + 4
}

// putString writes s into a field of the given length, truncating it and padding with NUL.
// The last byte of the field is always NUL.
func putString(b []byte, start, length int, s string) int {
	field := b[start : start+length]
	clear(field)
	copy(field[:length-1], s)
	return start + length
}

// readFull reads exactly len(b) bytes at off, reporting anything short as ErrIO
func readFull(f util.File, b []byte, off int64) error {
	n, err := f.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %d of %d bytes at offset %d: %v", ErrIO, n, len(b), off, err)
	}
	return fmt.Errorf("%w: read %d of %d bytes at offset %d", ErrIO, n, len(b), off)
}

// writeFull writes all of b at off, reporting anything short as ErrIO
func writeFull(f util.File, b []byte, off int64) error {
	n, err := f.WriteAt(b, off)
	if err != nil {
		return fmt.Errorf("%w: wrote %d of %d bytes at offset %d: %v", ErrIO, n, len(b), off, err)
	}
	if n != len(b) {
		return fmt.Errorf("%w: wrote %d of %d bytes at offset %d", ErrIO, n, len(b), off)
	}
	return nil
}
