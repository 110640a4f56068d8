// Package archive stores a whole image as one compressed stream.
//
// An archive is a 13 byte header followed by the compressed image:
//
//	0x00  4  magic "MFSA"
//	0x04  1  compression
//	0x05  8  uncompressed image length, little endian
package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

const (
	headerSize = 13
	magic      = "MFSA"
)

// ErrNotArchive is returned by Restore when the source does not start with an archive header
var ErrNotArchive = errors.New("not a minifs archive")

type header struct {
	compression Compression
	size        int64
}

func (h header) toBytes() []byte {
	b := make([]byte, headerSize)
	copy(b, magic)
	b[4] = byte(h.compression)
	binary.LittleEndian.PutUint64(b[5:], uint64(h.size))
	return b
}

func headerFromBytes(b []byte) (header, error) {
	if len(b) < headerSize || !bytes.Equal(b[:4], []byte(magic)) {
		return header{}, ErrNotArchive
	}
	size := binary.LittleEndian.Uint64(b[5:])
	if size > 1<<62 {
		return header{}, fmt.Errorf("%w: image length %d", ErrNotArchive, size)
	}
	return header{compression: Compression(b[4]), size: int64(size)}, nil
}

// Dump writes the first size bytes of src to dst as an archive compressed with c
func Dump(dst io.Writer, src io.ReaderAt, size int64, c Compressor) error {
	h := header{compression: c.flavour(), size: size}
	if _, err := dst.Write(h.toBytes()); err != nil {
		return fmt.Errorf("could not write archive header: %w", err)
	}
	w, err := c.compressor(dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(w, io.NewSectionReader(src, 0, size))
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("could not compress image: %w", err)
	}
	if n != size {
		_ = w.Close()
		return fmt.Errorf("image ended after %d of %d bytes", n, size)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("could not finish %s stream: %w", h.compression, err)
	}
	log.WithFields(log.Fields{"compression": h.compression, "size": size}).Debug("dumped image")
	return nil
}

// Restore writes the image stored in the archive src to the start of dst and returns its length
func Restore(dst io.WriterAt, src io.Reader) (int64, error) {
	b := make([]byte, headerSize)
	if _, err := io.ReadFull(src, b); err != nil {
		return 0, fmt.Errorf("could not read archive header: %w", err)
	}
	h, err := headerFromBytes(b)
	if err != nil {
		return 0, err
	}
	c, err := NewCompressor(h.compression)
	if err != nil {
		return 0, err
	}
	r, err := c.decompressor(src)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	n, err := io.CopyN(io.NewOffsetWriter(dst, 0), r, h.size)
	if err != nil {
		return n, fmt.Errorf("could not restore image, wrote %d of %d bytes: %w", n, h.size, err)
	}
	log.WithFields(log.Fields{"compression": h.compression, "size": n}).Debug("restored image")
	return n, nil
}
