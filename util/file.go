// Package util holds the positioned-I/O abstraction that filesystem images are read and written through.
package util

import (
	"fmt"
	"io"
	"os"
)

// File is the backing store of a filesystem image. An *os.File satisfies it, as does
// anything else that supports positioned reads and writes.
type File interface {
	io.ReaderAt
	io.WriterAt
}

// CreateImage creates or truncates the image file at p and opens it exclusively for writing.
func CreateImage(p string) (*os.File, error) {
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("could not create image %s: %w", p, err)
	}
	if err = lockImage(f, false); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not lock image %s: %w", p, err)
	}
	return f, nil
}

// OpenImage opens an existing image. A read-write open takes an exclusive lock and a read-only
// open a shared one, so that only one process can mutate an image at a time.
func OpenImage(p string, readOnly bool) (*os.File, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(p, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open image %s: %w", p, err)
	}
	if err = lockImage(f, readOnly); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not lock image %s: %w", p, err)
	}
	return f, nil
}

// ImageSize returns the size in bytes of an opened image, which may be a regular file or a block device.
func ImageSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("could not stat %s: %w", f.Name(), err)
	}
	if fi.Mode()&os.ModeDevice != 0 {
		return getBlockDeviceSize(f)
	}
	return fi.Size(), nil
}
