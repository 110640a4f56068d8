//go:build !linux

package util

import (
	"errors"
	"fmt"
	"os"
)

// ErrImageBusy is returned when another process holds a conflicting lock on the image.
// Locking is only implemented on linux.
var ErrImageBusy = errors.New("image is in use by another process")

func lockImage(_ *os.File, _ bool) error {
	return nil
}

func getBlockDeviceSize(f *os.File) (int64, error) {
	return 0, fmt.Errorf("cannot size block device %s on this platform", f.Name())
}
