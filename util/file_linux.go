package util

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrImageBusy is returned when another process holds a conflicting lock on the image.
var ErrImageBusy = errors.New("image is in use by another process")

func lockImage(f *os.File, shared bool) error {
	how := unix.LOCK_EX
	if shared {
		how = unix.LOCK_SH
	}
	if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrImageBusy
		}
		return os.NewSyscallError("flock", err)
	}
	return nil
}

// getBlockDeviceSize get the size of an opened block device in Bytes.
func getBlockDeviceSize(f *os.File) (int64, error) {
	var blockDeviceSize uint64
	if _, _, err := syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&blockDeviceSize))); err != 0 {
		return 0, os.NewSyscallError("ioctl: BLKGETSIZE64", err)
	}
	if blockDeviceSize == 0 {
		return 0, fmt.Errorf("block device %s reports size 0", f.Name())
	}
	return int64(blockDeviceSize), nil
}
