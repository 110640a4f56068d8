package minifs

import (
	"errors"
	"os"
)

// Errors returned by FileSystem operations. They are always wrapped with context,
// so compare with errors.Is.
var (
	// ErrInvalidName is returned for an empty, oversized, reserved or otherwise unusable name.
	ErrInvalidName = errors.New("invalid name")
	// ErrAlreadyExists is returned when the directory already has a child of that name.
	ErrAlreadyExists = os.ErrExist
	// ErrNotFound is returned when a name does not resolve, or resolves to the wrong type of object.
	ErrNotFound = os.ErrNotExist
	// ErrNotEmpty is returned when removing a directory that still has children.
	ErrNotEmpty = errors.New("directory not empty")
	// ErrCapacityExceeded is returned when there are not enough free blocks, or a directory's
	// reference table is full.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrTooLarge is returned when content exceeds what a single inode can address.
	ErrTooLarge = errors.New("file too large")
	// ErrIO is returned when a positioned read or write on the image fails or is short.
	ErrIO = errors.New("i/o error")
	// ErrInvalidImage is returned when on-disk structures are inconsistent or not a minifs image.
	ErrInvalidImage = errors.New("invalid minifs image")
)
