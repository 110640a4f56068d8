package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/djherbis/times"
	"github.com/pkg/xattr"
	log "github.com/sirupsen/logrus"

	"github.com/diskfs/minifs/filesystem/minifs"
)

// createdAttr carries the creation time of a file across push and pull
const createdAttr = "user.minifs.created"

// pullNative copies the native file src into dir as name
func pullNative(fs *minifs.FileSystem, dir minifs.Inode, src, name string, preserveTimes bool) (minifs.Inode, error) {
	f, err := os.Open(src)
	if err != nil {
		return minifs.Inode{}, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return minifs.Inode{}, err
	}
	if !fi.Mode().IsRegular() {
		return minifs.Inode{}, fmt.Errorf("%s is not a regular file", src)
	}
	var opts []minifs.PullOption
	if preserveTimes {
		created, err := nativeCreated(src)
		if err != nil {
			return minifs.Inode{}, err
		}
		opts = append(opts, minifs.WithCreated(created))
	}
	return fs.Pull(dir, name, f, fi.Size(), opts...)
}

// nativeCreated is the creation time recorded by a previous push, else the birth time of the file,
// else its modification time
func nativeCreated(p string) (time.Time, error) {
	if b, err := xattr.Get(p, createdAttr); err == nil {
		if t, err := time.Parse(time.RFC3339, string(b)); err == nil {
			return t, nil
		}
		log.WithField("path", p).Warnf("ignoring malformed %s attribute %q", createdAttr, b)
	}
	ts, err := times.Stat(p)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading times of %s: %w", p, err)
	}
	if ts.HasBirthTime() {
		return ts.BirthTime(), nil
	}
	return ts.ModTime(), nil
}

// pushNative copies the file name in dir to the native path dst and tags dst with its creation time
func pushNative(fs *minifs.FileSystem, dir minifs.Inode, name, dst string) (int64, error) {
	entry, err := lookup(fs, dir, name)
	if err != nil {
		return 0, err
	}
	if entry.IsDir() {
		return 0, fmt.Errorf("%s is a directory: %w", name, minifs.ErrNotFound)
	}
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return 0, err
	}
	n, err := fs.Push(dir, name, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rerr := os.Remove(dst); rerr != nil {
			log.WithError(rerr).WithField("path", dst).Warn("could not remove incomplete copy")
		}
		return n, err
	}
	if !entry.Created.IsZero() {
		if err := xattr.Set(dst, createdAttr, []byte(entry.Created.Format(time.RFC3339))); err != nil {
			// not every filesystem takes user attributes
			log.WithError(err).WithField("path", dst).Debug("could not record creation time")
		}
	}
	return n, nil
}

// lookup returns the inode of name in dir, matching names the way the image stores them
func lookup(fs *minifs.FileSystem, dir minifs.Inode, name string) (minifs.Inode, error) {
	block, ok, err := fs.FindChild(dir, name)
	if err != nil {
		return minifs.Inode{}, err
	}
	if !ok {
		return minifs.Inode{}, fmt.Errorf("%s in %s: %w", name, dir.Name, minifs.ErrNotFound)
	}
	return fs.Refresh(minifs.Inode{Block: block, Name: name})
}

// isUsage reports whether err is a mistake by the user rather than a broken image
func isUsage(err error) bool {
	for _, target := range []error{
		minifs.ErrInvalidName, minifs.ErrAlreadyExists, minifs.ErrNotFound, minifs.ErrNotEmpty,
		minifs.ErrCapacityExceeded, minifs.ErrTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
