package minifs

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
)

type pullOptions struct {
	created time.Time
}

// PullOption changes how Pull creates a file
type PullOption func(*pullOptions)

// WithCreated sets the creation time of the new file instead of using the current time
func WithCreated(t time.Time) PullOption {
	return func(o *pullOptions) {
		o.created = t
	}
}

// blocksRequired is how many blocks of blockSize bytes it takes to hold size bytes
func blocksRequired(size int64, blockSize uint32) int64 {
	return (size + int64(blockSize) - 1) / int64(blockSize)
}

// MaxFileSize is the largest file an image with the given block size can hold
func MaxFileSize(blockSize uint32) int64 {
	return int64(DirectBlocks+blockSize/bytesPerBlockRef) * int64(blockSize)
}

// Pull creates the file name inside dir from exactly size bytes of src
func (fs *FileSystem) Pull(dir Inode, name string, src io.Reader, size int64, opts ...PullOption) (Inode, error) {
	o := pullOptions{created: time.Now()}
	for _, opt := range opts {
		opt(&o)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := validateName(name); err != nil {
		return Inode{}, err
	}
	if size < 0 {
		return Inode{}, fmt.Errorf("invalid size %d for %q", size, name)
	}
	parent, err := fs.loadDirectory(dir)
	if err != nil {
		return Inode{}, err
	}
	existing, err := fs.findChild(parent, name)
	if err != nil {
		return Inode{}, err
	}
	if existing != nil {
		return Inode{}, fmt.Errorf("cannot create file %q in %q: %w", name, parent.Name, ErrAlreadyExists)
	}

	sb := fs.superblock
	dataBlocks := blocksRequired(size, sb.blockSize)
	if dataBlocks > int64(sb.maxReferences()) {
		return Inode{}, fmt.Errorf("%w: %q needs %d blocks, an inode addresses at most %d", ErrTooLarge, name, dataBlocks, sb.maxReferences())
	}
	root, err := fs.readInode(sb.rootBlock)
	if err != nil {
		return Inode{}, fmt.Errorf("could not read root directory: %w", err)
	}
	if int64(root.Size)+size > math.MaxUint32 {
		return Inode{}, fmt.Errorf("%w: image cannot account for %d more bytes", ErrTooLarge, size)
	}
	if fs.tableFull(parent) {
		return Inode{}, fmt.Errorf("%w: directory %q is full", ErrCapacityExceeded, parent.Name)
	}
	needed := 1 + dataBlocks
	if dataBlocks > int64(DirectBlocks) {
		needed++
	}
	if appendNeedsIndirect(parent) {
		needed++
	}
	if int64(sb.blocksRemain) < needed {
		return Inode{}, fmt.Errorf("%w: need %d free blocks, have %d", ErrCapacityExceeded, needed, sb.blocksRemain)
	}

	block, err := fs.bitmap.allocate()
	if err != nil {
		return Inode{}, fmt.Errorf("could not allocate file %q: %w", name, err)
	}
	file := newInode(block, parent.Block, name, FileTypeRegular, o.created)
	refs, err := fs.writeData(src, size)
	if err != nil {
		errs := []error{fmt.Errorf("could not write content of %q: %w", name, err)}
		// nothing references the blocks yet, so hand them back
		for _, ref := range append(refs, block) {
			if err := fs.bitmap.release(ref); err != nil {
				errs = append(errs, err)
			}
		}
		if err := fs.writeSuperblock(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 1 {
			log.WithError(errors.Join(errs[1:]...)).WithField("name", name).Warn("rollback of failed pull is incomplete")
		}
		return Inode{}, errors.Join(errs...)
	}
	file.Size = uint32(size)
	if err := fs.setRefs(file, refs); err != nil {
		return Inode{}, err
	}
	if err := fs.writeInode(file); err != nil {
		return Inode{}, err
	}
	if err := fs.link(parent, file); err != nil {
		return Inode{}, err
	}
	log.WithFields(log.Fields{"name": name, "block": block, "size": size, "blocks": len(refs)}).Debug("pulled file")
	return *file, nil
}

// writeData copies size bytes of src into newly allocated blocks, zero padding the last one.
// It returns the blocks in order, including those allocated before a failure.
func (fs *FileSystem) writeData(src io.Reader, size int64) ([]uint32, error) {
	blockSize := int64(fs.superblock.blockSize)
	refs := make([]uint32, 0, blocksRequired(size, fs.superblock.blockSize))
	buf := make([]byte, blockSize)
	for remaining := size; remaining > 0; {
		n := min(blockSize, remaining)
		clear(buf)
		if _, err := io.ReadFull(src, buf[:n]); err != nil {
			return refs, fmt.Errorf("%w: source ended %d bytes short: %v", ErrIO, remaining, err)
		}
		block, err := fs.bitmap.allocate()
		if err != nil {
			return refs, err
		}
		refs = append(refs, block)
		if err := fs.writeBlock(block, buf); err != nil {
			return refs, err
		}
		remaining -= n
	}
	return refs, nil
}

// Push writes the content of the file name inside dir to dst and returns how many bytes it wrote
func (fs *FileSystem) Push(dir Inode, name string, dst io.Writer) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.loadDirectory(dir)
	if err != nil {
		return 0, err
	}
	file, err := fs.findChild(parent, name)
	if err != nil {
		return 0, err
	}
	if file == nil {
		return 0, fmt.Errorf("file %q in %q: %w", name, parent.Name, ErrNotFound)
	}
	if file.IsDir() {
		return 0, fmt.Errorf("%q in %q is a directory: %w", name, parent.Name, ErrNotFound)
	}
	refs, err := fs.refs(file)
	if err != nil {
		return 0, err
	}
	if needed := blocksRequired(int64(file.Size), fs.superblock.blockSize); int64(len(refs)) < needed {
		return 0, fmt.Errorf("%w: %q is %d bytes but references only %d blocks", ErrInvalidImage, name, file.Size, len(refs))
	}

	var written int64
	buf := make([]byte, fs.superblock.blockSize)
	for _, ref := range refs {
		remaining := int64(file.Size) - written
		if remaining == 0 {
			break
		}
		if err := fs.readBlock(ref, buf); err != nil {
			return written, err
		}
		n, err := dst.Write(buf[:min(int64(len(buf)), remaining)])
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("%w: could not write content of %q: %v", ErrIO, name, err)
		}
	}
	return written, nil
}
