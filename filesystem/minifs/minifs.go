package minifs

import (
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/diskfs/minifs/util"
)

const (
	// DefaultBlockSize is the block size used when Params does not give one
	DefaultBlockSize uint32 = 512
	// DefaultBlockCount is the number of blocks used when Params does not give one
	DefaultBlockCount uint32 = 1024

	rootName = "/"
	// zeroChunk is the largest write Create issues while clearing the image
	zeroChunk = 1024 * 1024
)

// Params are the parameters for creating a new image
type Params struct {
	UUID       *uuid.UUID
	BlockSize  uint32
	BlockCount uint32
}

// FileSystem is a minifs image opened for reading and writing.
//
// All exported methods are safe to call from multiple goroutines; each runs as one exclusive
// section against the image. None of them is atomic on disk.
type FileSystem struct {
	mu         sync.Mutex
	superblock *superblock
	bitmap     *blockBitmap
	file       util.File
}

// Create formats a minifs image in the given file or device and creates its root directory.
//
// The image occupies p.BlockCount * p.BlockSize bytes from the start of f. Any zero value in p
// takes its default; p may be nil.
func Create(f util.File, p *Params) (*FileSystem, error) {
	if p == nil {
		p = &Params{}
	}
	blockSize := p.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if bits.OnesCount32(blockSize) != 1 || blockSize < MinBlockSize || blockSize > MaxBlockSize {
		return nil, fmt.Errorf("block size must be a power of 2 between %d and %d bytes, was %d", MinBlockSize, MaxBlockSize, blockSize)
	}
	blockCount := p.BlockCount
	if blockCount == 0 {
		blockCount = DefaultBlockCount
	}
	var volumeID uuid.UUID
	if p.UUID != nil {
		volumeID = *p.UUID
	} else {
		volumeID = uuid.New()
	}

	sb := &superblock{
		blocksTotal:  blockCount,
		blocksRemain: blockCount,
		blockSize:    blockSize,
		inodeSize:    InodeSize,
		bitmapOffset: uint32(SuperblockSize),
		magic:        superblockMagic,
		uuid:         volumeID,
	}
	header := sb.headerBlocks()
	if blockCount <= header {
		return nil, fmt.Errorf("%w: %d blocks of %d bytes leave no room after the %d header blocks", ErrCapacityExceeded, blockCount, blockSize, header)
	}
	sb.blocksRemain = blockCount - header

	log.WithFields(log.Fields{
		"blocks":     blockCount,
		"blockSize":  blockSize,
		"header":     header,
		"bitmapSize": sb.bitmapSize(),
	}).Debug("formatting image")

	// clear the whole image so dormant records from a previous format cannot be mistaken for live ones
	size := int64(blockCount) * int64(blockSize)
	zeros := make([]byte, min(int64(zeroChunk), size))
	for offset := int64(0); offset < size; offset += int64(len(zeros)) {
		chunk := zeros[:min(int64(len(zeros)), size-offset)]
		if err := writeFull(f, chunk, offset); err != nil {
			return nil, fmt.Errorf("could not clear image: %w", err)
		}
	}
	if err := writeFull(f, initialBitmap(sb), int64(sb.bitmapOffset)); err != nil {
		return nil, fmt.Errorf("could not write block bitmap: %w", err)
	}

	fs := &FileSystem{
		superblock: sb,
		bitmap:     &blockBitmap{file: f, sb: sb},
		file:       f,
	}
	if err := fs.mkroot(); err != nil {
		return nil, err
	}
	if err := fs.writeSuperblock(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Read reads a minifs image from the given file or device
func Read(f util.File) (*FileSystem, error) {
	b := make([]byte, SuperblockSize)
	if err := readFull(f, b, 0); err != nil {
		return nil, fmt.Errorf("could not read superblock: %w", err)
	}
	sb, err := superblockFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("could not interpret superblock: %w", err)
	}
	// the last byte of the last block must be there
	last := make([]byte, 1)
	if err = readFull(f, last, int64(sb.blocksTotal)*int64(sb.blockSize)-1); err != nil {
		return nil, fmt.Errorf("%w: image is shorter than %d blocks of %d bytes: %v", ErrInvalidImage, sb.blocksTotal, sb.blockSize, err)
	}
	fs := &FileSystem{
		superblock: sb,
		bitmap:     &blockBitmap{file: f, sb: sb},
		file:       f,
	}
	root, err := fs.readInode(sb.rootBlock)
	if err != nil {
		return nil, fmt.Errorf("could not read root directory: %w", err)
	}
	if !root.IsDir() || root.Parent != 0 {
		return nil, fmt.Errorf("%w: block %d is not a root directory", ErrInvalidImage, sb.rootBlock)
	}
	return fs, nil
}

// Superblock returns a snapshot of the image geometry and free block count
func (fs *FileSystem) Superblock() Superblock {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.superblock.export()
}

// Root returns a cursor on the root directory
func (fs *FileSystem) Root() (Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	root, err := fs.readInode(fs.superblock.rootBlock)
	if err != nil {
		return Inode{}, fmt.Errorf("could not read root directory: %w", err)
	}
	return *root, nil
}

// Refresh re-reads a cursor from the image
func (fs *FileSystem) Refresh(in Inode) (Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fresh, err := fs.readLiveInode(in)
	if err != nil {
		return Inode{}, err
	}
	return *fresh, nil
}

// readLiveInode re-reads a cursor. A record left behind in a released block is not live, the cursor
// points at something that was removed.
func (fs *FileSystem) readLiveInode(in Inode) (*Inode, error) {
	used, err := fs.bitmap.isUnavailable(in.Block)
	if err != nil {
		return nil, err
	}
	if !used {
		return nil, fmt.Errorf("%q at block %d was removed: %w", in.Name, in.Block, ErrNotFound)
	}
	return fs.readInode(in.Block)
}

// Close writes out the superblock. It does not close the underlying file.
func (fs *FileSystem) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writeSuperblock()
}

func (fs *FileSystem) writeSuperblock() error {
	if err := writeFull(fs.file, fs.superblock.toBytes(), 0); err != nil {
		return fmt.Errorf("could not write superblock: %w", err)
	}
	return nil
}

// mkroot allocates and writes the root directory. It runs once, when the image is created.
func (fs *FileSystem) mkroot() error {
	block, err := fs.bitmap.allocate()
	if err != nil {
		return fmt.Errorf("could not allocate root directory: %w", err)
	}
	root := newInode(block, 0, rootName, FileTypeDirectory, time.Now())
	root.Size = InodeSize
	if err := fs.writeInode(root); err != nil {
		return fmt.Errorf("could not write root directory: %w", err)
	}
	fs.superblock.rootBlock = block
	log.WithField("block", block).Debug("created root directory")
	return nil
}

// loadDirectory re-reads a directory cursor so operations act on the current on-disk record
func (fs *FileSystem) loadDirectory(dir Inode) (*Inode, error) {
	in, err := fs.readLiveInode(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read directory %q: %w", dir.Name, err)
	}
	if !in.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", ErrNotFound, in.Name)
	}
	return in, nil
}
