package minifs

import (
	"fmt"
	"math/bits"

	"github.com/google/uuid"
)

const (
	// SuperblockSize is the on-disk width of the superblock record at offset 0
	SuperblockSize   int    = 0x2c
	superblockMagic  uint32 = 0x4d494e49 // "MINI"
	bytesPerBlockRef uint32 = 4
)

// superblock is the in-memory form of the record at offset 0 of the image. It is the single
// source of truth for blocksRemain.
type superblock struct {
	blocksTotal  uint32
	blocksRemain uint32
	blockSize    uint32
	inodeSize    uint32
	bitmapOffset uint32
	rootBlock    uint32
	magic        uint32
	uuid         uuid.UUID
}

// Superblock describes the geometry and allocation state of an image
type Superblock struct {
	Blocks       uint32
	FreeBlocks   uint32
	BlockSize    uint32
	InodeSize    uint32
	BitmapOffset uint32
	BitmapSize   uint32
	HeaderBlocks uint32
	RootBlock    uint32
	UUID         uuid.UUID
}

func (sb *superblock) equal(a *superblock) bool {
	if (sb == nil && a != nil) || (a == nil && sb != nil) {
		return false
	}
	if sb == nil && a == nil {
		return true
	}
	return *sb == *a
}

// bitmapSize is the length of the bitmap region in bytes
func (sb *superblock) bitmapSize() uint32 {
	return (sb.blocksTotal + 7) / 8
}

// headerBlocks is the number of leading blocks occupied by the superblock and the bitmap
func (sb *superblock) headerBlocks() uint32 {
	header := uint64(sb.bitmapOffset) + uint64(sb.bitmapSize())
	return uint32((header + uint64(sb.blockSize) - 1) / uint64(sb.blockSize))
}

// indirectCapacity is how many block references fit in one indirect block
func (sb *superblock) indirectCapacity() uint32 {
	return sb.blockSize / bytesPerBlockRef
}

// maxReferences is the size of a full reference table: all direct slots plus a full indirect block
func (sb *superblock) maxReferences() uint32 {
	return DirectBlocks + sb.indirectCapacity()
}

func (sb *superblock) blockOffset(block uint32) int64 {
	return int64(block) * int64(sb.blockSize)
}

func (sb *superblock) export() Superblock {
	return Superblock{
		Blocks:       sb.blocksTotal,
		FreeBlocks:   sb.blocksRemain,
		BlockSize:    sb.blockSize,
		InodeSize:    sb.inodeSize,
		BitmapOffset: sb.bitmapOffset,
		BitmapSize:   sb.bitmapSize(),
		HeaderBlocks: sb.headerBlocks(),
		RootBlock:    sb.rootBlock,
		UUID:         sb.uuid,
	}
}

func (sb *superblock) toBytes() []byte {
	b := make([]byte, SuperblockSize)
	offset := putUint32(b, 0x0, sb.blocksTotal)
	offset = putUint32(b, offset, sb.blocksRemain)
	offset = putUint32(b, offset, sb.blockSize)
	offset = putUint32(b, offset, sb.inodeSize)
	offset = putUint32(b, offset, sb.bitmapOffset)
	offset = putUint32(b, offset, sb.rootBlock)
	offset = putUint32(b, offset, sb.magic)
	copy(b[offset:], sb.uuid[:])
	return b
}

// superblockFromBytes decodes and validates a superblock record
func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) < SuperblockSize {
		return nil, fmt.Errorf("%w: superblock needs %d bytes, received %d", ErrInvalidImage, SuperblockSize, len(b))
	}
	sb := superblock{}
	var (
		offset int
		err    error
	)
	fields := []*uint32{&sb.blocksTotal, &sb.blocksRemain, &sb.blockSize, &sb.inodeSize, &sb.bitmapOffset, &sb.rootBlock, &sb.magic}
	for _, field := range fields {
		if offset, err = toUint32(b, offset, field); err != nil {
			return nil, fmt.Errorf("failed to deserialize superblock: %w", err)
		}
	}
	if sb.uuid, err = uuid.FromBytes(b[offset : offset+16]); err != nil {
		return nil, fmt.Errorf("failed to deserialize volume uuid: %w", err)
	}
	if err = sb.validate(); err != nil {
		return nil, err
	}
	return &sb, nil
}

func (sb *superblock) validate() error {
	switch {
	case sb.magic != superblockMagic:
		return fmt.Errorf("%w: bad magic %#08x", ErrInvalidImage, sb.magic)
	case bits.OnesCount32(sb.blockSize) != 1 || sb.blockSize < MinBlockSize || sb.blockSize > MaxBlockSize:
		return fmt.Errorf("%w: unsupported block size %d", ErrInvalidImage, sb.blockSize)
	case sb.inodeSize != InodeSize:
		return fmt.Errorf("%w: inode record size %d, expected %d", ErrInvalidImage, sb.inodeSize, InodeSize)
	case sb.bitmapOffset != uint32(SuperblockSize):
		return fmt.Errorf("%w: bitmap offset %d, expected %d", ErrInvalidImage, sb.bitmapOffset, SuperblockSize)
	case sb.blocksRemain > sb.blocksTotal:
		return fmt.Errorf("%w: %d free blocks out of %d", ErrInvalidImage, sb.blocksRemain, sb.blocksTotal)
	case sb.rootBlock < sb.headerBlocks() || sb.rootBlock >= sb.blocksTotal:
		return fmt.Errorf("%w: root block %d outside of data region", ErrInvalidImage, sb.rootBlock)
	}
	return nil
}
