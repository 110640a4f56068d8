package minifs

import (
	"fmt"
	"math/bits"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/minifs/util"
)

// bitmapWindow is how many bitmap bytes findFree reads at a time
const bitmapWindow = 1024

// blockBitmap is the free-block allocator. It works directly against the bitmap region of the
// image, one bit per block, MSB first within each byte: 1 means unavailable, 0 means free.
// There is no free list and no cache. The counters live in the superblock.
type blockBitmap struct {
	file util.File
	sb   *superblock
}

func bitMask(block uint32) byte {
	return 0x80 >> (block & 7)
}

func (bm *blockBitmap) cellOffset(block uint32) int64 {
	return int64(bm.sb.bitmapOffset) + int64(block>>3)
}

func (bm *blockBitmap) readCell(block uint32) (byte, error) {
	b := make([]byte, 1)
	if err := readFull(bm.file, b, bm.cellOffset(block)); err != nil {
		return 0, fmt.Errorf("could not read bitmap cell for block %d: %w", block, err)
	}
	return b[0], nil
}

func (bm *blockBitmap) writeCell(block uint32, cell byte) error {
	if err := writeFull(bm.file, []byte{cell}, bm.cellOffset(block)); err != nil {
		return fmt.Errorf("could not write bitmap cell for block %d: %w", block, err)
	}
	return nil
}

// isUnavailable reports whether block is in use. Blocks past the end of the image are always unavailable.
func (bm *blockBitmap) isUnavailable(block uint32) (bool, error) {
	if block >= bm.sb.blocksTotal {
		return true, nil
	}
	cell, err := bm.readCell(block)
	if err != nil {
		return true, err
	}
	return cell&bitMask(block) != 0, nil
}

// findFree returns the first free block in the bitmap, scanning linearly from block 0.
// ok is false when there is no free block.
func (bm *blockBitmap) findFree() (block uint32, ok bool, err error) {
	if bm.sb.blocksRemain == 0 {
		return 0, false, nil
	}
	size := bm.sb.bitmapSize()
	buf := make([]byte, bitmapWindow)
	for start := uint32(0); start < size; start += bitmapWindow {
		window := buf[:min(bitmapWindow, size-start)]
		if err = readFull(bm.file, window, int64(bm.sb.bitmapOffset)+int64(start)); err != nil {
			return 0, false, fmt.Errorf("could not read block bitmap: %w", err)
		}
		for i, cell := range window {
			if cell == 0xff {
				continue
			}
			j := uint32(bits.LeadingZeros8(^cell))
			block = (start+uint32(i))*8 + j
			if block >= bm.sb.blocksTotal {
				return 0, false, nil
			}
			return block, true, nil
		}
	}
	return 0, false, nil
}

// markUnavailable sets the bit for block and takes it out of the free count
func (bm *blockBitmap) markUnavailable(block uint32) error {
	if block >= bm.sb.blocksTotal {
		return fmt.Errorf("cannot allocate block %d: image has %d blocks", block, bm.sb.blocksTotal)
	}
	if bm.sb.blocksRemain == 0 {
		return fmt.Errorf("%w: cannot allocate block %d, free count is already 0", ErrInvalidImage, block)
	}
	cell, err := bm.readCell(block)
	if err != nil {
		return err
	}
	if cell&bitMask(block) != 0 {
		return fmt.Errorf("%w: block %d is already in use", ErrInvalidImage, block)
	}
	if err = bm.writeCell(block, cell|bitMask(block)); err != nil {
		return err
	}
	bm.sb.blocksRemain--
	return nil
}

// markAvailable clears the bit for block and returns it to the free count
func (bm *blockBitmap) markAvailable(block uint32) error {
	if block >= bm.sb.blocksTotal {
		return fmt.Errorf("cannot free block %d: image has %d blocks", block, bm.sb.blocksTotal)
	}
	if block < bm.sb.headerBlocks() {
		return fmt.Errorf("%w: cannot free header block %d", ErrInvalidImage, block)
	}
	cell, err := bm.readCell(block)
	if err != nil {
		return err
	}
	if cell&bitMask(block) == 0 {
		return fmt.Errorf("%w: block %d is already free", ErrInvalidImage, block)
	}
	if err = bm.writeCell(block, cell&^bitMask(block)); err != nil {
		return err
	}
	bm.sb.blocksRemain++
	return nil
}

// allocate finds a free block and reserves it
func (bm *blockBitmap) allocate() (uint32, error) {
	block, ok, err := bm.findFree()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: no free blocks", ErrCapacityExceeded)
	}
	if err = bm.markUnavailable(block); err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{"block": block, "free": bm.sb.blocksRemain}).Debug("allocated block")
	return block, nil
}

// release returns block to the free pool
func (bm *blockBitmap) release(block uint32) error {
	if err := bm.markAvailable(block); err != nil {
		return err
	}
	log.WithFields(log.Fields{"block": block, "free": bm.sb.blocksRemain}).Debug("released block")
	return nil
}

// countUsed counts the blocks marked unavailable, not including the padding bits past the last block
func (bm *blockBitmap) countUsed() (uint32, error) {
	b := make([]byte, bm.sb.bitmapSize())
	if err := readFull(bm.file, b, int64(bm.sb.bitmapOffset)); err != nil {
		return 0, fmt.Errorf("could not read block bitmap: %w", err)
	}
	var used int
	for _, cell := range b {
		used += bits.OnesCount8(cell)
	}
	pad := len(b)*8 - int(bm.sb.blocksTotal)
	return uint32(used - pad), nil
}

// initialBitmap builds the bitmap for a freshly formatted image: the header blocks and the padding
// bits past the last block are unavailable, everything else is free.
func initialBitmap(sb *superblock) []byte {
	b := make([]byte, sb.bitmapSize())
	for block := uint32(0); block < sb.headerBlocks(); block++ {
		b[block>>3] |= bitMask(block)
	}
	for block := sb.blocksTotal; block < uint32(len(b))*8; block++ {
		b[block>>3] |= bitMask(block)
	}
	return b
}
