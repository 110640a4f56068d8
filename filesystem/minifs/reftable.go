package minifs

import (
	"fmt"
	"slices"

	log "github.com/sirupsen/logrus"
)

// The reference table of an inode is its logical list of block references: the direct slots in
// order, followed by the entries of the indirect block when there is one. Every change goes through
// appendRef or setRefs so the table stays contiguous.

// refCount is the number of live references in the table
func refCount(in *Inode) uint32 {
	if in.Indirect == 0 {
		return in.Used
	}
	return DirectBlocks + in.Used
}

// tableFull reports whether no more references can be added to in
func (fs *FileSystem) tableFull(in *Inode) bool {
	return refCount(in) >= fs.superblock.maxReferences()
}

// appendNeedsIndirect reports whether the next append has to allocate an indirect block
func appendNeedsIndirect(in *Inode) bool {
	return in.Indirect == 0 && in.Used == DirectBlocks
}

// refs returns the logical reference list of in
func (fs *FileSystem) refs(in *Inode) ([]uint32, error) {
	if in.Indirect == 0 {
		if in.Used > DirectBlocks {
			return nil, fmt.Errorf("%w: inode %d has %d references without an indirect block", ErrInvalidImage, in.Block, in.Used)
		}
		return slices.Clone(in.Direct[:in.Used]), nil
	}
	indirect, err := fs.readRefBlock(in.Indirect, in.Used)
	if err != nil {
		return nil, fmt.Errorf("could not read indirect block of inode %d: %w", in.Block, err)
	}
	return append(slices.Clone(in.Direct[:]), indirect...), nil
}

// writeRef stores ref as entry index of an indirect block
func (fs *FileSystem) writeRef(block, index, ref uint32) error {
	b := make([]byte, bytesPerBlockRef)
	putUint32(b, 0, ref)
	offset := fs.superblock.blockOffset(block) + int64(index*bytesPerBlockRef)
	if err := writeFull(fs.file, b, offset); err != nil {
		return fmt.Errorf("could not write entry %d of indirect block %d: %w", index, block, err)
	}
	return nil
}

// appendRef adds ref to the end of the table of in, allocating the indirect block when the direct
// slots are exhausted. The caller writes the inode.
func (fs *FileSystem) appendRef(in *Inode, ref uint32) error {
	switch {
	case fs.tableFull(in):
		return fmt.Errorf("%w: %q already holds %d references", ErrCapacityExceeded, in.Name, refCount(in))
	case in.Indirect == 0 && in.Used < DirectBlocks:
		in.Direct[in.Used] = ref
		in.Used++
	case in.Indirect == 0:
		block, err := fs.bitmap.allocate()
		if err != nil {
			return fmt.Errorf("could not allocate indirect block for %q: %w", in.Name, err)
		}
		if err := fs.writeRefBlock(block, []uint32{ref}); err != nil {
			return err
		}
		in.Indirect = block
		in.Used = 1
		log.WithFields(log.Fields{"name": in.Name, "block": block}).Debug("switched to indirect addressing")
	default:
		if err := fs.writeRef(in.Indirect, in.Used, ref); err != nil {
			return err
		}
		in.Used++
	}
	return nil
}

// setRefs rewrites the whole table of in compactly: the first entries go to the direct slots and
// the rest to the indirect block. The indirect block is allocated when needed and released once the
// list fits in the direct slots again. The caller writes the inode.
func (fs *FileSystem) setRefs(in *Inode, refs []uint32) error {
	n := uint32(len(refs))
	if n > fs.superblock.maxReferences() {
		return fmt.Errorf("%w: %d references do not fit in one inode", ErrCapacityExceeded, n)
	}
	clear(in.Direct[:])
	copy(in.Direct[:], refs)
	if n <= DirectBlocks {
		if in.Indirect != 0 {
			if err := fs.bitmap.release(in.Indirect); err != nil {
				return fmt.Errorf("could not release indirect block of %q: %w", in.Name, err)
			}
			log.WithFields(log.Fields{"name": in.Name, "block": in.Indirect}).Debug("reverted to direct addressing")
			in.Indirect = 0
		}
		in.Used = n
		return nil
	}
	if in.Indirect == 0 {
		block, err := fs.bitmap.allocate()
		if err != nil {
			return fmt.Errorf("could not allocate indirect block for %q: %w", in.Name, err)
		}
		in.Indirect = block
	}
	if err := fs.writeRefBlock(in.Indirect, refs[DirectBlocks:]); err != nil {
		return err
	}
	in.Used = n - DirectBlocks
	return nil
}

// removeRef drops ref from the table of in, shifting later entries down
func (fs *FileSystem) removeRef(in *Inode, ref uint32) error {
	refs, err := fs.refs(in)
	if err != nil {
		return err
	}
	i := slices.Index(refs, ref)
	if i < 0 {
		return fmt.Errorf("%w: %q does not reference block %d", ErrInvalidImage, in.Name, ref)
	}
	return fs.setRefs(in, slices.Delete(refs, i, i+1))
}
