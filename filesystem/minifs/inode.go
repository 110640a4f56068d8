package minifs

import (
	"fmt"
	"time"
)

const (
	// DirectBlocks is the number of block references stored inline in an inode
	DirectBlocks uint32 = 12
	// MaxNameLength is the longest name, in bytes, an inode can carry
	MaxNameLength = nameFieldLength - 1
	// InodeSize is the on-disk width of an inode record
	InodeSize uint32 = 0x7d
	// MinBlockSize and MaxBlockSize bound the block size of an image. A block must hold at least
	// the header of a one-block bitmap and an inode record.
	MinBlockSize uint32 = 128
	MaxBlockSize uint32 = 65536

	nameFieldLength    = 31
	createdFieldLength = 25
	createdLayout      = time.ANSIC
)

// FileType is the one-byte type tag of an inode
type FileType byte

const (
	FileTypeDirectory FileType = 'd'
	FileTypeRegular   FileType = '-'
)

func (t FileType) String() string {
	switch t {
	case FileTypeDirectory:
		return "directory"
	case FileTypeRegular:
		return "file"
	default:
		return fmt.Sprintf("unknown(%#02x)", byte(t))
	}
}

// Inode is one file or directory. It occupies exactly one block of the image, and that block
// number is its identity.
//
// A directory's references are the blocks of its children, a file's references are its data blocks.
// While Indirect is 0 the references live in Direct and Used counts them. Once a 13th reference is
// added an indirect block is allocated and Used counts the entries inside it instead.
type Inode struct {
	Direct   [DirectBlocks]uint32
	Indirect uint32
	Used     uint32
	Block    uint32
	Parent   uint32
	Name     string
	Created  time.Time
	Size     uint32
	Type     FileType
}

// IsDir reports whether the inode is a directory
func (in Inode) IsDir() bool {
	return in.Type == FileTypeDirectory
}

func newInode(block, parent uint32, name string, t FileType, created time.Time) *Inode {
	return &Inode{
		Block:   block,
		Parent:  parent,
		Name:    name,
		Created: created.Local().Truncate(time.Second),
		Type:    t,
	}
}

func (in *Inode) toBytes() []byte {
	b := make([]byte, InodeSize)
	offset := 0
	for _, ref := range in.Direct {
		offset = putUint32(b, offset, ref)
	}
	offset = putUint32(b, offset, in.Indirect)
	offset = putUint32(b, offset, in.Used)
	offset = putUint32(b, offset, in.Block)
	offset = putUint32(b, offset, in.Parent)
	offset = putString(b, offset, nameFieldLength, in.Name)
	var created string
	if !in.Created.IsZero() {
		created = in.Created.Local().Format(createdLayout)
	}
	offset = putString(b, offset, createdFieldLength, created)
	offset = putUint32(b, offset, in.Size)
	b[offset] = byte(in.Type)
	return b
}

func inodeFromBytes(b []byte) (*Inode, error) {
	if len(b) < int(InodeSize) {
		return nil, fmt.Errorf("inode data too short: %d bytes, must be min %d bytes", len(b), InodeSize)
	}
	in := Inode{}
	var (
		offset  int
		created string
		t       uint8
		err     error
	)
	for i := range in.Direct {
		if offset, err = toUint32(b, offset, &in.Direct[i]); err != nil {
			return nil, err
		}
	}
	for _, field := range []*uint32{&in.Indirect, &in.Used, &in.Block, &in.Parent} {
		if offset, err = toUint32(b, offset, field); err != nil {
			return nil, err
		}
	}
	if offset, err = toString(b, offset, nameFieldLength, &in.Name); err != nil {
		return nil, err
	}
	if offset, err = toString(b, offset, createdFieldLength, &created); err != nil {
		return nil, err
	}
	if created != "" {
		if in.Created, err = time.ParseInLocation(createdLayout, created, time.Local); err != nil {
			return nil, fmt.Errorf("invalid creation time %q: %w", created, err)
		}
	}
	if offset, err = toUint32(b, offset, &in.Size); err != nil {
		return nil, err
	}
	if _, err = toUint8(b, offset, &t); err != nil {
		return nil, err
	}
	in.Type = FileType(t)
	if in.Type != FileTypeDirectory && in.Type != FileTypeRegular {
		return nil, fmt.Errorf("unknown type tag %#02x", t)
	}
	return &in, nil
}

// validBlock reports whether block can hold an inode or data, i.e. lies past the header
func (fs *FileSystem) validBlock(block uint32) bool {
	return block >= fs.superblock.headerBlocks() && block < fs.superblock.blocksTotal
}

// readInode reads the inode stored in a given block
func (fs *FileSystem) readInode(block uint32) (*Inode, error) {
	if !fs.validBlock(block) {
		return nil, fmt.Errorf("%w: cannot read inode at block %d", ErrInvalidImage, block)
	}
	b := make([]byte, InodeSize)
	if err := readFull(fs.file, b, fs.superblock.blockOffset(block)); err != nil {
		return nil, fmt.Errorf("failed to read inode at block %d: %w", block, err)
	}
	in, err := inodeFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: could not interpret inode at block %d: %v", ErrInvalidImage, block, err)
	}
	if in.Block != block {
		return nil, fmt.Errorf("%w: inode at block %d claims to be at block %d", ErrInvalidImage, block, in.Block)
	}
	return in, nil
}

// writeInode writes a single inode to its own block
func (fs *FileSystem) writeInode(in *Inode) error {
	if !fs.validBlock(in.Block) {
		return fmt.Errorf("%w: cannot write inode to block %d", ErrInvalidImage, in.Block)
	}
	if err := writeFull(fs.file, in.toBytes(), fs.superblock.blockOffset(in.Block)); err != nil {
		return fmt.Errorf("failed to write inode %q to block %d: %w", in.Name, in.Block, err)
	}
	return nil
}

func (fs *FileSystem) readBlock(block uint32, b []byte) error {
	if !fs.validBlock(block) {
		return fmt.Errorf("%w: cannot read block %d", ErrInvalidImage, block)
	}
	if err := readFull(fs.file, b, fs.superblock.blockOffset(block)); err != nil {
		return fmt.Errorf("failed to read block %d: %w", block, err)
	}
	return nil
}

func (fs *FileSystem) writeBlock(block uint32, b []byte) error {
	if !fs.validBlock(block) {
		return fmt.Errorf("%w: cannot write block %d", ErrInvalidImage, block)
	}
	if err := writeFull(fs.file, b, fs.superblock.blockOffset(block)); err != nil {
		return fmt.Errorf("failed to write block %d: %w", block, err)
	}
	return nil
}

// readRefBlock reads the first count block references stored in an indirect block
func (fs *FileSystem) readRefBlock(block, count uint32) ([]uint32, error) {
	if count > fs.superblock.indirectCapacity() {
		return nil, fmt.Errorf("%w: %d references in indirect block %d, capacity is %d", ErrInvalidImage, count, block, fs.superblock.indirectCapacity())
	}
	b := make([]byte, count*bytesPerBlockRef)
	if err := fs.readBlock(block, b); err != nil {
		return nil, err
	}
	refs := make([]uint32, count)
	offset := 0
	for i := range refs {
		offset, _ = toUint32(b, offset, &refs[i])
	}
	return refs, nil
}

// writeRefBlock replaces the content of an indirect block with refs, zeroing the unused entries
func (fs *FileSystem) writeRefBlock(block uint32, refs []uint32) error {
	if uint32(len(refs)) > fs.superblock.indirectCapacity() {
		return fmt.Errorf("%w: %d references do not fit in an indirect block", ErrCapacityExceeded, len(refs))
	}
	b := make([]byte, fs.superblock.blockSize)
	offset := 0
	for _, ref := range refs {
		offset = putUint32(b, offset, ref)
	}
	return fs.writeBlock(block, b)
}

// DirEntry is one line of a directory listing
type DirEntry struct {
	Type    FileType
	Created time.Time
	Size    uint32
	Name    string
	Block   uint32
}

// IsDir reports whether the entry is a directory
func (d DirEntry) IsDir() bool {
	return d.Type == FileTypeDirectory
}

func (d DirEntry) String() string {
	created := "-"
	if !d.Created.IsZero() {
		created = d.Created.Format(createdLayout)
	}
	return fmt.Sprintf("%c %s %10d %s", byte(d.Type), created, d.Size, d.Name)
}

func (in *Inode) dirEntry() DirEntry {
	return DirEntry{
		Type:    in.Type,
		Created: in.Created,
		Size:    in.Size,
		Name:    in.Name,
		Block:   in.Block,
	}
}
