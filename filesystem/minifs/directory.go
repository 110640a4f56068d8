package minifs

import (
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Mkdir creates the directory name inside dir and returns it
func (fs *FileSystem) Mkdir(dir Inode, name string) (Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := validateName(name); err != nil {
		return Inode{}, err
	}
	parent, err := fs.loadDirectory(dir)
	if err != nil {
		return Inode{}, err
	}
	if fs.tableFull(parent) {
		return Inode{}, fmt.Errorf("%w: directory %q is full", ErrCapacityExceeded, parent.Name)
	}
	needed := uint32(1)
	if appendNeedsIndirect(parent) {
		needed++
	}
	if fs.superblock.blocksRemain < needed {
		return Inode{}, fmt.Errorf("%w: need %d free blocks, have %d", ErrCapacityExceeded, needed, fs.superblock.blocksRemain)
	}
	existing, err := fs.findChild(parent, name)
	if err != nil {
		return Inode{}, err
	}
	if existing != nil {
		return Inode{}, fmt.Errorf("cannot create directory %q in %q: %w", name, parent.Name, ErrAlreadyExists)
	}

	block, err := fs.bitmap.allocate()
	if err != nil {
		return Inode{}, fmt.Errorf("could not allocate directory %q: %w", name, err)
	}
	child := newInode(block, parent.Block, name, FileTypeDirectory, time.Now())
	child.Size = InodeSize
	if err := fs.writeInode(child); err != nil {
		return Inode{}, err
	}
	if err := fs.link(parent, child); err != nil {
		return Inode{}, err
	}
	log.WithFields(log.Fields{"name": name, "block": block, "parent": parent.Block}).Debug("created directory")
	return *child, nil
}

// link adds child to the table of parent, writes parent and carries the size of child up the tree.
// The superblock is written last.
func (fs *FileSystem) link(parent, child *Inode) error {
	if err := fs.appendRef(parent, child.Block); err != nil {
		return err
	}
	if err := fs.writeInode(parent); err != nil {
		return err
	}
	if err := fs.updateAncestorsSize(child, int64(child.Size)); err != nil {
		return err
	}
	return fs.writeSuperblock()
}

// FindChild returns the block of the child of dir called name. ok is false if there is none.
func (fs *FileSystem) FindChild(dir Inode, name string) (block uint32, ok bool, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, err := fs.loadDirectory(dir)
	if err != nil {
		return 0, false, err
	}
	child, err := fs.findChild(parent, name)
	if err != nil || child == nil {
		return 0, false, err
	}
	return child.Block, true, nil
}

// findChild scans the direct then the indirect references of parent for name. It returns nil if
// there is no match.
func (fs *FileSystem) findChild(parent *Inode, name string) (*Inode, error) {
	refs, err := fs.refs(parent)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		child, err := fs.readInode(ref)
		if err != nil {
			return nil, fmt.Errorf("could not read child of %q: %w", parent.Name, err)
		}
		if sameName(child.Name, name) {
			return child, nil
		}
	}
	return nil, nil
}

// List returns the children of dir, direct references first and then indirect ones, in table order.
// Each child is read from the image as the sequence advances. Iteration stops at the first error.
func (fs *FileSystem) List(dir Inode) iter.Seq2[DirEntry, error] {
	return func(yield func(DirEntry, error) bool) {
		fs.mu.Lock()
		refs, err := func() ([]uint32, error) {
			parent, err := fs.loadDirectory(dir)
			if err != nil {
				return nil, err
			}
			return fs.refs(parent)
		}()
		fs.mu.Unlock()
		if err != nil {
			yield(DirEntry{}, err)
			return
		}
		for _, ref := range refs {
			fs.mu.Lock()
			child, err := fs.readInode(ref)
			fs.mu.Unlock()
			if err != nil {
				yield(DirEntry{}, fmt.Errorf("could not read child of %q: %w", dir.Name, err))
				return
			}
			if !yield(child.dirEntry(), nil) {
				return
			}
		}
	}
}

// ReadDir returns all children of dir
func (fs *FileSystem) ReadDir(dir Inode) ([]DirEntry, error) {
	var entries []DirEntry
	for entry, err := range fs.List(dir) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Cd returns a new cursor on the directory name inside dir. ".." is the parent of dir and "." is dir
// itself. The result never shares state with dir.
func (fs *FileSystem) Cd(dir Inode, name string) (Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	current, err := fs.loadDirectory(dir)
	if err != nil {
		return Inode{}, err
	}
	next, err := fs.cd(current, name)
	if err != nil {
		return Inode{}, err
	}
	return *next, nil
}

func (fs *FileSystem) cd(current *Inode, name string) (*Inode, error) {
	switch name {
	case ".":
		return current, nil
	case "..":
		if current.Parent == 0 {
			return nil, fmt.Errorf("cannot leave %q: %w: already at root", current.Name, ErrNotFound)
		}
		parent, err := fs.readInode(current.Parent)
		if err != nil {
			return nil, fmt.Errorf("could not read parent of %q: %w", current.Name, err)
		}
		return parent, nil
	}
	child, err := fs.findChild(current, name)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, fmt.Errorf("directory %q in %q: %w", name, current.Name, ErrNotFound)
	}
	if !child.IsDir() {
		return nil, fmt.Errorf("%q in %q is not a directory: %w", name, current.Name, ErrNotFound)
	}
	return child, nil
}

// Walk resolves a slash separated path to a directory. Absolute paths start at the root, anything
// else starts at dir.
func (fs *FileSystem) Walk(dir Inode, p string) (Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var (
		current *Inode
		err     error
	)
	if strings.HasPrefix(p, "/") {
		current, err = fs.readInode(fs.superblock.rootBlock)
	} else {
		current, err = fs.loadDirectory(dir)
	}
	if err != nil {
		return Inode{}, err
	}
	for _, name := range strings.Split(p, "/") {
		if name == "" {
			continue
		}
		if current, err = fs.cd(current, name); err != nil {
			return Inode{}, fmt.Errorf("could not resolve %s: %w", p, err)
		}
	}
	return *current, nil
}

// Remove deletes the file or empty directory name from dir, releasing every block it held
func (fs *FileSystem) Remove(dir Inode, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.loadDirectory(dir)
	if err != nil {
		return err
	}
	target, err := fs.findChild(parent, name)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("cannot remove %q from %q: %w", name, parent.Name, ErrNotFound)
	}
	if target.IsDir() && (target.Used > 0 || target.Indirect != 0 || target.Size > InodeSize) {
		return fmt.Errorf("cannot remove %q: %w", name, ErrNotEmpty)
	}
	if !target.IsDir() {
		if err := fs.freeData(target); err != nil {
			return err
		}
	}
	if err := fs.bitmap.release(target.Block); err != nil {
		return fmt.Errorf("could not release inode of %q: %w", name, err)
	}
	if err := fs.removeRef(parent, target.Block); err != nil {
		return err
	}
	if err := fs.writeInode(parent); err != nil {
		return err
	}
	if err := fs.updateAncestorsSize(target, -int64(target.Size)); err != nil {
		return err
	}
	log.WithFields(log.Fields{"name": name, "block": target.Block, "parent": parent.Block}).Debug("removed")
	return fs.writeSuperblock()
}

// freeData releases the data blocks of a file, then its indirect block
func (fs *FileSystem) freeData(in *Inode) error {
	refs, err := fs.refs(in)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := fs.bitmap.release(ref); err != nil {
			return fmt.Errorf("could not release data block of %q: %w", in.Name, err)
		}
	}
	if in.Indirect != 0 {
		if err := fs.bitmap.release(in.Indirect); err != nil {
			return fmt.Errorf("could not release indirect block of %q: %w", in.Name, err)
		}
	}
	return nil
}

// updateAncestorsSize adds delta to the size of every ancestor of node, from its parent up to and
// including the root. node itself is not touched.
func (fs *FileSystem) updateAncestorsSize(node *Inode, delta int64) error {
	if delta == 0 {
		return nil
	}
	seen := map[uint32]bool{node.Block: true}
	for block := node.Parent; block != 0; {
		if seen[block] {
			return fmt.Errorf("%w: directory loop at block %d", ErrInvalidImage, block)
		}
		seen[block] = true
		ancestor, err := fs.readInode(block)
		if err != nil {
			return fmt.Errorf("could not read ancestor of %q: %w", node.Name, err)
		}
		size := int64(ancestor.Size) + delta
		if size < 0 || size > math.MaxUint32 {
			return fmt.Errorf("%w: size of %q would become %d", ErrInvalidImage, ancestor.Name, size)
		}
		ancestor.Size = uint32(size)
		if err := fs.writeInode(ancestor); err != nil {
			return err
		}
		log.WithFields(log.Fields{"name": ancestor.Name, "block": block, "delta": delta}).Debug("updated directory size")
		block = ancestor.Parent
	}
	return nil
}
