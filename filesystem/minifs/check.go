package minifs

import (
	"fmt"
)

// Report is the result of a consistency check of an image
type Report struct {
	Directories int
	Files       int
	// UsedBlocks counts the header blocks plus every block reachable from the root
	UsedBlocks uint32
	// BitmapUsed counts the blocks marked unavailable in the bitmap
	BitmapUsed uint32
	Remaining  uint32
	Problems   []string
}

// OK reports whether the check found no problems
func (r Report) OK() bool {
	return len(r.Problems) == 0
}

func (r *Report) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Check walks the whole tree and verifies the size of every directory, the reference table of every
// inode and the agreement between the reachable blocks, the bitmap and the free block count.
// Damaged structures are reported as problems. The error is only for failures to read the image.
func (fs *FileSystem) Check() (Report, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	sb := fs.superblock
	report := Report{Remaining: sb.blocksRemain}
	owner := map[uint32]uint32{}
	claim := func(block, by uint32) {
		if prev, ok := owner[block]; ok {
			report.problem("block %d referenced by both %d and %d", block, prev, by)
			return
		}
		owner[block] = by
		if !fs.validBlock(block) {
			report.problem("block %d referenced by %d is outside the data region", block, by)
			return
		}
		used, err := fs.bitmap.isUnavailable(block)
		if err == nil && !used {
			report.problem("block %d referenced by %d is marked free", block, by)
		}
	}

	// sizes are verified bottom up, so keep the computed size of each inode
	var visit func(block, parent uint32) (uint32, error)
	visit = func(block, parent uint32) (uint32, error) {
		in, err := fs.readInode(block)
		if err != nil {
			return 0, err
		}
		if in.Parent != parent {
			report.problem("%q at block %d has parent %d, found under %d", in.Name, block, in.Parent, parent)
		}
		refs, err := fs.refs(in)
		if err != nil {
			return 0, err
		}
		if in.Indirect != 0 {
			if in.Used == 0 {
				report.problem("%q at block %d has an empty indirect block", in.Name, block)
			}
			claim(in.Indirect, block)
		}
		if !in.IsDir() {
			report.Files++
			if needed := blocksRequired(int64(in.Size), sb.blockSize); int64(len(refs)) != needed {
				report.problem("%q at block %d is %d bytes in %d blocks, expected %d", in.Name, block, in.Size, len(refs), needed)
			}
			for _, ref := range refs {
				claim(ref, block)
			}
			return in.Size, nil
		}
		report.Directories++
		size := uint64(InodeSize)
		for _, ref := range refs {
			if _, seen := owner[ref]; seen {
				claim(ref, block)
				continue
			}
			claim(ref, block)
			childSize, err := visit(ref, block)
			if err != nil {
				return 0, err
			}
			size += uint64(childSize)
		}
		if size != uint64(in.Size) {
			report.problem("directory %q at block %d has size %d, children add up to %d", in.Name, block, in.Size, size)
		}
		return in.Size, nil
	}

	claim(sb.rootBlock, 0)
	if _, err := visit(sb.rootBlock, 0); err != nil {
		return report, fmt.Errorf("could not walk tree: %w", err)
	}

	used, err := fs.bitmap.countUsed()
	if err != nil {
		return report, err
	}
	report.BitmapUsed = used
	report.UsedBlocks = sb.headerBlocks() + uint32(len(owner))
	if report.UsedBlocks != used {
		report.problem("%d blocks are in use, bitmap marks %d", report.UsedBlocks, used)
	}
	if sb.blocksRemain != sb.blocksTotal-used {
		report.problem("free block count is %d, bitmap leaves %d", sb.blocksRemain, sb.blocksTotal-used)
	}
	return report, nil
}
