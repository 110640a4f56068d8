package minifs

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRawInode(t *testing.T, fs *FileSystem, block uint32) []byte {
	t.Helper()
	b := make([]byte, InodeSize)
	require.NoError(t, readFull(fs.file, b, fs.superblock.blockOffset(block)))
	return b
}

func testNames(t *testing.T, fs *FileSystem, dir Inode) []string {
	t.Helper()
	entries, err := fs.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

func TestMkdir(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	free := fs.Superblock().FreeBlocks

	etc, err := fs.Mkdir(root, "etc")
	require.NoError(t, err)
	assert.Equal(t, "etc", etc.Name)
	assert.Equal(t, root.Block, etc.Parent)
	assert.Equal(t, InodeSize, etc.Size)
	assert.True(t, etc.IsDir())
	assert.False(t, etc.Created.IsZero())
	assert.Equal(t, free-1, fs.Superblock().FreeBlocks)

	root, err = fs.Refresh(root)
	require.NoError(t, err)
	assert.Equal(t, 2*InodeSize, root.Size)
	assert.Equal(t, uint32(1), root.Used)
	assert.Equal(t, etc.Block, root.Direct[0])

	block, ok, err := fs.FindChild(root, "etc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, etc.Block, block)
	_, ok, err = fs.FindChild(root, "usr")
	require.NoError(t, err)
	assert.False(t, ok)
	testCheck(t, fs)
}

func TestMkdirErrors(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	_, err := fs.Mkdir(root, "etc")
	require.NoError(t, err)
	free := fs.Superblock().FreeBlocks

	tests := []struct {
		name string
		err  error
	}{
		{"", ErrInvalidName},
		{".", ErrInvalidName},
		{"..", ErrInvalidName},
		{"a/b", ErrInvalidName},
		{"tab\there", ErrInvalidName},
		{strings.Repeat("n", MaxNameLength+1), ErrInvalidName},
		{"etc", ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.name), func(t *testing.T) {
			_, err := fs.Mkdir(root, tt.name)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, free, fs.Superblock().FreeBlocks)
		})
	}

	t.Run("longest name", func(t *testing.T) {
		name := strings.Repeat("n", MaxNameLength)
		_, err := fs.Mkdir(root, name)
		require.NoError(t, err)
		_, ok, err := fs.FindChild(root, name)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestMkdirNoSpace(t *testing.T) {
	// 8 blocks: header, root and 6 free
	fs, _ := testCreate(t, 128, 8)
	root := testRoot(t, fs)
	for i := 0; i < 6; i++ {
		_, err := fs.Mkdir(root, fmt.Sprintf("d%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, uint32(0), fs.Superblock().FreeBlocks)
	_, err := fs.Mkdir(root, "full")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	testCheck(t, fs)
}

func TestMkdirRmRestores(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	sub, err := fs.Mkdir(root, "sub")
	require.NoError(t, err)
	_, err = fs.Mkdir(sub, "x")
	require.NoError(t, err)

	free := fs.Superblock().FreeBlocks
	before := testRawInode(t, fs, sub.Block)
	_, err = fs.Mkdir(sub, "a")
	require.NoError(t, err)
	require.NoError(t, fs.Remove(sub, "a"))
	assert.Equal(t, free, fs.Superblock().FreeBlocks)
	assert.Equal(t, before, testRawInode(t, fs, sub.Block))
	testCheck(t, fs)
}

func TestIndirectDirectory(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	dir, err := fs.Mkdir(root, "many")
	require.NoError(t, err)
	for i := 0; i < int(DirectBlocks); i++ {
		_, err := fs.Mkdir(dir, fmt.Sprintf("d%02d", i))
		require.NoError(t, err)
	}
	dir, err = fs.Refresh(dir)
	require.NoError(t, err)
	require.Equal(t, DirectBlocks, dir.Used)
	require.Equal(t, uint32(0), dir.Indirect)

	// the 13th child costs its own block plus the indirect block
	free := fs.Superblock().FreeBlocks
	thirteenth, err := fs.Mkdir(dir, "d12")
	require.NoError(t, err)
	assert.Equal(t, free-2, fs.Superblock().FreeBlocks)
	dir, err = fs.Refresh(dir)
	require.NoError(t, err)
	assert.NotZero(t, dir.Indirect)
	assert.Equal(t, uint32(1), dir.Used)
	assert.Equal(t, 14*InodeSize, dir.Size)

	// the 14th only costs its own block
	_, err = fs.Mkdir(dir, "d13")
	require.NoError(t, err)
	assert.Equal(t, free-3, fs.Superblock().FreeBlocks)

	expected := make([]string, 0, 14)
	for i := 0; i < 14; i++ {
		expected = append(expected, fmt.Sprintf("d%02d", i))
	}
	if diff := cmp.Diff(expected, testNames(t, fs, dir)); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
	block, ok, err := fs.FindChild(dir, "d12")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, thirteenth.Block, block)
	testCheck(t, fs)

	// removing a direct child pulls the head of the indirect block into the direct slots
	require.NoError(t, fs.Remove(dir, "d03"))
	dir, err = fs.Refresh(dir)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), dir.Used)
	assert.Equal(t, thirteenth.Block, dir.Direct[11])
	expected = append(expected[:3], expected[4:]...)
	if diff := cmp.Diff(expected, testNames(t, fs, dir)); diff != "" {
		t.Errorf("listing mismatch after rm (-want +got):\n%s", diff)
	}

	// dropping to 12 children releases the indirect block
	free = fs.Superblock().FreeBlocks
	require.NoError(t, fs.Remove(dir, "d13"))
	assert.Equal(t, free+2, fs.Superblock().FreeBlocks)
	dir, err = fs.Refresh(dir)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), dir.Indirect)
	assert.Equal(t, DirectBlocks, dir.Used)
	testCheck(t, fs)
}

func TestDirectoryFull(t *testing.T) {
	// block size 128 gives 12 direct and 32 indirect references
	fs, _ := testCreate(t, 128, 256)
	root := testRoot(t, fs)
	limit := int(fs.superblock.maxReferences())
	for i := 0; i < limit; i++ {
		_, err := fs.Mkdir(root, fmt.Sprintf("d%d", i))
		require.NoError(t, err)
	}
	free := fs.Superblock().FreeBlocks
	_, err := fs.Mkdir(root, "one-too-many")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	_, err = fs.Pull(root, "file", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, free, fs.Superblock().FreeBlocks)
	assert.Len(t, testNames(t, fs, root), limit)
	testCheck(t, fs)
}

func TestList(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	_, err := fs.Mkdir(root, "zeta")
	require.NoError(t, err)
	_, err = fs.Pull(root, "alpha", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	_, err = fs.Mkdir(root, "mid")
	require.NoError(t, err)

	entries, err := fs.ReadDir(root)
	require.NoError(t, err)
	// table order, no sorting
	expected := []DirEntry{
		{Type: FileTypeDirectory, Size: InodeSize, Name: "zeta"},
		{Type: FileTypeRegular, Size: 5, Name: "alpha"},
		{Type: FileTypeDirectory, Size: InodeSize, Name: "mid"},
	}
	if diff := cmp.Diff(expected, entries, cmpopts.IgnoreFields(DirEntry{}, "Created", "Block")); diff != "" {
		t.Errorf("ReadDir mismatch (-want +got):\n%s", diff)
	}

	// the sequence stops when the consumer does
	var seen int
	for _, err := range fs.List(root) {
		require.NoError(t, err)
		seen++
		break
	}
	assert.Equal(t, 1, seen)

	empty, err := fs.Cd(root, "mid")
	require.NoError(t, err)
	entries, err = fs.ReadDir(empty)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCd(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	usr, err := fs.Mkdir(root, "usr")
	require.NoError(t, err)
	_, err = fs.Mkdir(usr, "lib")
	require.NoError(t, err)
	_, err = fs.Pull(usr, "readme", strings.NewReader("hi"), 2)
	require.NoError(t, err)

	cur, err := fs.Cd(root, "usr")
	require.NoError(t, err)
	assert.Equal(t, usr.Block, cur.Block)
	assert.Equal(t, uint32(2), cur.Used)

	lib, err := fs.Cd(cur, "lib")
	require.NoError(t, err)
	assert.Equal(t, "lib", lib.Name)

	// the previous cursor is untouched
	assert.Equal(t, "usr", cur.Name)

	up, err := fs.Cd(lib, "..")
	require.NoError(t, err)
	assert.Equal(t, usr.Block, up.Block)
	top, err := fs.Cd(up, "..")
	require.NoError(t, err)
	assert.Equal(t, root.Block, top.Block)

	same, err := fs.Cd(lib, ".")
	require.NoError(t, err)
	assert.Equal(t, lib.Block, same.Block)

	_, err = fs.Cd(top, "..")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Cd(cur, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Cd(cur, "readme")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWalk(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	a, err := fs.Mkdir(root, "a")
	require.NoError(t, err)
	b, err := fs.Mkdir(a, "b")
	require.NoError(t, err)

	for _, p := range []string{"/a/b", "/a/b/", "a/b", "/a/./b", "/a/b/../b"} {
		got, err := fs.Walk(root, p)
		require.NoError(t, err, p)
		assert.Equal(t, b.Block, got.Block, p)
	}
	got, err := fs.Walk(b, "/")
	require.NoError(t, err)
	assert.Equal(t, root.Block, got.Block)
	got, err = fs.Walk(b, "..")
	require.NoError(t, err)
	assert.Equal(t, a.Block, got.Block)
	_, err = fs.Walk(root, "/a/c")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemove(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	dir, err := fs.Mkdir(root, "dir")
	require.NoError(t, err)
	_, err = fs.Mkdir(dir, "child")
	require.NoError(t, err)

	t.Run("not found", func(t *testing.T) {
		assert.ErrorIs(t, fs.Remove(root, "nothing"), ErrNotFound)
	})
	t.Run("not empty", func(t *testing.T) {
		free := fs.Superblock().FreeBlocks
		used, err := fs.bitmap.countUsed()
		require.NoError(t, err)
		before := testRawInode(t, fs, root.Block)

		assert.ErrorIs(t, fs.Remove(root, "dir"), ErrNotEmpty)
		assert.Equal(t, free, fs.Superblock().FreeBlocks)
		after, err := fs.bitmap.countUsed()
		require.NoError(t, err)
		assert.Equal(t, used, after)
		assert.Equal(t, before, testRawInode(t, fs, root.Block))
	})
	t.Run("not empty with empty file", func(t *testing.T) {
		other, err := fs.Mkdir(root, "other")
		require.NoError(t, err)
		_, err = fs.Pull(other, "empty", bytes.NewReader(nil), 0)
		require.NoError(t, err)
		assert.ErrorIs(t, fs.Remove(root, "other"), ErrNotEmpty)
		require.NoError(t, fs.Remove(other, "empty"))
		require.NoError(t, fs.Remove(root, "other"))
	})
	t.Run("bottom up", func(t *testing.T) {
		free := fs.Superblock().FreeBlocks
		require.NoError(t, fs.Remove(dir, "child"))
		require.NoError(t, fs.Remove(root, "dir"))
		assert.Equal(t, free+2, fs.Superblock().FreeBlocks)
		fresh, err := fs.Refresh(root)
		require.NoError(t, err)
		assert.Equal(t, InodeSize, fresh.Size)
		assert.Equal(t, uint32(0), fresh.Used)
		testCheck(t, fs)
	})
}

func TestSizePropagation(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	p, err := fs.Mkdir(root, "p")
	require.NoError(t, err)
	d, err := fs.Mkdir(p, "d")
	require.NoError(t, err)

	sizes := func() (uint32, uint32, uint32) {
		r, err := fs.Refresh(root)
		require.NoError(t, err)
		pp, err := fs.Refresh(p)
		require.NoError(t, err)
		dd, err := fs.Refresh(d)
		require.NoError(t, err)
		return r.Size, pp.Size, dd.Size
	}
	r0, p0, d0 := sizes()
	assert.Equal(t, 3*InodeSize, r0)
	assert.Equal(t, 2*InodeSize, p0)
	assert.Equal(t, InodeSize, d0)

	const size = 5000
	_, err = fs.Pull(d, "blob", bytes.NewReader(make([]byte, size)), size)
	require.NoError(t, err)
	r1, p1, d1 := sizes()
	assert.Equal(t, r0+size, r1)
	assert.Equal(t, p0+size, p1)
	assert.Equal(t, d0+size, d1)
	testCheck(t, fs)

	require.NoError(t, fs.Remove(d, "blob"))
	r2, p2, d2 := sizes()
	assert.Equal(t, r0, r2)
	assert.Equal(t, p0, p2)
	assert.Equal(t, d0, d2)
	testCheck(t, fs)
}

func TestUpdateAncestorsSizeUnderflow(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	d, err := fs.Mkdir(root, "d")
	require.NoError(t, err)
	err = fs.updateAncestorsSize(&d, -int64(10*InodeSize))
	assert.ErrorIs(t, err, ErrInvalidImage)
	// the walk never touches the node itself
	require.NoError(t, fs.updateAncestorsSize(&d, 7))
	fresh, err := fs.Refresh(d)
	require.NoError(t, err)
	assert.Equal(t, InodeSize, fresh.Size)
	r, err := fs.Refresh(root)
	require.NoError(t, err)
	assert.Equal(t, 2*InodeSize+7, r.Size)
}

func TestStaleCursor(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	// root is never refreshed between calls, each call reads the record again
	for i := 0; i < 3; i++ {
		_, err := fs.Mkdir(root, fmt.Sprintf("d%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"d0", "d1", "d2"}, testNames(t, fs, root))
	testCheck(t, fs)
}

func TestRemovedCursor(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	a, err := fs.Mkdir(root, "a")
	require.NoError(t, err)
	require.NoError(t, fs.Remove(root, "a"))
	free := fs.Superblock().FreeBlocks

	// the record of a is still in its block but the block is free
	_, err = fs.Mkdir(a, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Pull(a, "f", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Cd(a, ".")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.ReadDir(a)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Refresh(a)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, free, fs.Superblock().FreeBlocks)
	assert.Empty(t, testNames(t, fs, root))
	testCheck(t, fs)
}

func TestIndirectOverflowNeedsSpace(t *testing.T) {
	// one header block and the root leave 13 free blocks, 12 directories leave 1
	fs, _ := testCreate(t, 128, 15)
	root := testRoot(t, fs)
	for i := 0; i < int(DirectBlocks); i++ {
		_, err := fs.Mkdir(root, fmt.Sprintf("d%d", i))
		require.NoError(t, err)
	}
	require.Equal(t, uint32(1), fs.Superblock().FreeBlocks)

	// the 13th entry needs the child block and a new indirect block
	_, err := fs.Mkdir(root, "d12")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	_, err = fs.Pull(root, "empty", strings.NewReader(""), 0)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	assert.Equal(t, uint32(1), fs.Superblock().FreeBlocks)
	fresh, err := fs.Refresh(root)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), fresh.Indirect)
	assert.Len(t, testNames(t, fs, root), int(DirectBlocks))
	testCheck(t, fs)
}
