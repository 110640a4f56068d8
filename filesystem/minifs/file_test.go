package minifs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diskfs/minifs/util"
)

func testContent(size int64) []byte {
	b := make([]byte, size)
	r := rand.New(rand.NewSource(size))
	_, _ = r.Read(b)
	return b
}

func TestPullPush(t *testing.T) {
	const blockSize = 512
	sizes := []int64{0, 1, blockSize - 1, blockSize, blockSize + 1, 12 * blockSize, 12*blockSize + 1, MaxFileSize(blockSize)}
	for _, size := range sizes {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			fs, _ := testCreate(t, blockSize, 1024)
			root := testRoot(t, fs)
			content := testContent(size)
			free := fs.Superblock().FreeBlocks

			file, err := fs.Pull(root, "data.bin", bytes.NewReader(content), size)
			require.NoError(t, err)
			assert.Equal(t, uint32(size), file.Size)
			assert.False(t, file.IsDir())

			dataBlocks := blocksRequired(size, blockSize)
			cost := 1 + dataBlocks
			if dataBlocks > int64(DirectBlocks) {
				cost++
				assert.NotZero(t, file.Indirect)
				assert.Equal(t, uint32(dataBlocks)-DirectBlocks, file.Used)
			} else {
				assert.Zero(t, file.Indirect)
				assert.Equal(t, uint32(dataBlocks), file.Used)
			}
			assert.Equal(t, int64(free)-cost, int64(fs.Superblock().FreeBlocks))
			testCheck(t, fs)

			var out bytes.Buffer
			n, err := fs.Push(root, "data.bin", &out)
			require.NoError(t, err)
			assert.Equal(t, size, n)
			assert.True(t, bytes.Equal(content, out.Bytes()), "content mismatch")

			require.NoError(t, fs.Remove(root, "data.bin"))
			assert.Equal(t, free, fs.Superblock().FreeBlocks)
			testCheck(t, fs)
		})
	}
}

func TestPullPadsLastBlock(t *testing.T) {
	fs, _ := testCreate(t, 128, 64)
	root := testRoot(t, fs)
	// leave garbage in the block the file will land in
	garbage := bytes.Repeat([]byte{0xaa}, 128)
	block, ok, err := fs.bitmap.findFree()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, fs.writeBlock(block+1, garbage))

	file, err := fs.Pull(root, "short", strings.NewReader("abc"), 3)
	require.NoError(t, err)
	require.Equal(t, block+1, file.Direct[0])
	b := make([]byte, 128)
	require.NoError(t, fs.readBlock(file.Direct[0], b))
	expected := make([]byte, 128)
	copy(expected, "abc")
	assert.Equal(t, expected, b)
}

func TestPullErrors(t *testing.T) {
	fs, _ := testCreate(t, 128, 64)
	root := testRoot(t, fs)
	_, err := fs.Pull(root, "exists", strings.NewReader("x"), 1)
	require.NoError(t, err)
	free := fs.Superblock().FreeBlocks

	t.Run("invalid name", func(t *testing.T) {
		_, err := fs.Pull(root, "", strings.NewReader("x"), 1)
		assert.ErrorIs(t, err, ErrInvalidName)
	})
	t.Run("already exists", func(t *testing.T) {
		_, err := fs.Pull(root, "exists", strings.NewReader("y"), 1)
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})
	t.Run("too large", func(t *testing.T) {
		size := MaxFileSize(128) + 1
		_, err := fs.Pull(root, "huge", bytes.NewReader(make([]byte, size)), size)
		assert.ErrorIs(t, err, ErrTooLarge)
	})
	t.Run("no space", func(t *testing.T) {
		small, _ := testCreate(t, 128, 32)
		// fits in one inode, not in the image
		size := int64(40 * 128)
		_, err := small.Pull(testRoot(t, small), "big", bytes.NewReader(make([]byte, size)), size)
		assert.ErrorIs(t, err, ErrCapacityExceeded)
		assert.Equal(t, uint32(30), small.Superblock().FreeBlocks)
	})
	t.Run("short source", func(t *testing.T) {
		_, err := fs.Pull(root, "short", strings.NewReader("only this"), 1000)
		assert.ErrorIs(t, err, ErrIO)
		_, ok, err := fs.FindChild(root, "short")
		require.NoError(t, err)
		assert.False(t, ok)
	})
	assert.Equal(t, free, fs.Superblock().FreeBlocks)
	testCheck(t, fs)
}

func TestPullExactCapacity(t *testing.T) {
	fs, _ := testCreate(t, 128, 48)
	root := testRoot(t, fs)
	// one inode block and the rest as data, no indirect block needed below 13
	free := int64(fs.Superblock().FreeBlocks)
	require.Greater(t, free, int64(DirectBlocks+2))
	size := int64(DirectBlocks) * 128
	_, err := fs.Pull(root, "a", bytes.NewReader(make([]byte, size)), size)
	require.NoError(t, err)
	assert.Equal(t, free-13, int64(fs.Superblock().FreeBlocks))

	rest := int64(fs.Superblock().FreeBlocks)
	// data + inode + indirect is exactly what is left
	size = (rest - 2) * 128
	_, err = fs.Pull(root, "b", bytes.NewReader(make([]byte, size)), size)
	require.NoError(t, err)
	assert.Zero(t, fs.Superblock().FreeBlocks)
	testCheck(t, fs)
}

func TestPullWithCreated(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	created := time.Date(2001, time.September, 9, 1, 46, 40, 500, time.UTC)
	_, err := fs.Pull(root, "old", strings.NewReader("x"), 1, WithCreated(created))
	require.NoError(t, err)
	entries, err := fs.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, created.Truncate(time.Second).Equal(entries[0].Created), "created %v", entries[0].Created)
}

func TestPushErrors(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	_, err := fs.Mkdir(root, "dir")
	require.NoError(t, err)

	_, err = fs.Push(root, "missing", io.Discard)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Push(root, "dir", io.Discard)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fs.Pull(root, "file", strings.NewReader("content"), 7)
	require.NoError(t, err)
	_, err = fs.Push(root, "file", failingWriter{})
	assert.ErrorIs(t, err, ErrIO)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestMixedWorkloadStaysConsistent(t *testing.T) {
	fs, _ := testCreate(t, 256, 2048)
	root := testRoot(t, fs)
	r := rand.New(rand.NewSource(42))
	dirs := []Inode{root}
	type entry struct {
		dir  Inode
		name string
	}
	var files []entry
	for i := 0; i < 200; i++ {
		dir := dirs[r.Intn(len(dirs))]
		switch op := r.Intn(4); {
		case op == 0 && len(dirs) < 20:
			d, err := fs.Mkdir(dir, fmt.Sprintf("d%d", i))
			if errors.Is(err, ErrCapacityExceeded) {
				continue
			}
			require.NoError(t, err)
			dirs = append(dirs, d)
		case op <= 2:
			size := r.Int63n(MaxFileSize(256) / 4)
			name := fmt.Sprintf("f%d", i)
			_, err := fs.Pull(dir, name, bytes.NewReader(testContent(size)), size)
			if errors.Is(err, ErrCapacityExceeded) {
				continue
			}
			require.NoError(t, err)
			files = append(files, entry{dir, name})
		case len(files) > 0:
			j := r.Intn(len(files))
			require.NoError(t, fs.Remove(files[j].dir, files[j].name))
			files = append(files[:j], files[j+1:]...)
		}
	}
	report, err := fs.Check()
	require.NoError(t, err)
	assert.True(t, report.OK(), "problems: %v", report.Problems)
	assert.Equal(t, len(dirs), report.Directories)
	assert.Equal(t, len(files), report.Files)
	assert.Equal(t, fs.Superblock().Blocks-fs.Superblock().FreeBlocks, report.BitmapUsed)
}

func TestCheckFindsDamage(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	d, err := fs.Mkdir(root, "d")
	require.NoError(t, err)

	// a stale ancestor size
	in, err := fs.readInode(d.Block)
	require.NoError(t, err)
	in.Size += 10
	require.NoError(t, fs.writeInode(in))
	// a leaked block
	_, err = fs.bitmap.allocate()
	require.NoError(t, err)

	report, err := fs.Check()
	require.NoError(t, err)
	assert.False(t, report.OK())
	// d and root disagree with their children, and one block is unreachable
	assert.Len(t, report.Problems, 3)
}

// superblockFailer refuses every write to the superblock
type superblockFailer struct {
	util.File
}

func (f superblockFailer) WriteAt(b []byte, off int64) (int, error) {
	if off == 0 {
		return 0, errors.New("superblock is write protected")
	}
	return f.File.WriteAt(b, off)
}

func TestPullRollbackErrors(t *testing.T) {
	fs, _ := testCreate(t, 512, 1024)
	root := testRoot(t, fs)
	free := fs.Superblock().FreeBlocks

	file := fs.file
	fs.file = superblockFailer{file}
	_, err := fs.Pull(root, "short", strings.NewReader("only this"), 2000)
	fs.file = file
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorContains(t, err, "could not write content")
	assert.ErrorContains(t, err, "could not write superblock")

	// the bitmap was still rolled back
	assert.Equal(t, free, fs.Superblock().FreeBlocks)
	require.NoError(t, fs.Close())
	testCheck(t, fs)
}
