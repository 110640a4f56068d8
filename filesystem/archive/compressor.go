package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the compression of an archive. The values are stored in the archive header.
type Compression uint8

const (
	CompressionGzip Compression = 1
	CompressionLzma Compression = 2
	CompressionXz   Compression = 4
	CompressionLz4  Compression = 5
	CompressionZstd Compression = 6
)

var compressionNames = map[Compression]string{
	CompressionGzip: "gzip",
	CompressionLzma: "lzma",
	CompressionXz:   "xz",
	CompressionLz4:  "lz4",
	CompressionZstd: "zstd",
}

func (c Compression) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// ParseCompression returns the Compression with the given name
func ParseCompression(name string) (Compression, error) {
	for c, n := range compressionNames {
		if strings.EqualFold(n, name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown compression %q", name)
}

// Compressor wraps streams in one compression format
type Compressor interface {
	compressor(w io.Writer) (io.WriteCloser, error)
	decompressor(r io.Reader) (io.ReadCloser, error)
	flavour() Compression
}

// NewCompressor returns the Compressor for c with its default settings
func NewCompressor(c Compression) (Compressor, error) {
	switch c {
	case CompressionGzip:
		return &CompressorGzip{Level: gzip.DefaultCompression}, nil
	case CompressionLzma:
		return &CompressorLzma{}, nil
	case CompressionXz:
		return &CompressorXz{}, nil
	case CompressionLz4:
		return &CompressorLz4{}, nil
	case CompressionZstd:
		return &CompressorZstd{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}

// CompressorGzip is gzip compression at a given level
type CompressorGzip struct {
	Level int
}

func (c *CompressorGzip) compressor(w io.Writer) (io.WriteCloser, error) {
	gw, err := gzip.NewWriterLevel(w, c.Level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip compressor: %v", err)
	}
	return gw, nil
}

func (c *CompressorGzip) decompressor(r io.Reader) (io.ReadCloser, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip decompressor: %v", err)
	}
	return gr, nil
}

func (c *CompressorGzip) flavour() Compression {
	return CompressionGzip
}

// CompressorZstd is zstd compression
type CompressorZstd struct{}

func (c *CompressorZstd) compressor(w io.Writer) (io.WriteCloser, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("error creating zstd compressor: %v", err)
	}
	return zw, nil
}

func (c *CompressorZstd) decompressor(r io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("error creating zstd decompressor: %v", err)
	}
	return zr.IOReadCloser(), nil
}

func (c *CompressorZstd) flavour() Compression {
	return CompressionZstd
}

// CompressorLz4 is lz4 frame compression
type CompressorLz4 struct{}

func (c *CompressorLz4) compressor(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (c *CompressorLz4) decompressor(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (c *CompressorLz4) flavour() Compression {
	return CompressionLz4
}

// CompressorLzma is lzma compression
type CompressorLzma struct{}

func (c *CompressorLzma) flavour() Compression {
	return CompressionLzma
}

// CompressorXz is xz compression
type CompressorXz struct{}

func (c *CompressorXz) flavour() Compression {
	return CompressionXz
}
