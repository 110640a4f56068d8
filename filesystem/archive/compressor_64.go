//go:build !arm && !386

package archive

import (
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

func (c *CompressorLzma) compressor(w io.Writer) (io.WriteCloser, error) {
	lz, err := lzma.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("error creating lzma compressor: %v", err)
	}
	return lz, nil
}

func (c *CompressorLzma) decompressor(r io.Reader) (io.ReadCloser, error) {
	lz, err := lzma.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("error creating lzma decompressor: %v", err)
	}
	return io.NopCloser(lz), nil
}

func (c *CompressorXz) compressor(w io.Writer) (io.WriteCloser, error) {
	xzWriter, err := xz.NewWriterConfig(w, xz.WriterConfig{
		Workers: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating xz compressor: %v", err)
	}
	return xzWriter, nil
}

func (c *CompressorXz) decompressor(r io.Reader) (io.ReadCloser, error) {
	xzReader, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("error creating xz decompressor: %v", err)
	}
	return io.NopCloser(xzReader), nil
}
