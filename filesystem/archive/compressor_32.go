//go:build arm || 386

// lzma and xz are not built for 32 bit systems
package archive

import (
	"errors"
	"io"
)

var errNot64Bit = errors.New("not supported on 32 bit systems")

func (c *CompressorLzma) compressor(io.Writer) (io.WriteCloser, error) {
	return nil, errNot64Bit
}

func (c *CompressorLzma) decompressor(io.Reader) (io.ReadCloser, error) {
	return nil, errNot64Bit
}

func (c *CompressorXz) compressor(io.Writer) (io.WriteCloser, error) {
	return nil, errNot64Bit
}

func (c *CompressorXz) decompressor(io.Reader) (io.ReadCloser, error) {
	return nil, errNot64Bit
}
