package record

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Compression is the whole-file stream compression of a record file.
type Compression uint8

const (
	Uncompressed Compression = iota
	GZIP
	ZLIB
	Snappy
)

func (compress Compression) String() string {
	switch compress {
	case Uncompressed:
		return "No compression"
	case GZIP:
		return "GZIP compression"
	case ZLIB:
		return "ZLIB compression"
	case Snappy:
		return "Snappy framed compression"
	default:
		return "Unknown compression"
	}
}

// ParseCompression maps a configuration string onto a Compression.  The empty
// string and "none" are uncompressed.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return Uncompressed, nil
	case "gzip":
		return GZIP, nil
	case "zlib":
		return ZLIB, nil
	case "snappy":
		return Snappy, nil
	default:
		return Uncompressed, fmt.Errorf("unknown record compression %q", s)
	}
}

// CompressionFromName guesses the compression of a record file from its extension.
func CompressionFromName(name string) Compression {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gz":
		return GZIP
	case ".zz", ".zlib":
		return ZLIB
	case ".sz", ".snappy":
		return Snappy
	default:
		return Uncompressed
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// wrapWriter returns a writer that compresses into w.  Closing it flushes the
// compressed stream but does not close w.
func (compress Compression) wrapWriter(w io.Writer) (io.WriteCloser, error) {
	switch compress {
	case Uncompressed:
		return nopWriteCloser{w}, nil
	case GZIP:
		return gzip.NewWriter(w), nil
	case ZLIB:
		return zlib.NewWriter(w), nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, fmt.Errorf("illegal compression (%s) for record writer", compress)
	}
}

// wrapReader returns a reader that decompresses r along with a closer for any
// decompression state.
func (compress Compression) wrapReader(r io.Reader) (io.Reader, io.Closer, error) {
	switch compress {
	case Uncompressed:
		return r, nil, nil
	case GZIP:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, &ParseError{Msg: "bad gzip header", Err: err}
		}
		return zr, zr, nil
	case ZLIB:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, nil, &ParseError{Msg: "bad zlib header", Err: err}
		}
		return zr, zr, nil
	case Snappy:
		return snappy.NewReader(r), nil, nil
	default:
		return nil, nil, fmt.Errorf("illegal compression (%s) for record reader", compress)
	}
}
