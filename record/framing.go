package record

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	headerSize = 12 // uint64 length + uint32 masked crc of the length
	footerSize = 4  // uint32 masked crc of the data
	crcMask    = 0xa282ead8

	// MaxRecordSize guards against allocating absurd buffers for corrupt lengths.
	MaxRecordSize = 1 << 31
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	crc := crc32.Checksum(b, castagnoli)
	return ((crc >> 15) | (crc << 17)) + crcMask
}

// Writer appends framed records to a stream.
type Writer struct {
	w       io.WriteCloser
	count   int
	written int64
}

// NewWriter returns a Writer that frames records into w with the given compression.
// Close must be called to flush compressed output; it does not close w.
func NewWriter(w io.Writer, compress Compression) (*Writer, error) {
	cw, err := compress.wrapWriter(w)
	if err != nil {
		return nil, err
	}
	return &Writer{w: cw}, nil
}

// Write frames and appends one record.
func (w *Writer) Write(data []byte) error {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(hdr[8:], maskedCRC(hdr[:8]))
	var ftr [footerSize]byte
	binary.LittleEndian.PutUint32(ftr[:], maskedCRC(data))

	for _, b := range [][]byte{hdr[:], data, ftr[:]} {
		if _, err := w.w.Write(b); err != nil {
			return err
		}
	}
	w.count++
	w.written += int64(headerSize + len(data) + footerSize)
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.count
}

// Written returns the number of uncompressed bytes written, including framing.
func (w *Writer) Written() int64 {
	return w.written
}

// Close flushes any compressed output.
func (w *Writer) Close() error {
	return w.w.Close()
}

// Reader reads framed records from a stream.
type Reader struct {
	r       *bufio.Reader
	closers []io.Closer
	index   int
}

// NewReader returns a Reader over r.  If r is an io.Closer it is closed by Close.
func NewReader(r io.Reader, compress Compression) (*Reader, error) {
	var closers []io.Closer
	if c, ok := r.(io.Closer); ok {
		closers = append(closers, c)
	}
	dr, dc, err := compress.wrapReader(r)
	if err != nil {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}
	if dc != nil {
		closers = append([]io.Closer{dc}, closers...)
	}
	return &Reader{r: bufio.NewReader(dr), closers: closers}, nil
}

// Next returns the next record.  It returns io.EOF at a clean end of stream and a
// *ParseError for truncated or corrupt framing.
func (r *Reader) Next() ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, r.corrupt("truncated header", err)
	}
	if got, want := binary.LittleEndian.Uint32(hdr[8:]), maskedCRC(hdr[:8]); got != want {
		return nil, r.corrupt(fmt.Sprintf("bad length checksum, stored %x got %x", got, want), nil)
	}
	length := binary.LittleEndian.Uint64(hdr[:8])
	if length > MaxRecordSize {
		return nil, r.corrupt(fmt.Sprintf("record length %d exceeds maximum", length), nil)
	}
	data := make([]byte, int(length)+footerSize)
	if _, err := io.ReadFull(r.r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, r.corrupt("truncated record", err)
	}
	stored := binary.LittleEndian.Uint32(data[length:])
	data = data[:length]
	if got := maskedCRC(data); got != stored {
		return nil, r.corrupt(fmt.Sprintf("bad data checksum, stored %x got %x", stored, got), nil)
	}
	r.index++
	return data, nil
}

func (r *Reader) corrupt(msg string, err error) error {
	return &ParseError{Msg: fmt.Sprintf("record %d: %s", r.index, msg), Err: err}
}

// Close releases decompression state and closes the underlying stream if it was
// an io.Closer.
func (r *Reader) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.closers = nil
	return firstErr
}

// ReadAll returns every remaining record.
func ReadAll(r *Reader) ([][]byte, error) {
	var records [][]byte
	for {
		data, err := r.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, data)
	}
}
