package record

import (
	"context"
	"fmt"
	"io"
)

// Iterator yields serialized records until io.EOF.
type Iterator interface {
	Next() ([]byte, error)
	Close() error
}

// Source is a restartable record stream.  Each call to Open starts a new pass
// over the same records in the same order.
type Source interface {
	Open(ctx context.Context) (Iterator, error)
}

// FileSource streams records from one record file.
type FileSource struct {
	Ref         string // local path or bucket URL
	Compression Compression
}

// NewFileSource returns a source for the file, guessing compression from its name.
func NewFileSource(ref string) FileSource {
	return FileSource{Ref: ref, Compression: CompressionFromName(ref)}
}

func (s FileSource) String() string {
	return fmt.Sprintf("record file %q (%s)", s.Ref, s.Compression)
}

// Open implements Source.
func (s FileSource) Open(ctx context.Context) (Iterator, error) {
	f, err := OpenFile(ctx, s.Ref)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f, s.Compression)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// MemorySource streams records held in memory.
type MemorySource [][]byte

// Open implements Source.
func (s MemorySource) Open(ctx context.Context) (Iterator, error) {
	return &memIterator{records: s}, nil
}

type memIterator struct {
	records [][]byte
	pos     int
}

func (it *memIterator) Next() ([]byte, error) {
	if it.pos >= len(it.records) {
		return nil, io.EOF
	}
	data := it.records[it.pos]
	it.pos++
	return data, nil
}

func (it *memIterator) Close() error { return nil }

// Count returns the number of records in one pass over the source.
func Count(ctx context.Context, src Source) (int, error) {
	it, err := src.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	var n int
	for {
		if _, err := it.Next(); err == io.EOF {
			return n, nil
		} else if err != nil {
			return n, err
		}
		n++
	}
}
