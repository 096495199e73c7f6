package record

import (
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/janelia-flyem/limbs/limbs"

	"github.com/coocood/freecache"
)

// CachedSource keeps raw record bytes in an in-memory cache so passes after the
// first avoid re-reading, and for gzip files re-inflating, the underlying source.
// Records evicted from the cache are re-read from the underlying source.
type CachedSource struct {
	src   Source
	cache *freecache.Cache

	mu       sync.Mutex
	complete bool // a full pass has been read and counted
	count    int
}

// NewCachedSource wraps src with a cache of roughly sizeMB megabytes.
func NewCachedSource(src Source, sizeMB int) *CachedSource {
	numBytes := sizeMB * limbs.Mega
	limbs.Infof("Created freecache of ~ %d MB for record source.\n", sizeMB)
	return &CachedSource{src: src, cache: freecache.NewCache(numBytes)}
}

func cacheKey(i int) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(i))
	return k[:]
}

// Stats returns the cache hit and miss counts.
func (s *CachedSource) Stats() (hits, misses int64) {
	return s.cache.HitCount(), s.cache.MissCount()
}

// Open implements Source.
func (s *CachedSource) Open(ctx context.Context) (Iterator, error) {
	s.mu.Lock()
	complete, count := s.complete, s.count
	s.mu.Unlock()
	if complete {
		return &cachedIterator{ctx: ctx, s: s, count: count}, nil
	}
	it, err := s.src.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &fillingIterator{s: s, it: it}, nil
}

func (s *CachedSource) put(i int, data []byte) {
	if err := s.cache.Set(cacheKey(i), data, 0); err != nil {
		limbs.Debugf("Not caching record %d (%d bytes): %v\n", i, len(data), err)
	}
}

// fillingIterator reads the underlying source and fills the cache.
type fillingIterator struct {
	s   *CachedSource
	it  Iterator
	pos int
}

func (f *fillingIterator) Next() ([]byte, error) {
	data, err := f.it.Next()
	if err == io.EOF {
		f.s.mu.Lock()
		f.s.complete = true
		f.s.count = f.pos
		f.s.mu.Unlock()
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	f.s.put(f.pos, data)
	f.pos++
	return data, nil
}

func (f *fillingIterator) Close() error {
	return f.it.Close()
}

// cachedIterator serves records from the cache, falling back to the underlying
// source at the first evicted record.
type cachedIterator struct {
	ctx   context.Context
	s     *CachedSource
	count int
	pos   int
	it    Iterator // non-nil once we fell back to the underlying source
}

func (c *cachedIterator) Next() ([]byte, error) {
	if c.pos >= c.count {
		return nil, io.EOF
	}
	if c.it == nil {
		data, err := c.s.cache.Get(cacheKey(c.pos))
		if err == nil {
			c.pos++
			return data, nil
		}
		if err != freecache.ErrNotFound {
			return nil, err
		}
		if err := c.fallback(); err != nil {
			return nil, err
		}
	}
	data, err := c.it.Next()
	if err == io.EOF {
		return nil, &ParseError{Msg: "record source shrank since it was cached"}
	}
	if err != nil {
		return nil, err
	}
	c.s.put(c.pos, data)
	c.pos++
	return data, nil
}

// fallback opens the underlying source positioned at the current record.
func (c *cachedIterator) fallback() error {
	limbs.Debugf("Record %d evicted from cache, reading underlying source\n", c.pos)
	it, err := c.s.src.Open(c.ctx)
	if err != nil {
		return err
	}
	for i := 0; i < c.pos; i++ {
		if _, err := it.Next(); err != nil {
			it.Close()
			if err == io.EOF {
				return &ParseError{Msg: "record source shrank since it was cached"}
			}
			return err
		}
	}
	c.it = it
	return nil
}

func (c *cachedIterator) Close() error {
	if c.it != nil {
		return c.it.Close()
	}
	return nil
}
