package fs

import (
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FDCache keeps recently used content files open.
//
// Files are reference counted: eviction only closes a file once every reader
// that acquired it has released it, so concurrent ReadAt calls never see a
// file closed underneath them.
type FDCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *cachedFile]
}

type cachedFile struct {
	file    *os.File
	refs    int
	evicted bool
}

// NewFDCache creates a cache holding at most maxSize open files.
func NewFDCache(maxSize int) (*FDCache, error) {
	if maxSize < 1 {
		maxSize = 256
	}

	c := &FDCache{}
	cache, err := lru.NewWithEvict[string, *cachedFile](maxSize, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// onEvict runs with c.mu held (every cache mutation happens under it).
func (c *FDCache) onEvict(_ string, cf *cachedFile) {
	cf.evicted = true
	if cf.refs == 0 {
		_ = cf.file.Close()
	}
}

// Acquire returns an open file for path, opening it on a miss. The returned
// release func must be called when the caller is done with the file.
func (c *FDCache) Acquire(path string) (*os.File, func(), error) {
	c.mu.Lock()
	if cf, ok := c.cache.Get(path); ok {
		cf.refs++
		c.mu.Unlock()
		return cf.file, c.releaser(cf), nil
	}
	c.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have opened the same path meanwhile.
	if cf, ok := c.cache.Get(path); ok {
		_ = f.Close()
		cf.refs++
		return cf.file, c.releaser(cf), nil
	}

	cf := &cachedFile{file: f, refs: 1}
	c.cache.Add(path, cf)
	return f, c.releaser(cf), nil
}

func (c *FDCache) releaser(cf *cachedFile) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			cf.refs--
			if cf.evicted && cf.refs == 0 {
				_ = cf.file.Close()
			}
		})
	}
}

// Len returns the number of cached files.
func (c *FDCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Close evicts and closes every cached file.
func (c *FDCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}
