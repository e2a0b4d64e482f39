package build

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

const cacheVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("build: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// cacheEntry records the source and output contents of one successful compile.
type cacheEntry struct {
	Source [32]byte `cbor:"1,keyasint"`
	Output [32]byte `cbor:"2,keyasint"`
	Path   string   `cbor:"3,keyasint"` // output file
}

type cacheFile struct {
	Version int                   `cbor:"1,keyasint"`
	Entries map[string]cacheEntry `cbor:"2,keyasint"` // keyed by source path
}

// Cache remembers which sources were compiled to which outputs so unchanged
// files can be skipped. It is safe for concurrent use.
type Cache struct {
	path string

	mu      sync.Mutex
	entries map[string]cacheEntry
	dirty   bool
}

// OpenCache loads the cache stored at path. A missing file yields an empty
// cache; an unreadable or outdated one is discarded with a warning.
func OpenCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: map[string]cacheEntry{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache %s: %w", path, err)
	}

	var f cacheFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		log.Warningf("discarding corrupt cache %s: %v", path, err)
		return c, nil
	}
	if f.Version != cacheVersion {
		log.Warningf("discarding cache %s with version %d", path, f.Version)
		return c, nil
	}
	if f.Entries != nil {
		c.entries = f.Entries
	}
	return c, nil
}

// Fresh reports whether src, whose contents hash to srcHash, was already
// compiled to dst and dst still holds exactly that output.
func (c *Cache) Fresh(src, dst string, srcHash [32]byte) bool {
	c.mu.Lock()
	e, ok := c.entries[src]
	c.mu.Unlock()
	if !ok || e.Source != srcHash || e.Path != dst {
		return false
	}
	outHash, err := hashFile(dst)
	if err != nil {
		return false
	}
	return outHash == e.Output
}

// Record stores the result of a successful compile.
func (c *Cache) Record(src, dst string, srcHash, outHash [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[src] = cacheEntry{Source: srcHash, Output: outHash, Path: dst}
	c.dirty = true
}

// Forget drops any record for src.
func (c *Cache) Forget(src string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[src]; ok {
		delete(c.entries, src)
		c.dirty = true
	}
}

// Len returns the number of recorded sources.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Save writes the cache back to disk if it changed.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	data, err := cborEncMode.Marshal(&cacheFile{Version: cacheVersion, Entries: c.entries})
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}
	err = writeAtomic(c.path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("writing cache %s: %w", c.path, err)
	}
	c.dirty = false
	return nil
}

func hashFile(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [32]byte{}, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
