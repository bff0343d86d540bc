package blockcache

import (
	"sync"

	"github.com/jkv/jkv/chash"
	"github.com/jkv/jkv/util"
	"github.com/sirupsen/logrus"
)

// rawBlock is one cached page: a short lock, a condition variable, the
// aligned buffer, and the data_loaded/dirty/flushing/in_modify state
// described in spec.md §4.1.
type rawBlock struct {
	mu         sync.Mutex
	cond       *sync.Cond
	buf        []byte
	dataLoaded bool
	dirty      bool
	flushing   bool
	inModify   int
}

// Cache is a page-granular, reference-counted, dirty-tracked view of a
// BlockFile. It serializes writers against flush: a reader never blocks on
// a dirty page, but a new writer blocks while its target page is flushing.
type Cache struct {
	file    *BlockFile
	log     logrus.FieldLogger
	entries *chash.Table[uint64, *rawBlock]
}

// New creates a Cache over file. log may be nil, in which case logrus's
// standard logger is used.
func New(file *BlockFile, log logrus.FieldLogger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		file:    file,
		log:     log,
		entries: chash.New[uint64, *rawBlock](chash.HashUint64),
	}
}

func newRawBlock() *rawBlock {
	b := &rawBlock{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// ReadPage is a scoped, read-only reference to a cached block buffer.
type ReadPage struct {
	h   *chash.Handle[uint64, *rawBlock]
	blk *rawBlock
}

// Buf returns the page's backing buffer. It must not be read after Release.
func (p *ReadPage) Buf() []byte {
	return p.blk.buf
}

// Release returns the page to the cache.
func (p *ReadPage) Release() {
	p.h.Release()
}

// WritePage is a scoped, mutable reference to a cached block buffer.
// Multiple concurrent WritePages on the same block index are legal and
// intended: callers modify disjoint regions (e.g. distinct inodes sharing
// a block) and are responsible for not trampling each other via locks
// outside the cache (per-inode/per-block-group locks).
type WritePage struct {
	h   *chash.Handle[uint64, *rawBlock]
	blk *rawBlock
}

// Buf returns the page's backing buffer for in-place mutation.
func (p *WritePage) Buf() []byte {
	return p.blk.buf
}

// Release decrements the in-modify counter and wakes any flush waiting on
// this page, then returns the page to the cache.
func (p *WritePage) Release() {
	p.blk.mu.Lock()
	p.blk.inModify--
	if p.blk.inModify == 0 {
		p.blk.cond.Broadcast()
	}
	p.blk.mu.Unlock()
	p.h.Release()
}

// GetBlock returns a read-only page for blockIdx, loading it from the
// backing file on first access.
func (c *Cache) GetBlock(blockIdx uint64) (*ReadPage, error) {
	blk, h, err := c.acquire(blockIdx)
	if err != nil {
		return nil, err
	}
	return &ReadPage{h: h, blk: blk}, nil
}

// GetMutableBlock returns a writable page for blockIdx, marking it dirty.
// It blocks while the page is concurrently being flushed.
func (c *Cache) GetMutableBlock(blockIdx uint64) (*WritePage, error) {
	blk, h, err := c.acquire(blockIdx)
	if err != nil {
		return nil, err
	}

	blk.mu.Lock()
	for blk.flushing {
		blk.cond.Wait()
	}
	blk.dirty = true
	blk.inModify++
	blk.mu.Unlock()

	return &WritePage{h: h, blk: blk}, nil
}

func (c *Cache) acquire(blockIdx uint64) (*rawBlock, *chash.Handle[uint64, *rawBlock], error) {
	h, _ := c.entries.Emplace(blockIdx, newRawBlock)
	blk := h.Value()

	blk.mu.Lock()
	if blk.buf == nil {
		blk.buf = make([]byte, c.file.BlockSize())
	}
	needLoad := !blk.dataLoaded
	blk.mu.Unlock()

	if needLoad {
		buf := make([]byte, c.file.BlockSize())
		if err := c.file.ReadBlock(buf, blockIdx); err != nil {
			h.Release()
			return nil, nil, err
		}
		blk.mu.Lock()
		if !blk.dataLoaded {
			copy(blk.buf, buf)
			blk.dataLoaded = true
		}
		blk.mu.Unlock()
	}

	return blk, h, nil
}

// Flush writes every dirty page back to the backing file and clears their
// dirty bits. Flush must not starve writers indefinitely: only a writer
// whose target page is actively being flushed blocks, and only for the
// duration of that one page's write.
func (c *Cache) Flush() error {
	var firstErr error
	c.entries.ForEach(func(blockIdx uint64, blk *rawBlock) {
		blk.mu.Lock()
		if !blk.dirty {
			blk.mu.Unlock()
			return
		}
		blk.flushing = true
		buf := make([]byte, len(blk.buf))
		copy(buf, blk.buf)
		blk.mu.Unlock()

		err := c.file.WriteBlock(buf, blockIdx)

		blk.mu.Lock()
		if err == nil {
			blk.dirty = false
		} else if firstErr == nil {
			firstErr = err
			c.log.WithError(err).WithField("block", blockIdx).Error("jkv: flush failed")
		}
		blk.flushing = false
		blk.cond.Broadcast()
		blk.mu.Unlock()
	})
	return firstErr
}

// DumpBlock renders blockIdx's current cached contents as a hex/ASCII dump,
// for logging around corruption reports.
func (c *Cache) DumpBlock(blockIdx uint64) (string, error) {
	page, err := c.GetBlock(blockIdx)
	if err != nil {
		return "", err
	}
	defer page.Release()
	return util.DumpByteSlice(page.Buf(), 16, true, true, false, nil), nil
}

// Close flushes the cache and closes the underlying file.
func (c *Cache) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	return c.file.Close()
}
