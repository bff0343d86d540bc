package blockcache

import (
	"bytes"
	"sync"
	"testing"

	"github.com/jkv/jkv/testhelper"
)

// memFile backs a testhelper.FileImpl with a fixed-size in-memory buffer.
// Truncate only changes the size the file reports; the buffer does not grow.
func memFile(t *testing.T, size int64) *testhelper.FileImpl {
	t.Helper()
	var mu sync.Mutex
	buf := make([]byte, size)

	f := &testhelper.FileImpl{}
	f.Reader = func(b []byte, offset int64) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		n := copy(b, buf[offset:])
		return n, nil
	}
	f.Writer = func(b []byte, offset int64) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		n := copy(buf[offset:], b)
		return n, nil
	}
	f.TruncateSize = size
	return f
}

func newTestCache(t *testing.T, blockSize int, blocks int) (*Cache, *BlockFile) {
	t.Helper()
	f := memFile(t, int64(blockSize*blocks))
	bf := NewBlockFile(f, blockSize)
	return New(bf, nil), bf
}

func TestGetBlockLoadsZeroedData(t *testing.T) {
	c, _ := newTestCache(t, 64, 4)
	p, err := c.GetBlock(0)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	defer p.Release()

	if !bytes.Equal(p.Buf(), make([]byte, 64)) {
		t.Fatal("expected zeroed block on first load")
	}
}

func TestWriteThenReadBackBeforeFlush(t *testing.T) {
	c, _ := newTestCache(t, 64, 4)

	w, err := c.GetMutableBlock(1)
	if err != nil {
		t.Fatalf("GetMutableBlock: %v", err)
	}
	copy(w.Buf(), []byte("hello"))
	w.Release()

	r, err := c.GetBlock(1)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	defer r.Release()
	if !bytes.HasPrefix(r.Buf(), []byte("hello")) {
		t.Fatalf("buf = %q, want prefix %q", r.Buf(), "hello")
	}
}

func TestDumpBlockRendersHexAndASCII(t *testing.T) {
	c, _ := newTestCache(t, 64, 4)

	w, err := c.GetMutableBlock(2)
	if err != nil {
		t.Fatalf("GetMutableBlock: %v", err)
	}
	copy(w.Buf(), []byte("hello"))
	w.Release()

	dump, err := c.DumpBlock(2)
	if err != nil {
		t.Fatalf("DumpBlock: %v", err)
	}
	if !bytes.Contains([]byte(dump), []byte("hello")) {
		t.Fatalf("dump missing ASCII rendering of block contents:\n%s", dump)
	}
}

func TestFlushPersistsToBackingFile(t *testing.T) {
	c, bf := newTestCache(t, 64, 4)

	w, err := c.GetMutableBlock(2)
	if err != nil {
		t.Fatalf("GetMutableBlock: %v", err)
	}
	copy(w.Buf(), []byte("persisted"))
	w.Release()

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	raw := make([]byte, 64)
	if err := bf.ReadBlock(raw, 2); err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("persisted")) {
		t.Fatalf("backing file = %q, want prefix %q", raw, "persisted")
	}
}

func TestFlushOnlyWritesDirtyBlocks(t *testing.T) {
	c, _ := newTestCache(t, 64, 4)

	r, err := c.GetBlock(0)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	r.Release()

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// no dirty blocks: Flush must be a no-op, verified indirectly by not
	// panicking and by the cache still reporting clean state below.
	clean, _ := c.entries.Get(0)
	if clean.Value().dirty {
		t.Fatal("expected block 0 to stay clean after a read-only access and Flush")
	}
	clean.Release()

	w, err := c.GetMutableBlock(0)
	if err != nil {
		t.Fatalf("GetMutableBlock: %v", err)
	}
	w.Release()
	blk, _ := c.entries.Get(0)
	defer blk.Release()
	if !blk.Value().dirty {
		t.Fatal("expected block 0 to be dirty after GetMutableBlock")
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	c, _ := newTestCache(t, 64, 1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			w, err := c.GetMutableBlock(0)
			if err != nil {
				t.Errorf("GetMutableBlock: %v", err)
				return
			}
			w.Buf()[0] = 'x'
			w.Release()
		}()
		go func() {
			defer wg.Done()
			r, err := c.GetBlock(0)
			if err != nil {
				t.Errorf("GetBlock: %v", err)
				return
			}
			_ = r.Buf()[0]
			r.Release()
		}()
	}
	wg.Wait()

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
