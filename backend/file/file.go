// Package file implements backend.RawFile over a regular host file, opened
// for direct (unbuffered) I/O where the platform supports it.
package file

import (
	"fmt"
	"os"

	"github.com/jkv/jkv/backend"
)

// File is a block-aligned, positionally-addressed host file.
type File struct {
	f         *os.File
	blockSize int
}

var _ backend.RawFile = (*File)(nil)

// Open opens (creating if necessary) path for direct positional I/O in
// units of blockSize bytes. On platforms without O_DIRECT support the file
// is opened with ordinary buffered I/O (see file_other.go); callers must
// not rely on the absence of kernel buffering in that case.
func Open(path string, blockSize int) (*File, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("jkv/backend/file: block size must be positive, got %d", blockSize)
	}
	f, err := openDirect(path)
	if err != nil {
		return nil, fmt.Errorf("jkv/backend/file: open %s: %w", path, err)
	}
	return &File{f: f, blockSize: blockSize}, nil
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	return f.f.WriteAt(p, off)
}

func (f *File) Truncate(size int64) error {
	return f.f.Truncate(size)
}

func (f *File) Size() (int64, error) {
	info, err := f.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *File) Close() error {
	return f.f.Close()
}
