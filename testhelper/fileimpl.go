// Package testhelper provides fixtures for exercising the volume and block
// cache layers without a real on-disk file, adapted from go-diskfs's
// FileImpl stub.
package testhelper

import "fmt"

type reader func(b []byte, offset int64) (int, error)
type writer func(b []byte, offset int64) (int, error)

// FileImpl implements backend.RawFile, used to stub out or fault-inject a
// backing file in tests.
type FileImpl struct {
	Reader       reader
	Writer       writer
	TruncateSize int64
	TruncateErr  error
	SizeErr      error
	CloseErr     error
}

func (f *FileImpl) ReadAt(b []byte, offset int64) (int, error) {
	if f.Reader == nil {
		return 0, fmt.Errorf("FileImpl: no Reader configured")
	}
	return f.Reader(b, offset)
}

func (f *FileImpl) WriteAt(b []byte, offset int64) (int, error) {
	if f.Writer == nil {
		return 0, fmt.Errorf("FileImpl: no Writer configured")
	}
	return f.Writer(b, offset)
}

func (f *FileImpl) Truncate(size int64) error {
	if f.TruncateErr != nil {
		return f.TruncateErr
	}
	f.TruncateSize = size
	return nil
}

func (f *FileImpl) Size() (int64, error) {
	if f.SizeErr != nil {
		return 0, f.SizeErr
	}
	return f.TruncateSize, nil
}

func (f *FileImpl) Close() error {
	return f.CloseErr
}
