// Package backend defines the storage abstraction the volume layer builds
// on: an opaque, positional, block-aligned file. Its concrete
// implementations (package file) are an external collaborator from the
// point of view of the volume format: only this interface matters.
package backend

import "io"

// RawFile is a positional read/write/truncate/size file, block-aligned,
// with no internal buffering guarantees beyond what the implementation
// documents. It stands in for a direct-I/O file descriptor.
type RawFile interface {
	io.ReaderAt
	io.WriterAt

	// Truncate grows or shrinks the file to exactly size bytes.
	Truncate(size int64) error

	// Size returns the current file size in bytes.
	Size() (int64, error)

	Close() error
}
