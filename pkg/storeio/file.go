// Package storeio provides the three external collaborators the storage
// engine core consumes (spec section 1): a byte-sink/byte-source
// abstraction over files, a monotonically strictly-increasing clock, and
// a bounded-concurrency scheduler for background work.
package storeio

import (
	"io"
	"os"
)

// ByteSink is a durable, randomly-writable destination: block sync writes
// a block's data file, bloom filter file and manifest file through one of
// these. Buffer pages open and mmap their files directly.
type ByteSink interface {
	io.WriterAt
	io.Closer
	// Sync forces previously written bytes to stable storage.
	Sync() error
	// Truncate resizes the underlying file.
	Truncate(size int64) error
}

// ByteSource is a durable, randomly-readable origin: the read side of any
// ByteSink once it has been closed by its writer, or a handle opened
// purely for reading (immutable blocks, manifests, recovery replay).
type ByteSource interface {
	io.ReaderAt
	io.Closer
	// Size returns the current size of the underlying file.
	Size() (int64, error)
}

type fileSink struct{ f *os.File }

// CreateSink creates (or truncates) path and returns a ByteSink over it.
func CreateSink(path string) (ByteSink, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileSink{f: f}, nil
}

// OpenSink opens an existing file for read/write, creating it if absent,
// without truncating any existing content.
func OpenSink(path string) (ByteSink, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileSink{f: f}, nil
}

func (s *fileSink) WriteAt(p []byte, off int64) (int, error) { return s.f.WriteAt(p, off) }
func (s *fileSink) Close() error                              { return s.f.Close() }
func (s *fileSink) Sync() error                               { return s.f.Sync() }
func (s *fileSink) Truncate(size int64) error                 { return s.f.Truncate(size) }

// File exposes the underlying *os.File.
func (s *fileSink) File() *os.File { return s.f }

type fileSource struct{ f *os.File }

// OpenSource opens path read-only.
func OpenSource(path string) (ByteSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &fileSource{f: f}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *fileSource) Close() error                             { return s.f.Close() }
func (s *fileSource) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
