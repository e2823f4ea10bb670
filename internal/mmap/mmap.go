// Package mmap memory-maps a single file for use as a pager's backing
// store: the pager addresses fixed-size pages directly inside the
// returned byte slice rather than going through read/write syscalls.
package mmap

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by Sync when it is called after Close.
var ErrClosed = errors.New("mmap: closed")

// File is a file mapped into the process's address space with
// PROT_READ|PROT_WRITE, MAP_SHARED semantics: writes through the
// returned slice are visible to other mappings of the same file and
// are persisted by Sync or ordinary page eviction.
type File struct {
	f       *os.File
	mapping []byte
	size    int64
}

// Open maps path into memory, creating it at minSize if it doesn't
// exist and extending it up to minSize if it's smaller. An existing
// file larger than minSize is mapped at its current size.
func Open(path string, minSize int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("mmap: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap: stat: %w", err)
	}

	size := info.Size()
	if size < minSize {
		if err := f.Truncate(minSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("mmap: truncate to %d: %w", minSize, err)
		}
		size = minSize
	}

	mapping, err := mapFile(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{f: f, mapping: mapping, size: size}, nil
}

func mapFile(f *os.File, size int64) ([]byte, error) {
	mapping, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: map %d bytes: %w", size, err)
	}
	return mapping, nil
}

// Close unmaps the file and closes its descriptor. Close is not
// idempotent: a second call returns an unmap error, since the region is
// already unmapped.
func (m *File) Close() error {
	if err := unix.Munmap(m.mapping); err != nil {
		return fmt.Errorf("mmap: unmap: %w", err)
	}
	m.mapping = nil
	if err := m.f.Close(); err != nil {
		return fmt.Errorf("mmap: close: %w", err)
	}
	m.f = nil
	return nil
}

// Sync flushes the mapping's dirty pages to disk.
func (m *File) Sync() error {
	if m.mapping == nil {
		return ErrClosed
	}
	if err := unix.Msync(m.mapping, unix.MS_SYNC); err != nil {
		return fmt.Errorf("mmap: sync: %w", err)
	}
	return nil
}

// Size reports the current mapped length in bytes.
func (m *File) Size() int64 {
	return m.size
}

// Data returns the full mapped region. The slice is invalidated by the
// next successful Grow or by Close; callers must not retain it across
// either.
func (m *File) Data() []byte {
	return m.mapping
}

// Slice returns mapping[offset : offset+length], or nil if that range
// falls outside the current mapping.
func (m *File) Slice(offset, length int64) []byte {
	if m.mapping == nil {
		return nil
	}
	if offset < 0 || length < 0 || offset+length > m.size {
		return nil
	}
	return m.mapping[offset : offset+length]
}

// Grow extends the backing file to newSize and remaps it, invalidating
// any slice previously returned by Data or Slice. It is a no-op if
// newSize does not exceed the current size.
func (m *File) Grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}

	if err := unix.Munmap(m.mapping); err != nil {
		return fmt.Errorf("mmap: unmap for grow: %w", err)
	}
	m.mapping = nil

	if err := m.f.Truncate(newSize); err != nil {
		return fmt.Errorf("mmap: truncate to %d: %w", newSize, err)
	}

	mapping, err := mapFile(m.f, newSize)
	if err != nil {
		return err
	}

	m.mapping = mapping
	m.size = newSize
	return nil
}
