// Package unitio provides the memory-mapped REL-unit reader described in
// spec §5's resource discipline: each input unit is mapped, copied out
// with ReadAll, and released within a single process_unit call; the REL
// decoder then works on the copied []byte.
//
// It wraps golang.org/x/exp/mmap (the same ambient library
// Manu343726-cucaracha depends on) behind the small Reader interface
// the decoder actually needs, so tests can substitute an in-memory reader
// without touching the filesystem.
package unitio

import (
	"fmt"
	"io"

	"golang.org/x/exp/mmap"
)

// Reader is the minimal surface the REL decoder needs from a unit's
// backing bytes: random access plus a length.
type Reader interface {
	io.ReaderAt
	Len() int
	Close() error
}

// Open memory-maps path and returns a Reader scoped to the caller — it
// must be Closed when the unit has finished decoding.
func Open(path string) (Reader, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return r, nil
}

// ReadAll copies out every byte of r — used once the decoder needs a
// contiguous []byte to slice into label/relocation streams; the mapping
// itself is still released promptly via Close.
func ReadAll(r Reader) ([]byte, error) {
	buf := make([]byte, r.Len())
	if _, err := r.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// memReader is an in-memory Reader, used by tests.
type memReader struct {
	data []byte
}

// NewMemReader wraps data as a Reader without touching the filesystem.
func NewMemReader(data []byte) Reader { return &memReader{data: data} }

func (m *memReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off) > len(m.data) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memReader) Len() int     { return len(m.data) }
func (m *memReader) Close() error { return nil }
