// Package pager manages page-based storage of a single B+Tree file using a
// memory-mapped backing file: page 0 holds the tree's metadata, and every
// other page holds a directory, leaf, or free-list node as defined by the
// page package.
package pager

import (
	"encoding/binary"

	"github.com/oda/bptree/internal/page"
)

const (
	// PageSize is the size of every page in the file.
	PageSize = page.Size

	// magic identifies a file as belonging to this format. It is not a
	// format version — none is persisted — only a marker distinguishing
	// a freshly zeroed file from one that already holds a tree.
	magic uint32 = 0x42505452 // "BPTR"
)

// Meta is the in-memory mirror of page 0.
type Meta struct {
	Magic          uint32
	NextFreePage   page.Idx
	RootPage       page.Idx
	DataHead       page.Idx
	DataTail       page.Idx
	PagesAllocated uint64
	Depth          uint32
}

// metaSize is the serialized size of Meta.
const metaSize = 4 + 8*5 + 4 // 48 bytes

// Serialize writes m into buf.
func (m *Meta) Serialize(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], m.Magic)
	binary.LittleEndian.PutUint64(buf[4:12], m.NextFreePage)
	binary.LittleEndian.PutUint64(buf[12:20], m.RootPage)
	binary.LittleEndian.PutUint64(buf[20:28], m.DataHead)
	binary.LittleEndian.PutUint64(buf[28:36], m.DataTail)
	binary.LittleEndian.PutUint64(buf[36:44], m.PagesAllocated)
	binary.LittleEndian.PutUint32(buf[44:48], m.Depth)
}

// Deserialize reads m from buf.
func (m *Meta) Deserialize(buf []byte) {
	m.Magic = binary.LittleEndian.Uint32(buf[0:4])
	m.NextFreePage = binary.LittleEndian.Uint64(buf[4:12])
	m.RootPage = binary.LittleEndian.Uint64(buf[12:20])
	m.DataHead = binary.LittleEndian.Uint64(buf[20:28])
	m.DataTail = binary.LittleEndian.Uint64(buf[28:36])
	m.PagesAllocated = binary.LittleEndian.Uint64(buf[36:44])
	m.Depth = binary.LittleEndian.Uint32(buf[44:48])
}
