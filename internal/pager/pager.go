package pager

import (
	"fmt"

	"github.com/oda/bptree/internal/mmap"
	"github.com/oda/bptree/internal/page"
)

const (
	// InitialFileSize is the initial size of a freshly created database
	// file (1MB).
	InitialFileSize = 1024 * 1024

	// GrowthFactor determines how much to grow the file when extending
	// past the current mapping.
	GrowthFactor = 2
)

// Pager hands out and reclaims fixed-size pages backed by a memory-mapped
// file. It has no knowledge of directory/leaf/free-page contents beyond
// page 0's metadata; interpreting a page's bytes is the caller's job.
type Pager struct {
	mmap *mmap.File
	meta *Meta
}

// Open opens or creates path and loads its metadata, initializing a fresh
// single-page file if it was just created.
func Open(path string) (*Pager, error) {
	m, err := mmap.Open(path, InitialFileSize)
	if err != nil {
		return nil, fmt.Errorf("pager: open mmap: %w", err)
	}

	p := &Pager{mmap: m, meta: &Meta{}}
	if err := p.loadOrInitMeta(); err != nil {
		m.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pager) loadOrInitMeta() error {
	data := p.mmap.Slice(0, PageSize)
	if data == nil {
		return fmt.Errorf("pager: failed to read meta page")
	}
	p.meta.Deserialize(data)

	switch p.meta.Magic {
	case 0:
		p.meta.Magic = magic
		p.meta.PagesAllocated = 1
		p.meta.NextFreePage = page.NullIdx
		p.writeMeta()
	case magic:
		// already initialized
	default:
		return fmt.Errorf("pager: not a bptree file (bad magic)")
	}
	return nil
}

func (p *Pager) writeMeta() {
	data := p.mmap.Slice(0, PageSize)
	p.meta.Serialize(data)
}

// Close unmaps and closes the backing file.
func (p *Pager) Close() error {
	return p.mmap.Close()
}

// GetPage returns the raw page slice at idx. Writes to the returned slice
// are writes to the page; there is no separate "put" call.
func (p *Pager) GetPage(idx page.Idx) []byte {
	offset := int64(idx) * PageSize
	return p.mmap.Slice(offset, PageSize)
}

// AllocatePage returns an index ready to hold a new page, reusing the head
// of the free list if one exists, else extending the file.
func (p *Pager) AllocatePage() (page.Idx, error) {
	if p.meta.NextFreePage != page.NullIdx {
		idx := p.meta.NextFreePage
		data := p.mmap.Slice(int64(idx)*PageSize, PageSize)
		p.meta.NextFreePage = page.FreeNext(data)
		p.writeMeta()
		for i := range data {
			data[i] = 0
		}
		return idx, nil
	}

	newIdx := page.Idx(p.meta.PagesAllocated)
	required := int64(newIdx+1) * PageSize
	if required > p.mmap.Size() {
		newSize := p.mmap.Size() * GrowthFactor
		for newSize < required {
			newSize *= GrowthFactor
		}
		if err := p.mmap.Grow(newSize); err != nil {
			return 0, fmt.Errorf("pager: grow file: %w", err)
		}
	}

	p.meta.PagesAllocated++
	p.writeMeta()
	return newIdx, nil
}

// FreePage pushes idx onto the head of the free list.
func (p *Pager) FreePage(idx page.Idx) error {
	data := p.mmap.Slice(int64(idx)*PageSize, PageSize)
	if data == nil {
		return fmt.Errorf("pager: page %d out of range", idx)
	}
	for i := range data {
		data[i] = 0
	}
	page.SetFree(data, p.meta.NextFreePage)
	p.meta.NextFreePage = idx
	p.writeMeta()
	return nil
}

// RootPage returns the current root directory page index.
func (p *Pager) RootPage() page.Idx { return p.meta.RootPage }

// SetRootPage updates the root directory page index.
func (p *Pager) SetRootPage(idx page.Idx) {
	p.meta.RootPage = idx
	p.writeMeta()
}

// DataHead returns the page index of the first leaf in key order.
func (p *Pager) DataHead() page.Idx { return p.meta.DataHead }

// SetDataHead updates the first-leaf pointer. Only used during
// initialization: the leftmost leaf's page index never changes afterward,
// since it is never the page freed by a merge (having no left sibling, it
// always absorbs its right sibling rather than being absorbed).
func (p *Pager) SetDataHead(idx page.Idx) {
	p.meta.DataHead = idx
	p.writeMeta()
}

// DataTail returns the page index of the last leaf in key order.
func (p *Pager) DataTail() page.Idx { return p.meta.DataTail }

// SetDataTail updates the last-leaf pointer.
func (p *Pager) SetDataTail(idx page.Idx) {
	p.meta.DataTail = idx
	p.writeMeta()
}

// Depth returns the number of directory levels above the leaf level.
func (p *Pager) Depth() uint32 { return p.meta.Depth }

// SetDepth updates the tree depth.
func (p *Pager) SetDepth(d uint32) {
	p.meta.Depth = d
	p.writeMeta()
}

// PagesAllocated returns the total number of pages the file has been
// extended to (including page 0).
func (p *Pager) PagesAllocated() uint64 { return p.meta.PagesAllocated }

// NextFreePage returns the head of the free list.
func (p *Pager) NextFreePage() page.Idx { return p.meta.NextFreePage }

// Checkpoint persists metadata and flushes the mapping to disk.
func (p *Pager) Checkpoint() error {
	p.writeMeta()
	return p.mmap.Sync()
}
