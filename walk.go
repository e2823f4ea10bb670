package bptree

import (
	"fmt"
	"io"
	"strings"

	"github.com/oda/bptree/internal/page"
)

// Range calls fn for every (key, value) with start <= key <= end, in
// ascending key order, via the leaf chain. It stops early if fn returns
// false.
func (t *Tree) Range(start, end uint64, fn func(key, value uint64) bool) error {
	idx := t.leafContaining(start)
	for idx != page.NullIdx {
		leaf := page.AsLeaf(t.pager.GetPage(idx))
		n := leaf.Count()
		for i := 0; i < n; i++ {
			k := leaf.KeyAt(i)
			if k < start {
				continue
			}
			if k > end {
				return nil
			}
			if !fn(k, leaf.ValueAt(i)) {
				return nil
			}
		}
		idx = leaf.NextLeaf()
	}
	return nil
}

func (t *Tree) leafContaining(key uint64) page.Idx {
	idx := t.pager.RootPage()
	for {
		data := t.pager.GetPage(idx)
		if page.KindOf(data) == page.KindLeaf {
			return idx
		}
		dir := page.AsDirectory(data)
		idx = dir.ChildAt(dir.ChildIndexForKey(key))
	}
}

// Count returns the total number of records, via a full leaf-chain scan.
// Diagnostic use only; callers on a hot path should track counts
// themselves.
func (t *Tree) Count() int {
	n := 0
	idx := t.pager.DataHead()
	for idx != page.NullIdx {
		leaf := page.AsLeaf(t.pager.GetPage(idx))
		n += leaf.Count()
		idx = leaf.NextLeaf()
	}
	return n
}

// CheckTree verifies the structural invariants documented for the tree:
// directory/leaf fill, key ordering within and across pages, leaf-chain
// connectivity, and free-list acyclicity. It returns nil if all hold.
func (t *Tree) CheckTree() error {
	leafTotal := t.leafPageCount()
	if err := t.checkStructure(t.pager.RootPage(), 0, leafTotal); err != nil {
		return err
	}
	if err := t.checkLeafChain(); err != nil {
		return err
	}
	return t.checkFreeList()
}

func (t *Tree) leafPageCount() int {
	n := 0
	idx := t.pager.DataHead()
	for idx != page.NullIdx {
		n++
		idx = page.AsLeaf(t.pager.GetPage(idx)).NextLeaf()
	}
	return n
}

func (t *Tree) checkStructure(idx page.Idx, level int, leafTotal int) error {
	data := t.pager.GetPage(idx)

	switch page.KindOf(data) {
	case page.KindLeaf:
		if uint32(level) != t.pager.Depth() {
			return fmt.Errorf("%w: leaf page %d reached at level %d, tree depth is %d", ErrCorrupt, idx, level, t.pager.Depth())
		}
		leaf := page.AsLeaf(data)
		if leafTotal > 1 && leaf.IsUnderfull() {
			return fmt.Errorf("%w: leaf page %d underfull (%d records)", ErrCorrupt, idx, leaf.Count())
		}
		for i := 1; i < leaf.Count(); i++ {
			if leaf.KeyAt(i-1) >= leaf.KeyAt(i) {
				return fmt.Errorf("%w: leaf page %d keys not strictly ascending", ErrCorrupt, idx)
			}
		}
		return nil

	case page.KindDirectory:
		dir := page.AsDirectory(data)
		n := dir.Count()
		isRoot := idx == t.pager.RootPage()
		if !isRoot && dir.IsUnderfull() {
			return fmt.Errorf("%w: directory page %d underfull (%d keys)", ErrCorrupt, idx, n)
		}
		for i := 1; i < n; i++ {
			if dir.KeyAt(i-1) >= dir.KeyAt(i) {
				return fmt.Errorf("%w: directory page %d keys not strictly ascending", ErrCorrupt, idx)
			}
		}
		for i := 0; i <= n; i++ {
			if err := t.checkStructure(dir.ChildAt(i), level+1, leafTotal); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: page %d has unexpected kind %d", ErrCorrupt, idx, page.KindOf(data))
	}
}

func (t *Tree) checkLeafChain() error {
	seen := make(map[page.Idx]bool)
	idx := t.pager.DataHead()
	var lastKey uint64
	haveLast := false

	for idx != page.NullIdx {
		if seen[idx] {
			return fmt.Errorf("%w: leaf chain revisits page %d", ErrCorrupt, idx)
		}
		seen[idx] = true

		leaf := page.AsLeaf(t.pager.GetPage(idx))
		for i := 0; i < leaf.Count(); i++ {
			k := leaf.KeyAt(i)
			if haveLast && k <= lastKey {
				return fmt.Errorf("%w: leaf chain keys not strictly ascending at page %d", ErrCorrupt, idx)
			}
			lastKey, haveLast = k, true
		}

		next := leaf.NextLeaf()
		if next == page.NullIdx && idx != t.pager.DataTail() {
			return fmt.Errorf("%w: leaf chain ends at page %d, want data_tail %d", ErrCorrupt, idx, t.pager.DataTail())
		}
		idx = next
	}
	return nil
}

func (t *Tree) checkFreeList() error {
	seen := make(map[page.Idx]bool)
	idx := t.pager.NextFreePage()
	for idx != page.NullIdx {
		if seen[idx] {
			return fmt.Errorf("%w: free list cycles at page %d", ErrCorrupt, idx)
		}
		seen[idx] = true
		idx = page.FreeNext(t.pager.GetPage(idx))
	}
	return nil
}

// PrintTree writes a human-readable dump of the tree's structure to w, for
// manual debugging. It is not part of the tested contract.
func (t *Tree) PrintTree(w io.Writer) {
	t.printPage(w, t.pager.RootPage(), 0)
}

func (t *Tree) printPage(w io.Writer, idx page.Idx, indent int) {
	data := t.pager.GetPage(idx)
	pad := strings.Repeat("  ", indent)

	switch page.KindOf(data) {
	case page.KindLeaf:
		leaf := page.AsLeaf(data)
		fmt.Fprintf(w, "%sleaf[%d] records=%d next=%d\n", pad, idx, leaf.Count(), leaf.NextLeaf())
		for i := 0; i < leaf.Count(); i++ {
			fmt.Fprintf(w, "%s  %d -> %d\n", pad, leaf.KeyAt(i), leaf.ValueAt(i))
		}
	case page.KindDirectory:
		dir := page.AsDirectory(data)
		fmt.Fprintf(w, "%sdir[%d] keys=%d\n", pad, idx, dir.Count())
		for i := 0; i <= dir.Count(); i++ {
			t.printPage(w, dir.ChildAt(i), indent+1)
		}
	}
}
