// Package bptree implements a paged, on-disk B+Tree storing fixed-size
// (key, value) records in a single backing file, with ordered point
// lookup, insertion with overwrite, deletion, and in-order leaf traversal.
package bptree

import (
	"github.com/oda/bptree/internal/page"
	"github.com/oda/bptree/internal/pager"
)

// Tree is a single B+Tree backed by one file. It is not safe for
// concurrent use by multiple goroutines; callers needing that must
// serialize access themselves (see cmd/bptreed for an example).
type Tree struct {
	pager  *pager.Pager
	closed bool
}

// Open opens path, creating and initializing it as an empty tree if it
// does not already hold one.
func Open(path string) (*Tree, error) {
	p, err := pager.Open(path)
	if err != nil {
		return nil, err
	}

	t := &Tree{pager: p}
	if p.PagesAllocated() == 1 {
		if err := t.initLayout(); err != nil {
			p.Close()
			return nil, err
		}
	}
	return t, nil
}

// initLayout lays out a fresh tree: an empty root directory with a single
// child, an empty leaf, matching the depth-1, pages_allocated=3 layout of
// a just-initialized file.
func (t *Tree) initLayout() error {
	rootIdx, err := t.pager.AllocatePage()
	if err != nil {
		return err
	}
	leafIdx, err := t.pager.AllocatePage()
	if err != nil {
		return err
	}

	root := page.NewDirectory(t.pager.GetPage(rootIdx))
	root.SetChild(0, leafIdx)
	page.NewLeaf(t.pager.GetPage(leafIdx))

	t.pager.SetRootPage(rootIdx)
	t.pager.SetDataHead(leafIdx)
	t.pager.SetDataTail(leafIdx)
	t.pager.SetDepth(1)
	return t.pager.Checkpoint()
}

// Close flushes and closes the backing file. Close is idempotent.
func (t *Tree) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.pager.Checkpoint(); err != nil {
		return err
	}
	return t.pager.Close()
}

// Flush persists all pending writes to disk without closing the tree.
func (t *Tree) Flush() error {
	return t.pager.Checkpoint()
}

// Get returns the value stored for key, if any. The caller must not call
// Get after Close.
func (t *Tree) Get(key uint64) (uint64, bool) {
	idx := t.pager.RootPage()
	for {
		data := t.pager.GetPage(idx)
		if page.KindOf(data) == page.KindLeaf {
			return page.AsLeaf(data).Get(key)
		}
		dir := page.AsDirectory(data)
		idx = dir.ChildAt(dir.ChildIndexForKey(key))
	}
}

// Put inserts key/value, overwriting any existing value for key.
func (t *Tree) Put(key, value uint64) error {
	if t.closed {
		return ErrClosed
	}

	root := t.pager.RootPage()
	sep, newChild, err := t.putRec(root, key, value)
	if err != nil {
		return err
	}
	if newChild == page.NullIdx {
		return nil
	}

	newRootIdx, err := t.pager.AllocatePage()
	if err != nil {
		return err
	}
	newRoot := page.NewDirectory(t.pager.GetPage(newRootIdx))
	newRoot.InitRoot(root, newChild, sep)
	t.pager.SetRootPage(newRootIdx)
	t.pager.SetDepth(t.pager.Depth() + 1)
	return nil
}

// putRec inserts key/value into the subtree rooted at idx. When that
// subtree's root page had to split, it returns the separator to promote
// and the new right sibling's index; otherwise it returns (0, NullIdx,
// nil). The parent chain is implicit in the Go call stack: each frame here
// is one level of the descent, mirroring the small (dir_idx, slot) stack a
// non-recursive implementation would maintain explicitly.
func (t *Tree) putRec(idx page.Idx, key, value uint64) (uint64, page.Idx, error) {
	data := t.pager.GetPage(idx)

	if page.KindOf(data) == page.KindLeaf {
		leaf := page.AsLeaf(data)
		if _, found := leaf.Search(key); found {
			leaf.Put(key, value)
			return 0, page.NullIdx, nil
		}
		if !leaf.IsFull() {
			leaf.Put(key, value)
			return 0, page.NullIdx, nil
		}

		newIdx, err := t.pager.AllocatePage()
		if err != nil {
			return 0, page.NullIdx, err
		}
		// Re-fetch: AllocatePage may have grown and remapped the file,
		// invalidating the slice obtained above.
		leaf = page.AsLeaf(t.pager.GetPage(idx))
		oldNext := leaf.NextLeaf()
		sep, right := leaf.Split(t.pager.GetPage(newIdx))
		right.SetNextLeaf(oldNext)
		leaf.SetNextLeaf(newIdx)
		if t.pager.DataTail() == idx {
			t.pager.SetDataTail(newIdx)
		}

		if key < sep {
			leaf.Put(key, value)
		} else {
			right.Put(key, value)
		}
		return sep, newIdx, nil
	}

	dir := page.AsDirectory(data)
	slot := dir.ChildIndexForKey(key)
	childIdx := dir.ChildAt(slot)

	sep, newChild, err := t.putRec(childIdx, key, value)
	if err != nil {
		return 0, page.NullIdx, err
	}
	if newChild == page.NullIdx {
		return 0, page.NullIdx, nil
	}

	dir = page.AsDirectory(t.pager.GetPage(idx))
	if !dir.IsFull() {
		dir.InsertChild(slot, sep, newChild)
		return 0, page.NullIdx, nil
	}

	newDirIdx, err := t.pager.AllocatePage()
	if err != nil {
		return 0, page.NullIdx, err
	}
	dir = page.AsDirectory(t.pager.GetPage(idx))
	midKey, _ := dir.Split(t.pager.GetPage(newDirIdx), slot, sep, newChild)
	return midKey, newDirIdx, nil
}

// Delete removes key if present, returning whether anything was removed.
func (t *Tree) Delete(key uint64) bool {
	root := t.pager.RootPage()
	removed, _ := t.deleteRec(root, key)
	if removed {
		t.collapseRootIfNeeded()
	}
	return removed
}

// deleteRec removes key from the subtree rooted at idx. It reports whether
// a record was removed, and whether idx's own page is now underfull (the
// caller, one level up, is responsible for remediating that).
func (t *Tree) deleteRec(idx page.Idx, key uint64) (removed bool, underflow bool) {
	data := t.pager.GetPage(idx)

	if page.KindOf(data) == page.KindLeaf {
		leaf := page.AsLeaf(data)
		if !leaf.Delete(key) {
			return false, false
		}
		return true, t.pager.DataHead() != t.pager.DataTail() && leaf.IsUnderfull()
	}

	dir := page.AsDirectory(data)
	slot := dir.ChildIndexForKey(key)
	childIdx := dir.ChildAt(slot)

	removed, childUnderflow := t.deleteRec(childIdx, key)
	if !removed || !childUnderflow {
		return removed, false
	}

	dir = page.AsDirectory(t.pager.GetPage(idx))
	t.handleUnderflow(dir, slot)
	return true, idx != t.pager.RootPage() && dir.IsUnderfull()
}

func (t *Tree) handleUnderflow(parent page.Directory, slot int) {
	childIdx := parent.ChildAt(slot)
	if page.KindOf(t.pager.GetPage(childIdx)) == page.KindLeaf {
		t.handleLeafUnderflow(parent, slot)
		return
	}
	t.handleDirUnderflow(parent, slot)
}

func (t *Tree) handleLeafUnderflow(parent page.Directory, slot int) {
	childIdx := parent.ChildAt(slot)
	child := page.AsLeaf(t.pager.GetPage(childIdx))

	if slot > 0 {
		leftIdx := parent.ChildAt(slot - 1)
		left := page.AsLeaf(t.pager.GetPage(leftIdx))
		if left.CanLendKey() {
			parent.SetKeyAt(slot-1, child.BorrowFromLeft(left))
			return
		}
	}
	if slot < parent.Count() {
		rightIdx := parent.ChildAt(slot + 1)
		right := page.AsLeaf(t.pager.GetPage(rightIdx))
		if right.CanLendKey() {
			parent.SetKeyAt(slot, child.BorrowFromRight(right))
			return
		}
	}
	if slot > 0 {
		leftIdx := parent.ChildAt(slot - 1)
		left := page.AsLeaf(t.pager.GetPage(leftIdx))
		left.MergeWith(child)
		if t.pager.DataTail() == childIdx {
			t.pager.SetDataTail(leftIdx)
		}
		parent.DeleteKeyAt(slot - 1)
		t.mustFreePage(childIdx)
		return
	}
	rightIdx := parent.ChildAt(slot + 1)
	right := page.AsLeaf(t.pager.GetPage(rightIdx))
	child.MergeWith(right)
	if t.pager.DataTail() == rightIdx {
		t.pager.SetDataTail(childIdx)
	}
	parent.DeleteKeyAt(slot)
	t.mustFreePage(rightIdx)
}

func (t *Tree) handleDirUnderflow(parent page.Directory, slot int) {
	childIdx := parent.ChildAt(slot)
	child := page.AsDirectory(t.pager.GetPage(childIdx))

	if slot > 0 {
		leftIdx := parent.ChildAt(slot - 1)
		left := page.AsDirectory(t.pager.GetPage(leftIdx))
		if left.CanLendKey() {
			parentKey := parent.KeyAt(slot - 1)
			parent.SetKeyAt(slot-1, child.BorrowFromLeft(left, parentKey))
			return
		}
	}
	if slot < parent.Count() {
		rightIdx := parent.ChildAt(slot + 1)
		right := page.AsDirectory(t.pager.GetPage(rightIdx))
		if right.CanLendKey() {
			parentKey := parent.KeyAt(slot)
			parent.SetKeyAt(slot, child.BorrowFromRight(right, parentKey))
			return
		}
	}
	if slot > 0 {
		leftIdx := parent.ChildAt(slot - 1)
		left := page.AsDirectory(t.pager.GetPage(leftIdx))
		parentKey := parent.KeyAt(slot - 1)
		left.MergeWith(child, parentKey)
		parent.DeleteKeyAt(slot - 1)
		t.mustFreePage(childIdx)
		return
	}
	rightIdx := parent.ChildAt(slot + 1)
	right := page.AsDirectory(t.pager.GetPage(rightIdx))
	parentKey := parent.KeyAt(slot)
	child.MergeWith(right, parentKey)
	parent.DeleteKeyAt(slot)
	t.mustFreePage(rightIdx)
}

// collapseRootIfNeeded shrinks the tree by one level when the root
// directory has been reduced to a single child and no separators.
func (t *Tree) collapseRootIfNeeded() {
	if t.pager.Depth() <= 1 {
		return
	}
	rootIdx := t.pager.RootPage()
	dir := page.AsDirectory(t.pager.GetPage(rootIdx))
	if dir.Count() != 0 {
		return
	}
	onlyChild := dir.ChildAt(0)
	t.pager.SetRootPage(onlyChild)
	t.pager.SetDepth(t.pager.Depth() - 1)
	t.mustFreePage(rootIdx)
}

// mustFreePage frees idx, panicking if the pager reports an error: a page
// index produced by our own traversal failing to free indicates pager
// corruption, not a recoverable runtime condition.
func (t *Tree) mustFreePage(idx page.Idx) {
	if err := t.pager.FreePage(idx); err != nil {
		panic("bptree: " + err.Error())
	}
}
