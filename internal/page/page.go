// Package page implements the on-disk layout of the four page variants a
// tree file is built from: the metadata page, directory pages, leaf pages,
// and free-list pages. Every page is a fixed-size byte slice handed to it by
// a pager; all methods here operate directly on that slice, so writes are
// visible to whoever holds the slice without an explicit "put" step.
package page

import (
	"encoding/binary"
	"sort"
)

const (
	// Size is the size of every page in bytes, matching the standard OS
	// page size.
	Size = 4096

	headerSize = 16

	// NullIdx is the sentinel for "no page". Page 0 is permanently the
	// metadata page and is never a valid directory, leaf, or free-page
	// target, so 0 doubles safely as the null pointer for every pointer
	// field below.
	NullIdx Idx = 0
)

// Idx identifies a page by its position in the file.
type Idx = uint64

// Kind is the one-byte tag stored at offset 0 of every non-metadata page.
type Kind uint8

const (
	KindDirectory Kind = iota
	KindLeaf
	KindFree
)

const (
	leafEntrySize = 16 // key uint64 + value uint64

	// MaxLeafRecords is the largest number of records a leaf can hold:
	// (Size - headerSize) / leafEntrySize.
	MaxLeafRecords = (Size - headerSize) / leafEntrySize // 255
	// MinLeafRecords is the fill floor for any leaf other than the sole
	// leaf of a single-leaf tree.
	MinLeafRecords = MaxLeafRecords / 2 // 127

	// MaxDirKeys is the largest number of separators a directory can
	// hold. Each key costs 8 bytes and each split adds one extra child
	// pointer (8 bytes): 16*N + 8 <= Size-headerSize => N <= 254.
	MaxDirKeys = 254
	// MinDirKeys is the fill floor for any non-root directory.
	MinDirKeys = MaxDirKeys / 2 // 127

	dirKeysOffset     = headerSize
	dirChildrenOffset = headerSize + MaxDirKeys*8
)

// KindOf reads the page-kind tag from a non-metadata page.
func KindOf(data []byte) Kind {
	return Kind(data[0])
}

func getCount(data []byte) uint16 {
	return binary.LittleEndian.Uint16(data[1:3])
}

func setCount(data []byte, count uint16) {
	binary.LittleEndian.PutUint16(data[1:3], count)
}

func getNextLeaf(data []byte) Idx {
	return binary.LittleEndian.Uint64(data[3:11])
}

func setNextLeaf(data []byte, next Idx) {
	binary.LittleEndian.PutUint64(data[3:11], next)
}

// Leaf wraps a page holding ordered (key, value) records.
type Leaf struct {
	data []byte
}

// NewLeaf formats data as a fresh, empty leaf and returns a wrapper over it.
func NewLeaf(data []byte) Leaf {
	data[0] = byte(KindLeaf)
	setCount(data, 0)
	setNextLeaf(data, NullIdx)
	return Leaf{data}
}

// AsLeaf wraps an already-formatted leaf page.
func AsLeaf(data []byte) Leaf {
	return Leaf{data}
}

// Count returns the number of records currently stored.
func (l Leaf) Count() int {
	return int(getCount(l.data))
}

// NextLeaf returns the page index of the next leaf in key order, or
// NullIdx if this is the last leaf.
func (l Leaf) NextLeaf() Idx {
	return getNextLeaf(l.data)
}

// SetNextLeaf updates the next-leaf link.
func (l Leaf) SetNextLeaf(idx Idx) {
	setNextLeaf(l.data, idx)
}

func (l Leaf) entryOffset(i int) int {
	return headerSize + i*leafEntrySize
}

// KeyAt returns the key of the i'th record.
func (l Leaf) KeyAt(i int) uint64 {
	off := l.entryOffset(i)
	return binary.LittleEndian.Uint64(l.data[off : off+8])
}

// ValueAt returns the value of the i'th record.
func (l Leaf) ValueAt(i int) uint64 {
	off := l.entryOffset(i)
	return binary.LittleEndian.Uint64(l.data[off+8 : off+16])
}

func (l Leaf) setEntry(i int, key, value uint64) {
	off := l.entryOffset(i)
	binary.LittleEndian.PutUint64(l.data[off:off+8], key)
	binary.LittleEndian.PutUint64(l.data[off+8:off+16], value)
}

// Search returns the position of key and true if present, else the
// insertion position it would occupy and false.
func (l Leaf) Search(key uint64) (int, bool) {
	n := l.Count()
	idx := sort.Search(n, func(i int) bool { return l.KeyAt(i) >= key })
	if idx < n && l.KeyAt(idx) == key {
		return idx, true
	}
	return idx, false
}

// Get returns the value stored for key, if present.
func (l Leaf) Get(key uint64) (uint64, bool) {
	idx, found := l.Search(key)
	if !found {
		return 0, false
	}
	return l.ValueAt(idx), true
}

// IsFull reports whether the leaf has no room for another record.
func (l Leaf) IsFull() bool {
	return l.Count() >= MaxLeafRecords
}

// IsUnderfull reports whether the leaf is below the fill floor.
func (l Leaf) IsUnderfull() bool {
	return l.Count() < MinLeafRecords
}

// CanLendKey reports whether a record can be stolen from this leaf without
// making it underfull.
func (l Leaf) CanLendKey() bool {
	return l.Count() > MinLeafRecords
}

func (l Leaf) insertAt(idx int, key, value uint64) {
	n := l.Count()
	for i := n; i > idx; i-- {
		l.setEntry(i, l.KeyAt(i-1), l.ValueAt(i-1))
	}
	l.setEntry(idx, key, value)
	setCount(l.data, uint16(n+1))
}

func (l Leaf) removeAt(idx int) {
	n := l.Count()
	for i := idx; i < n-1; i++ {
		l.setEntry(i, l.KeyAt(i+1), l.ValueAt(i+1))
	}
	setCount(l.data, uint16(n-1))
}

func (l Leaf) appendRaw(key, value uint64) {
	n := l.Count()
	l.setEntry(n, key, value)
	setCount(l.data, uint16(n+1))
}

// Put inserts key/value in sorted position, or overwrites the existing
// record for key. The caller must ensure the leaf is not full when key is
// not already present.
func (l Leaf) Put(key, value uint64) {
	idx, found := l.Search(key)
	if found {
		l.setEntry(idx, key, value)
		return
	}
	l.insertAt(idx, key, value)
}

// Delete removes key if present and reports whether it removed anything.
func (l Leaf) Delete(key uint64) bool {
	idx, found := l.Search(key)
	if !found {
		return false
	}
	l.removeAt(idx)
	return true
}

// Split moves the upper half of l's records into newData, leaving the
// ceil(n/2) lowest-keyed records in l. It returns the separator to promote
// to the parent (the first key of the new right leaf) and a wrapper over
// the new leaf. The caller is responsible for linking next_leaf pointers.
func (l Leaf) Split(newData []byte) (uint64, Leaf) {
	n := l.Count()
	mid := (n + 1) / 2
	right := NewLeaf(newData)
	for i := mid; i < n; i++ {
		right.appendRaw(l.KeyAt(i), l.ValueAt(i))
	}
	setCount(l.data, uint16(mid))
	return right.KeyAt(0), right
}

// BorrowFromRight moves right's first record onto the end of l and returns
// right's new first key, the new parent separator.
func (l Leaf) BorrowFromRight(right Leaf) uint64 {
	l.appendRaw(right.KeyAt(0), right.ValueAt(0))
	right.removeAt(0)
	return right.KeyAt(0)
}

// BorrowFromLeft moves left's last record onto the front of l and returns
// that record's key, the new parent separator.
func (l Leaf) BorrowFromLeft(left Leaf) uint64 {
	n := left.Count()
	key, value := left.KeyAt(n-1), left.ValueAt(n-1)
	l.insertAt(0, key, value)
	left.removeAt(n - 1)
	return key
}

// MergeWith appends all of right's records onto l and adopts right's
// next-leaf link. The caller frees right's page afterward.
func (l Leaf) MergeWith(right Leaf) {
	n := right.Count()
	for i := 0; i < n; i++ {
		l.appendRaw(right.KeyAt(i), right.ValueAt(i))
	}
	l.SetNextLeaf(right.NextLeaf())
}

// Directory wraps a page holding separator keys and child page pointers.
type Directory struct {
	data []byte
}

// NewDirectory formats data as a fresh, empty directory.
func NewDirectory(data []byte) Directory {
	data[0] = byte(KindDirectory)
	setCount(data, 0)
	return Directory{data}
}

// AsDirectory wraps an already-formatted directory page.
func AsDirectory(data []byte) Directory {
	return Directory{data}
}

// Count returns the number of separator keys (child count is Count()+1).
func (d Directory) Count() int {
	return int(getCount(d.data))
}

func (d Directory) keyOffset(i int) int {
	return dirKeysOffset + i*8
}

func (d Directory) childOffset(i int) int {
	return dirChildrenOffset + i*8
}

// KeyAt returns the i'th separator key.
func (d Directory) KeyAt(i int) uint64 {
	off := d.keyOffset(i)
	return binary.LittleEndian.Uint64(d.data[off : off+8])
}

func (d Directory) setKey(i int, key uint64) {
	off := d.keyOffset(i)
	binary.LittleEndian.PutUint64(d.data[off:off+8], key)
}

// SetKeyAt overwrites the i'th separator in place (used when a steal
// rotates a new separator into an existing slot).
func (d Directory) SetKeyAt(i int, key uint64) {
	d.setKey(i, key)
}

// ChildAt returns the i'th child page index.
func (d Directory) ChildAt(i int) Idx {
	off := d.childOffset(i)
	return binary.LittleEndian.Uint64(d.data[off : off+8])
}

// SetChild overwrites the i'th child pointer in place.
func (d Directory) SetChild(i int, idx Idx) {
	off := d.childOffset(i)
	binary.LittleEndian.PutUint64(d.data[off:off+8], idx)
}

// IsFull reports whether the directory has no room for another separator.
func (d Directory) IsFull() bool {
	return d.Count() >= MaxDirKeys
}

// IsUnderfull reports whether the directory is below the fill floor.
func (d Directory) IsUnderfull() bool {
	return d.Count() < MinDirKeys
}

// CanLendKey reports whether a separator can be stolen from this directory
// without making it underfull.
func (d Directory) CanLendKey() bool {
	return d.Count() > MinDirKeys
}

// InitRoot formats d as a brand-new root with a single separator and two
// children, used both at tree-init time and whenever the root splits.
func (d Directory) InitRoot(leftChild, rightChild Idx, key uint64) {
	d.SetChild(0, leftChild)
	d.setKey(0, key)
	d.SetChild(1, rightChild)
	setCount(d.data, 1)
}

// ChildIndexForKey returns the child slot that must be descended into for
// key: the count of separators <= key.
func (d Directory) ChildIndexForKey(key uint64) int {
	n := d.Count()
	return sort.Search(n, func(i int) bool { return d.KeyAt(i) > key })
}

// InsertChild inserts separator key and the new right child produced by
// splitting the child currently at slot. The caller must ensure d has room.
func (d Directory) InsertChild(slot int, key uint64, rightChild Idx) {
	n := d.Count()
	for i := n; i > slot; i-- {
		d.setKey(i, d.KeyAt(i-1))
	}
	d.setKey(slot, key)
	for i := n + 1; i > slot+1; i-- {
		d.SetChild(i, d.ChildAt(i-1))
	}
	d.SetChild(slot+1, rightChild)
	setCount(d.data, uint16(n+1))
}

// DeleteKeyAt removes separator idx together with the child pointer to its
// right (used after a merge absorbs that child).
func (d Directory) DeleteKeyAt(idx int) {
	n := d.Count()
	for i := idx; i < n-1; i++ {
		d.setKey(i, d.KeyAt(i+1))
	}
	for i := idx + 1; i < n; i++ {
		d.SetChild(i, d.ChildAt(i+1))
	}
	setCount(d.data, uint16(n-1))
}

// Split divides a full directory in two to make room for a pending
// (key, child) pair that belongs at slot, and returns the separator
// promoted to the parent together with the new right directory. Unlike a
// leaf split, the promoted separator is removed from both halves rather
// than copied.
//
// The boundary depends on slot rather than being a fixed n/2: the pending
// pair lands in the left half, the right half, or becomes the promoted
// key itself, and each of those three cases needs a different split point
// to keep both halves at exactly MinDirKeys afterward. Picking the
// boundary independently of slot and only afterward deciding which side
// absorbs the pending pair (as a plain n/2 split would) leaves one side a
// key short whenever the pair lands opposite the fixed promoted index.
func (d Directory) Split(newData []byte, slot int, key uint64, child Idx) (uint64, Directory) {
	n := d.Count()
	mid := n / 2
	right := NewDirectory(newData)

	switch {
	case slot < mid:
		// Promoted key is the current last key of the naive left half;
		// the pending pair then lands inside the shrunken left half.
		promoted := d.KeyAt(mid - 1)
		rn := n - mid
		for i := 0; i < rn; i++ {
			right.setKey(i, d.KeyAt(mid+i))
		}
		for i := 0; i <= rn; i++ {
			right.SetChild(i, d.ChildAt(mid+i))
		}
		setCount(right.data, uint16(rn))
		setCount(d.data, uint16(mid-1))
		d.InsertChild(slot, key, child)
		return promoted, right

	case slot == mid:
		// The pending pair sits exactly at the split point: it becomes
		// the promoted key itself, and its child becomes right's new
		// leftmost child. Neither half's existing keys move.
		rn := n - mid
		for i := 0; i < rn; i++ {
			right.setKey(i, d.KeyAt(mid+i))
		}
		right.SetChild(0, child)
		for i := 1; i <= rn; i++ {
			right.SetChild(i, d.ChildAt(mid+i))
		}
		setCount(right.data, uint16(rn))
		setCount(d.data, uint16(mid))
		return key, right

	default: // slot > mid
		// Promoted key is the current first key of the naive right half;
		// the pending pair lands inside the shrunken right half.
		promoted := d.KeyAt(mid)
		rn := n - mid - 1
		for i := 0; i < rn; i++ {
			right.setKey(i, d.KeyAt(mid+1+i))
		}
		for i := 0; i <= rn; i++ {
			right.SetChild(i, d.ChildAt(mid+1+i))
		}
		setCount(right.data, uint16(rn))
		right.InsertChild(slot-mid-1, key, child)
		setCount(d.data, uint16(mid))
		return promoted, right
	}
}

func (d Directory) removeFront() {
	n := d.Count()
	for i := 0; i < n-1; i++ {
		d.setKey(i, d.KeyAt(i+1))
	}
	for i := 0; i < n; i++ {
		d.SetChild(i, d.ChildAt(i+1))
	}
	setCount(d.data, uint16(n-1))
}

// BorrowFromRight rotates one separator from right into d: parentKey
// descends to become d's new last separator, right's first child moves to
// d's new last child slot, and right's old first key rises to become the
// new parent separator.
func (d Directory) BorrowFromRight(right Directory, parentKey uint64) uint64 {
	n := d.Count()
	d.setKey(n, parentKey)
	d.SetChild(n+1, right.ChildAt(0))
	setCount(d.data, uint16(n+1))
	newParentKey := right.KeyAt(0)
	right.removeFront()
	return newParentKey
}

// BorrowFromLeft rotates one separator from left into d: parentKey
// descends to become d's new first separator, left's last child moves to
// d's new first child slot, and left's old last key rises to become the
// new parent separator.
func (d Directory) BorrowFromLeft(left Directory, parentKey uint64) uint64 {
	n := d.Count()
	ln := left.Count()
	for i := n; i > 0; i-- {
		d.setKey(i, d.KeyAt(i-1))
	}
	for i := n + 1; i > 0; i-- {
		d.SetChild(i, d.ChildAt(i-1))
	}
	d.setKey(0, parentKey)
	d.SetChild(0, left.ChildAt(ln))
	setCount(d.data, uint16(n+1))
	newParentKey := left.KeyAt(ln - 1)
	setCount(left.data, uint16(ln-1))
	return newParentKey
}

// MergeWith concatenates d's separators, then parentKey (descending from
// the parent), then right's separators; children concatenate likewise. The
// caller frees right's page and removes parentKey from the parent.
func (d Directory) MergeWith(right Directory, parentKey uint64) {
	n := d.Count()
	d.setKey(n, parentKey)
	rn := right.Count()
	for i := 0; i < rn; i++ {
		d.setKey(n+1+i, right.KeyAt(i))
	}
	for i := 0; i <= rn; i++ {
		d.SetChild(n+1+i, right.ChildAt(i))
	}
	setCount(d.data, uint16(n+1+rn))
}

// SetFree formats data as a free-list node pointing at next.
func SetFree(data []byte, next Idx) {
	data[0] = byte(KindFree)
	binary.LittleEndian.PutUint64(data[1:9], next)
}

// FreeNext reads the next-free-page pointer of a free-list node.
func FreeNext(data []byte) Idx {
	return binary.LittleEndian.Uint64(data[1:9])
}
