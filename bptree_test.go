package bptree_test

import (
	"path/filepath"
	"testing"

	"github.com/oda/bptree"
)

func open(t *testing.T) (*bptree.Tree, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	tree, err := bptree.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return tree, path
}

func TestSimpleInsertAndLookup(t *testing.T) {
	tree, _ := open(t)
	defer tree.Close()

	if err := tree.Put(10, 1); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := tree.Put(20, 2); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := tree.Put(15, 3); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	cases := []struct {
		key     uint64
		want    uint64
		present bool
	}{
		{10, 1, true},
		{15, 3, true},
		{20, 2, true},
		{99, 0, false},
	}
	for _, c := range cases {
		got, ok := tree.Get(c.key)
		if ok != c.present || (ok && got != c.want) {
			t.Errorf("Get(%d) = %d, %v; want %d, %v", c.key, got, ok, c.want, c.present)
		}
	}

	if err := tree.CheckTree(); err != nil {
		t.Errorf("CheckTree: %v", err)
	}
}

func TestPutOverwritesExistingKey(t *testing.T) {
	tree, _ := open(t)
	defer tree.Close()

	tree.Put(5, 1)
	tree.Put(5, 2)

	got, ok := tree.Get(5)
	if !ok || got != 2 {
		t.Fatalf("Get(5) = %d, %v; want 2, true", got, ok)
	}
	if tree.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", tree.Count())
	}
}

func TestLeafSplitAndRootGrowth(t *testing.T) {
	tree, _ := open(t)
	defer tree.Close()

	const n = 40000
	for i := uint64(0); i < n; i++ {
		if err := tree.Put(i, i*10); err != nil {
			t.Fatalf("Put(%d) failed: %v", i, err)
		}
	}

	if err := tree.CheckTree(); err != nil {
		t.Fatalf("CheckTree after bulk insert: %v", err)
	}
	if tree.Count() != n {
		t.Fatalf("Count() = %d, want %d", tree.Count(), n)
	}
	for i := uint64(0); i < n; i += 97 {
		if v, ok := tree.Get(i); !ok || v != i*10 {
			t.Fatalf("Get(%d) = %d, %v; want %d, true", i, v, ok, i*10)
		}
	}
}

func TestDeleteAbsentKeyIsNoop(t *testing.T) {
	tree, _ := open(t)
	defer tree.Close()

	tree.Put(1, 1)
	if tree.Delete(999) {
		t.Fatal("Delete of absent key should return false")
	}
	if err := tree.CheckTree(); err != nil {
		t.Errorf("CheckTree: %v", err)
	}
}

func TestDeleteWithMergeAndRootCollapse(t *testing.T) {
	tree, _ := open(t)
	defer tree.Close()

	const n = 40000
	for i := uint64(0); i < n; i++ {
		tree.Put(i, i)
	}

	for i := uint64(0); i < n; i++ {
		if !tree.Delete(i) {
			t.Fatalf("Delete(%d) should report removal", i)
		}
		if i%211 == 0 {
			if err := tree.CheckTree(); err != nil {
				t.Fatalf("CheckTree after deleting %d: %v", i, err)
			}
		}
	}

	if err := tree.CheckTree(); err != nil {
		t.Fatalf("CheckTree after draining tree: %v", err)
	}
	if tree.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", tree.Count())
	}
	if _, ok := tree.Get(0); ok {
		t.Fatal("tree should be empty")
	}
}

func TestFreeListReuseAcrossSplitAndMerge(t *testing.T) {
	tree, _ := open(t)
	defer tree.Close()

	for i := uint64(0); i < 2000; i++ {
		tree.Put(i, i)
	}
	for i := uint64(500); i < 1500; i++ {
		tree.Delete(i)
	}
	if err := tree.CheckTree(); err != nil {
		t.Fatalf("CheckTree: %v", err)
	}

	// Re-inserting should reuse freed pages rather than growing the file
	// without bound.
	for i := uint64(500); i < 1500; i++ {
		tree.Put(i, i*2)
	}
	if err := tree.CheckTree(); err != nil {
		t.Fatalf("CheckTree after re-insert: %v", err)
	}
	if tree.Count() != 2000 {
		t.Fatalf("Count() = %d, want 2000", tree.Count())
	}
}

func TestDurabilityAcrossReopen(t *testing.T) {
	tree, path := open(t)

	for i := uint64(0); i < 500; i++ {
		tree.Put(i, i+1)
	}
	if err := tree.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := tree.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := bptree.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	for i := uint64(0); i < 500; i++ {
		got, ok := reopened.Get(i)
		if !ok || got != i+1 {
			t.Fatalf("Get(%d) after reopen = %d, %v; want %d, true", i, got, ok, i+1)
		}
	}
	if err := reopened.CheckTree(); err != nil {
		t.Errorf("CheckTree after reopen: %v", err)
	}
}

func TestRangeScan(t *testing.T) {
	tree, _ := open(t)
	defer tree.Close()

	for i := uint64(0); i < 1000; i++ {
		tree.Put(i, i)
	}

	var got []uint64
	err := tree.Range(100, 110, func(key, value uint64) bool {
		got = append(got, key)
		return true
	})
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(got) != 11 {
		t.Fatalf("Range(100,110) returned %d keys, want 11", len(got))
	}
	for i, k := range got {
		if k != 100+uint64(i) {
			t.Errorf("Range result[%d] = %d, want %d", i, k, 100+uint64(i))
		}
	}
}

// TestNonAscendingInsertAndDeleteMaintainsInvariants inserts and deletes in
// non-ascending orders, so leaf splits, borrows and merges happen across
// the whole key range rather than only at its right edge. At this size the
// tree stays at depth 1 and the root directory never splits; the placements
// of a pending (separator, child) pair in a directory split are covered by
// TestDirectorySplitBalancesBothSides in internal/page. The permutation below is a fixed
// multiplicative-hash ordering (97 and 2000 are coprime, so it visits
// every key in [0, 2000) exactly once) rather than a randomized one, so
// the test is reproducible and its coverage doesn't depend on a seed.
// CheckTree runs after every single Put and Delete to catch an
// invariant violation as soon as it's introduced, not just at the end.
func TestNonAscendingInsertAndDeleteMaintainsInvariants(t *testing.T) {
	tree, _ := open(t)
	defer tree.Close()

	const n = 2000
	const stride = 97 // coprime with n: visits every key in [0, n) exactly once

	for i := uint64(0); i < n; i++ {
		key := (i * stride) % n
		if err := tree.Put(key, key*10); err != nil {
			t.Fatalf("Put(%d) failed: %v", key, err)
		}
		if err := tree.CheckTree(); err != nil {
			t.Fatalf("CheckTree after inserting %d (step %d): %v", key, i, err)
		}
	}
	if tree.Count() != n {
		t.Fatalf("Count() = %d, want %d", tree.Count(), n)
	}
	for i := uint64(0); i < n; i++ {
		if got, ok := tree.Get(i); !ok || got != i*10 {
			t.Fatalf("Get(%d) = %d, %v; want %d, true", i, got, ok, i*10)
		}
	}

	// Delete in a different permutation than insertion used, so merges and
	// borrows are exercised out of order too.
	const delStride = 83 // also coprime with n
	for i := uint64(0); i < n; i++ {
		key := (i * delStride) % n
		if !tree.Delete(key) {
			t.Fatalf("Delete(%d) should report removal", key)
		}
		if err := tree.CheckTree(); err != nil {
			t.Fatalf("CheckTree after deleting %d (step %d): %v", key, i, err)
		}
	}
	if tree.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", tree.Count())
	}
}

func TestRangeEarlyStop(t *testing.T) {
	tree, _ := open(t)
	defer tree.Close()

	for i := uint64(0); i < 1000; i++ {
		tree.Put(i, i)
	}

	count := 0
	tree.Range(0, 999, func(key, value uint64) bool {
		count++
		return count < 5
	})
	if count != 5 {
		t.Fatalf("Range should stop after fn returns false, got %d calls", count)
	}
}
