package pager

import (
	"path/filepath"
	"testing"
)

func TestOpenClose(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.db")

	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if p.PagesAllocated() != 1 {
		t.Errorf("expected pages allocated 1, got %d", p.PagesAllocated())
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestAllocatePage(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.db")

	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	id1, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage failed: %v", err)
	}
	if id1 != 1 {
		t.Errorf("expected page ID 1, got %d", id1)
	}

	id2, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage failed: %v", err)
	}
	if id2 != 2 {
		t.Errorf("expected page ID 2, got %d", id2)
	}

	if p.PagesAllocated() != 3 {
		t.Errorf("expected pages allocated 3, got %d", p.PagesAllocated())
	}
}

func TestGetPage(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.db")

	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	id, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage failed: %v", err)
	}

	data := p.GetPage(id)
	if data == nil {
		t.Fatal("GetPage returned nil")
	}
	if len(data) != PageSize {
		t.Errorf("expected page size %d, got %d", PageSize, len(data))
	}

	copy(data[0:5], []byte("hello"))

	if err := p.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
}

func TestFreeListReuse(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.db")

	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	id, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage failed: %v", err)
	}
	allocatedBefore := p.PagesAllocated()

	if err := p.FreePage(id); err != nil {
		t.Fatalf("FreePage failed: %v", err)
	}
	if p.NextFreePage() != id {
		t.Errorf("expected free list head %d, got %d", id, p.NextFreePage())
	}

	reused, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage failed: %v", err)
	}
	if reused != id {
		t.Errorf("expected AllocatePage to reuse freed page %d, got %d", id, reused)
	}
	if p.PagesAllocated() != allocatedBefore {
		t.Errorf("expected pages allocated to stay at %d after reuse, got %d", allocatedBefore, p.PagesAllocated())
	}
	if p.NextFreePage() != 0 {
		t.Errorf("expected free list to be empty after reuse, got head %d", p.NextFreePage())
	}
}

func TestPersistence(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.db")

	p1, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	id, _ := p1.AllocatePage()
	data := p1.GetPage(id)
	copy(data[0:5], []byte("hello"))
	p1.SetRootPage(id)
	p1.SetDepth(2)
	if err := p1.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	p1.Close()

	p2, err := Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer p2.Close()

	if p2.RootPage() != id {
		t.Errorf("root page should be %d, got %d", id, p2.RootPage())
	}
	if p2.Depth() != 2 {
		t.Errorf("depth should persist as 2, got %d", p2.Depth())
	}

	data2 := p2.GetPage(id)
	if string(data2[0:5]) != "hello" {
		t.Errorf("data should persist, got %q", string(data2[0:5]))
	}
}

func TestGrowth(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.db")

	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	// Initial size is 1MB = 256 pages; allocate past that to trigger growth.
	for i := 0; i < 300; i++ {
		if _, err := p.AllocatePage(); err != nil {
			t.Fatalf("AllocatePage failed at %d: %v", i, err)
		}
	}

	if p.PagesAllocated() != 301 {
		t.Errorf("expected pages allocated 301, got %d", p.PagesAllocated())
	}
}
