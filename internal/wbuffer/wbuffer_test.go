package wbuffer

import "testing"

func TestLookupMiss(t *testing.T) {
	b := New(2)
	if _, ok := b.Lookup(1); ok {
		t.Fatalf("expected miss on empty buffer")
	}
}

func TestWriteThenLookupHits(t *testing.T) {
	b := New(2)
	b.Write(1, 0x0F)
	mask, ok := b.Lookup(1)
	if !ok || mask != 0x0F {
		t.Fatalf("expected hit with mask 0x0F, got %v/%v", mask, ok)
	}
}

func TestWriteMergesMask(t *testing.T) {
	b := New(2)
	b.Write(1, 0x01)
	b.Write(1, 0x02)
	mask, _ := b.Lookup(1)
	if mask != 0x03 {
		t.Fatalf("expected merged mask 0x03, got %#x", mask)
	}
}

func TestCapacityEvictsLRU(t *testing.T) {
	b := New(2)
	b.Write(1, 0x01)
	b.Write(2, 0x01)
	b.Write(3, 0x01) // evicts 1, the least recently used.

	if _, ok := b.Lookup(1); ok {
		t.Fatalf("expected lpn 1 evicted")
	}
	if _, ok := b.Lookup(2); !ok {
		t.Fatalf("expected lpn 2 still cached")
	}
	if b.Len() != 2 {
		t.Fatalf("expected len 2, got %d", b.Len())
	}
}

func TestEvict(t *testing.T) {
	b := New(2)
	b.Write(1, 0x01)
	b.Evict(1)
	if _, ok := b.Lookup(1); ok {
		t.Fatalf("expected lpn 1 evicted")
	}
}
