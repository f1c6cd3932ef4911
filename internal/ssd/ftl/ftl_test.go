package ftl

import "testing"

func TestLookupUnmapped(t *testing.T) {
	tbl := New()
	if _, ok := tbl.Lookup(7); ok {
		t.Fatalf("expected lpn 7 to be unmapped")
	}
}

func TestSetAndLookup(t *testing.T) {
	tbl := New()
	tbl.Set(3, 100, 0x0f)
	e, ok := tbl.Lookup(3)
	if !ok {
		t.Fatalf("expected lpn 3 to be mapped")
	}
	if e.PN != 100 || e.State != 0x0f {
		t.Fatalf("got %+v, want {PN:100 State:0x0f}", e)
	}
}

func TestMergeStateOrsBits(t *testing.T) {
	tbl := New()
	tbl.Set(3, 100, 0x01)
	tbl.MergeState(3, 0x02)
	e, _ := tbl.Lookup(3)
	if e.State != 0x03 {
		t.Fatalf("got state %#x, want 0x03", e.State)
	}
	if e.PN != 100 {
		t.Fatalf("merge should not change PN, got %d", e.PN)
	}
}

func TestRedirectReplacesMapping(t *testing.T) {
	tbl := New()
	tbl.Set(3, 100, 0x01)
	tbl.Redirect(3, 200, 0x03)
	e, ok := tbl.Lookup(3)
	if !ok || e.PN != 200 || e.State != 0x03 {
		t.Fatalf("got %+v, ok=%v, want {PN:200 State:0x03}, true", e, ok)
	}
}

func TestClearUnmaps(t *testing.T) {
	tbl := New()
	tbl.Set(3, 100, 0x01)
	tbl.Clear(3)
	if _, ok := tbl.Lookup(3); ok {
		t.Fatalf("expected lpn 3 to be unmapped after Clear")
	}
}

func TestLenCountsOnlyMapped(t *testing.T) {
	tbl := New()
	tbl.Set(1, 10, 0x01)
	tbl.Set(2, 20, 0x01)
	tbl.Set(3, 30, 0) // zero state never counts as mapped
	if got := tbl.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	tbl.Clear(1)
	if got := tbl.Len(); got != 1 {
		t.Fatalf("Len() after Clear = %d, want 1", got)
	}
}
