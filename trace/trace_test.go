package trace

import (
	"io"
	"strings"
	"testing"
)

func TestNextParsesRecords(t *testing.T) {
	r := New(strings.NewReader("0 0 0 4 0\n1000 0 0 4 1\n"), nil)

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Arrival != 0 || rec.Size != 4 || rec.Op != OpWrite {
		t.Fatalf("unexpected first record: %+v", rec)
	}

	rec, err = r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Arrival != 1000 || rec.Op != OpRead {
		t.Fatalf("unexpected second record: %+v", rec)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestNextWarnsOnAllZeroLine(t *testing.T) {
	var warned bool
	r := New(strings.NewReader("0 0 0 0 0\n"), func(line int, text string) { warned = true })
	if _, err := r.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !warned {
		t.Fatalf("expected all-zero line to warn")
	}
}

func TestNextRejectsNegativeField(t *testing.T) {
	r := New(strings.NewReader("-1 0 0 4 0\n"), nil)
	if _, err := r.Next(); err == nil {
		t.Fatalf("expected error for negative arrival_ns")
	}
}

func TestNextRejectsWrongFieldCount(t *testing.T) {
	r := New(strings.NewReader("0 0 0 4\n"), nil)
	if _, err := r.Next(); err == nil {
		t.Fatalf("expected error for wrong field count")
	}
}
