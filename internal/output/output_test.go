package output

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rcornwell/ssdsim/internal/ssd/metrics"
)

func TestOpenWritesFiles(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(old)

	w, err := Open("20260730_000000", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.IO(metrics.IORecord{Arrive: 0, LSN: 0, Size: 4, Op: 0, Begin: 0, End: 10, Latency: 10})
	w.GC(metrics.GCRecord{Channel: 0, Chip: 0, Die: 0, Plane: 0, FreePercent: 50, Moved: 2, Start: 0, End: 10, Duration: 10})
	w.Stat10(metrics.Snapshot{CurrentTime: 100, FreeBlockPercent: 50})
	w.Summary("requests=%d", 1)

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, name := range []string{"ex.out", "statistic10.dat", "statistic2.dat", "io.dat", "io_write.dat", "io_read.dat", "gc.dat"} {
		path := filepath.Join("raw", "20260730_000000", name)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to exist: %v", path, err)
		}
	}
}
