package imaging

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// progressRecorder collects emissions under a lock so the monitor goroutine
// and the test can both touch them.
type progressRecorder struct {
	mu    sync.Mutex
	sizes []int64
}

func (r *progressRecorder) record(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, n)
}

func (r *progressRecorder) snapshot() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.sizes))
	copy(out, r.sizes)
	return out
}

func TestMonitorEmitsMonotonicGrowth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.img")

	rec := &progressRecorder{}
	m := NewMonitor(path, rec.record)
	m.interval = 5 * time.Millisecond
	m.Start()

	// Grow the file in steps while the monitor polls.
	for _, size := range []int{100, 100, 250, 400} {
		if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	m.Stop()

	sizes := rec.snapshot()
	if len(sizes) == 0 {
		t.Fatal("expected at least one emission")
	}
	for i := 1; i < len(sizes); i++ {
		if sizes[i] < sizes[i-1] {
			t.Fatalf("emission went backward: %v", sizes)
		}
	}
	if final := sizes[len(sizes)-1]; final != 400 {
		t.Fatalf("final emission should be the last observed size, got %d", final)
	}
}

func TestMonitorIgnoresMissingFile(t *testing.T) {
	dir := t.TempDir()
	rec := &progressRecorder{}
	m := NewMonitor(filepath.Join(dir, "never-created.img"), rec.record)
	m.interval = 5 * time.Millisecond
	m.Start()
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	if sizes := rec.snapshot(); len(sizes) != 0 {
		t.Fatalf("no file means no emissions, got %v", sizes)
	}
}

func TestMonitorNoEventsAfterStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.img")
	if err := os.WriteFile(path, make([]byte, 50), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &progressRecorder{}
	m := NewMonitor(path, rec.record)
	m.interval = 5 * time.Millisecond
	m.Start()
	time.Sleep(25 * time.Millisecond)
	m.Stop()

	countAtStop := len(rec.snapshot())
	if countAtStop == 0 {
		t.Fatal("expected emissions before Stop")
	}

	// Grow the file after Stop; nothing may fire.
	if err := os.WriteFile(path, make([]byte, 5000), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if got := len(rec.snapshot()); got != countAtStop {
		t.Fatalf("monitor emitted after Stop: %d -> %d events", countAtStop, got)
	}
}

func TestMonitorStopEmitsFinalSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.img")
	rec := &progressRecorder{}
	m := NewMonitor(path, rec.record)
	m.interval = time.Hour // never ticks; only the final stat can see the file
	m.Start()

	if err := os.WriteFile(path, make([]byte, 123), 0o644); err != nil {
		t.Fatal(err)
	}
	m.Stop()

	sizes := rec.snapshot()
	if len(sizes) != 1 || sizes[0] != 123 {
		t.Fatalf("Stop should emit one final event with the flushed size, got %v", sizes)
	}
}

func TestMonitorNilCallbackIsNoop(t *testing.T) {
	m := NewMonitor("irrelevant", nil)
	m.interval = time.Millisecond
	m.Start()
	time.Sleep(10 * time.Millisecond)
	m.Stop() // must not panic
}
