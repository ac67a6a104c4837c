package imaging

import (
	"os"
	"sync/atomic"
	"time"
)

// ProgressFunc receives monotonically non-decreasing byte counts.
type ProgressFunc func(bytes int64)

// defaultPollInterval balances UI responsiveness against stat overhead.
const defaultPollInterval = 500 * time.Millisecond

// Monitor watches a growing output file and synthesizes progress events for
// tools that report nothing usable on their own. It polls the file size on a
// fixed interval and emits only when the size grows, so a percentage display
// never moves backward.
type Monitor struct {
	path       string
	interval   time.Duration
	onProgress ProgressFunc

	// lastSize is shared between the poll goroutine and Stop's final
	// emission, which may run concurrently if the join wait times out.
	lastSize atomic.Int64
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a monitor for the output file at path. A nil onProgress
// makes the monitor a no-op.
func NewMonitor(path string, onProgress ProgressFunc) *Monitor {
	return &Monitor{
		path:       path,
		interval:   defaultPollInterval,
		onProgress: onProgress,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins polling in a background goroutine.
func (m *Monitor) Start() {
	go m.loop()
}

func (m *Monitor) loop() {
	defer close(m.done)
	if m.onProgress == nil {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	info, err := os.Stat(m.path)
	if err != nil {
		// The tool may not have created the file yet; the creation race
		// is expected, not exceptional.
		return
	}
	if size := info.Size(); size > m.lastSize.Load() {
		m.lastSize.Store(size)
		m.onProgress(size)
	}
}

// Stop halts polling, waits briefly for the goroutine to exit, and emits one
// final event with the last-known file size. Some tools buffer writes and
// only flush near the end; the final stat catches that tail. No events fire
// after Stop returns.
func (m *Monitor) Stop() {
	close(m.stop)
	select {
	case <-m.done:
	case <-time.After(time.Second):
	}

	if m.onProgress == nil {
		return
	}
	final := m.lastSize.Load()
	if info, err := os.Stat(m.path); err == nil && info.Size() > final {
		final = info.Size()
	}
	if final > 0 {
		m.onProgress(final)
	}
}
