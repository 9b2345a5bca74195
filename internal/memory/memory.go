package memory

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"family-gallery/internal/logging"
	"family-gallery/internal/metrics"
)

// Config holds the thresholds used by Monitor.
type Config struct {
	// LimitBytes is the reference limit; 0 uses GOMEMLIMIT when set.
	LimitBytes int64
	// ResumeRatio is the usage below which a paused monitor resumes.
	ResumeRatio float64
	// PauseRatio is the usage at or above which consumers are paused.
	PauseRatio    float64
	CheckInterval time.Duration
}

// DefaultConfig returns the thresholds used by the queue consumer.
func DefaultConfig() Config {
	return Config{
		ResumeRatio:   0.7,
		PauseRatio:    0.85,
		CheckInterval: 5 * time.Second,
	}
}

// Monitor samples heap usage and pauses queue consumption while it sits
// above the pause threshold. With no limit configured it never pauses.
type Monitor struct {
	config  Config
	limit   int64
	readMem func() uint64

	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
	stop    chan struct{}
	once    sync.Once
}

// NewMonitor creates a memory monitor
func NewMonitor(config Config) *Monitor {
	limit := config.LimitBytes
	if limit == 0 {
		if l := debug.SetMemoryLimit(-1); l > 0 && l < 1<<62 {
			limit = l
		}
	}
	if limit == 0 {
		logging.Debug("Memory monitor: no memory limit configured, backpressure disabled")
	}

	return &Monitor{
		config: config,
		limit:  limit,
		readMem: func() uint64 {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms.Alloc
		},
		resumed: make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// Start begins sampling in the background.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.config.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.check()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop ends sampling and releases any waiters.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Monitor) check() {
	usage := float64(m.readMem()) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case usage >= m.config.PauseRatio && !m.paused:
		logging.Warn("Memory critical (%.1f%% of limit), pausing processing", usage*100)
		m.paused = true
		metrics.MemoryPaused.Set(1)
		go runtime.GC()
	case usage < m.config.ResumeRatio && m.paused:
		logging.Info("Memory recovered (%.1f%% of limit), resuming processing", usage*100)
		m.paused = false
		metrics.MemoryPaused.Set(0)
		close(m.resumed)
		m.resumed = make(chan struct{})
	}
}

// Paused reports whether consumers should currently hold off.
func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Wait blocks while the monitor is paused. It returns ctx.Err() if the
// context ends first and nil once it is safe to proceed or the monitor stops.
func (m *Monitor) Wait(ctx context.Context) error {
	m.mu.Lock()
	if !m.paused {
		m.mu.Unlock()
		return nil
	}
	resumed := m.resumed
	m.mu.Unlock()

	select {
	case <-resumed:
		return nil
	case <-m.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
