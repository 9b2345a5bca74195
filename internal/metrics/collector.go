package metrics

import (
	"context"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"family-gallery/internal/logging"
)

// StatsProvider supplies the registry counts exported as gauges.
type StatsProvider interface {
	GetStats(ctx context.Context) (Stats, error)
}

// Stats holds the current registry statistics
type Stats struct {
	// Items counts media items keyed by kind then status.
	Items          map[string]map[string]int
	TotalBytes     int64
	Favorites      int
	ActiveSessions int
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	dbPath        string
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector. dbPath may be empty, in
// which case database file sizes are not reported.
func NewCollector(provider StatsProvider, dbPath string, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		dbPath:        dbPath,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	c.collectMemory()
	c.collectDBSize()

	if c.statsProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := c.statsProvider.GetStats(ctx)
	if err != nil {
		logging.Warn("Metrics collection failed: %v", err)
		return
	}

	for kind, byStatus := range stats.Items {
		for status, n := range byStatus {
			MediaItemsTotal.WithLabelValues(kind, status).Set(float64(n))
		}
	}
	MediaBytesTotal.Set(float64(stats.TotalBytes))
	FavoritesTotal.Set(float64(stats.Favorites))
	ActiveSessions.Set(float64(stats.ActiveSessions))

	logging.Debug("Metrics collected: bytes=%d, favorites=%d, sessions=%d",
		stats.TotalBytes, stats.Favorites, stats.ActiveSessions)
}

func (c *Collector) collectMemory() {
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < 1<<62 {
		GoMemLimit.Set(float64(limit))
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		MemoryUsageRatio.Set(float64(ms.Alloc) / float64(limit))
	}
}

func (c *Collector) collectDBSize() {
	if c.dbPath == "" {
		return
	}
	for label, path := range map[string]string{"main": c.dbPath, "wal": c.dbPath + "-wal"} {
		if info, err := os.Stat(path); err == nil {
			DBSizeBytes.WithLabelValues(label).Set(float64(info.Size()))
		}
	}
}
