package infrastructure

import (
	"runtime"
	"time"
)

// SystemStats is a point in time snapshot of process resources, reported by
// the health endpoint. Exported metrics come from the prometheus runtime
// collectors.
type SystemStats struct {
	GoRoutines    int64
	HeapAlloc     int64
	MemorySystem  int64
	GCCount       uint32
	LastGCPause   time.Duration
	CPUCount      int
	ProcessUptime time.Duration
	Timestamp     time.Time
}

// CollectSystemStats reads the runtime counters; startTime anchors uptime.
func CollectSystemStats(startTime time.Time) *SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &SystemStats{
		GoRoutines:    int64(runtime.NumGoroutine()),
		HeapAlloc:     int64(memStats.HeapAlloc),
		MemorySystem:  int64(memStats.Sys),
		GCCount:       memStats.NumGC,
		LastGCPause:   time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256]),
		CPUCount:      runtime.NumCPU(),
		ProcessUptime: time.Since(startTime),
		Timestamp:     time.Now(),
	}
}

// FormatStats returns a JSON friendly representation of the snapshot
func (stats *SystemStats) FormatStats() map[string]interface{} {
	return map[string]interface{}{
		"runtime": map[string]interface{}{
			"goroutines":       stats.GoRoutines,
			"heap_alloc_mb":    stats.HeapAlloc / 1024 / 1024,
			"memory_system_mb": stats.MemorySystem / 1024 / 1024,
			"gc_count":         stats.GCCount,
			"last_gc_pause_ms": stats.LastGCPause.Milliseconds(),
		},
		"system": map[string]interface{}{
			"cpu_count":      stats.CPUCount,
			"uptime_seconds": int64(stats.ProcessUptime.Seconds()),
		},
		"timestamp": stats.Timestamp.Format(time.RFC3339),
	}
}
