// Package benchmark - measures post-processing throughput and latency over
// synthetic detection workloads.
package benchmark

import (
	"sort"
	"time"
)

// PerformanceMetrics captures one scenario run.
type PerformanceMetrics struct {
	Scenario         Scenario      `json:"scenario"`
	Timestamp        time.Time     `json:"timestamp"`
	Iterations       int           `json:"iterations"`
	TotalDuration    time.Duration `json:"total_duration"`
	DecodeDuration   time.Duration `json:"decode_duration"`
	SuppressDuration time.Duration `json:"suppress_duration"`
	LatencyMean      time.Duration `json:"latency_mean"`
	LatencyP50       time.Duration `json:"latency_p50"`
	LatencyP95       time.Duration `json:"latency_p95"`
	LatencyP99       time.Duration `json:"latency_p99"`
	ImagesPerSecond  float64       `json:"images_per_second"`
	DetectionCount   int           `json:"detection_count"`
	MemoryStats      MemoryMetrics `json:"memory_stats"`
	CPUStats         CPUMetrics    `json:"cpu_stats"`
}

// MemoryMetrics captures memory usage statistics.
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// CPUMetrics captures CPU availability during the run.
type CPUMetrics struct {
	NumCPU int `json:"num_cpu"`
}

// latencyPercentile reads the q-quantile from per-iteration samples.
func latencyPercentile(samples []time.Duration, q float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
