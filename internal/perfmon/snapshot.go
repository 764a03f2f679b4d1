// Package perfmon implements the performance-monitoring engine: a periodic
// sampler of process and OS counters, a threshold-driven alert state machine,
// and an aggregate health scorer. Snapshots are immutable once published.
package perfmon

import "time"

// CPUMetrics captures processor utilization and load averages.
type CPUMetrics struct {
	UsagePercent float64 `json:"usagePercent"`
	Cores        int     `json:"cores"`
	Load1        float64 `json:"load1"`
	Load5        float64 `json:"load5"`
	Load15       float64 `json:"load15"`
}

// MemoryMetrics captures system memory plus the Go heap.
type MemoryMetrics struct {
	UsedBytes      uint64  `json:"usedBytes"`
	TotalBytes     uint64  `json:"totalBytes"`
	UsedPercent    float64 `json:"usedPercent"`
	HeapAllocBytes uint64  `json:"heapAllocBytes"`
	HeapSysBytes   uint64  `json:"heapSysBytes"`
}

// NetworkMetrics carries the externally-fed traffic counters and the
// websocket connection gauge.
type NetworkMetrics struct {
	BytesIn           int64 `json:"bytesIn"`
	BytesOut          int64 `json:"bytesOut"`
	ActiveConnections int64 `json:"activeConnections"`
}

// SubsystemMetrics aggregates one rolling latency series.
type SubsystemMetrics struct {
	AvgMs           float64 `json:"avgMs"`
	P95Ms           float64 `json:"p95Ms"`
	WindowSamples   int     `json:"windowSamples"`
	IntervalSamples int     `json:"intervalSamples"`
}

// VoiceMetrics extends the voice-command series with windowed rates. Rates
// are computed against the samples of the current interval, never against
// the cumulative lifetime counters.
type VoiceMetrics struct {
	SubsystemMetrics
	CommandsPerMinute int     `json:"commandsPerMinute"`
	ErrorRatePercent  float64 `json:"errorRatePercent"`
}

// ErrorCounters are cumulative since process start.
type ErrorCounters struct {
	Voice    uint64 `json:"voice"`
	Database uint64 `json:"database"`
	Network  uint64 `json:"network"`
	General  uint64 `json:"general"`
	Total    uint64 `json:"total"`
}

// Snapshot is one immutable, timestamped aggregate produced per collection
// cycle and stored in the history ring.
type Snapshot struct {
	Timestamp time.Time        `json:"timestamp"`
	CPU       CPUMetrics       `json:"cpu"`
	Memory    MemoryMetrics    `json:"memory"`
	Network   NetworkMetrics   `json:"network"`
	Voice     VoiceMetrics     `json:"voice"`
	Database  SubsystemMetrics `json:"database"`
	Cache     SubsystemMetrics `json:"cache"`
	WebSocket SubsystemMetrics `json:"websocket"`
	Errors    ErrorCounters    `json:"errors"`
}

// Metric maps a monitored metric type to its headline value in the snapshot.
// response_time observes the voice-command average since that is the
// user-facing processing path; connection observes the websocket gauge.
func (s *Snapshot) Metric(name string) float64 {
	if s == nil {
		return 0
	}
	switch name {
	case "cpu":
		return s.CPU.UsagePercent
	case "memory":
		return s.Memory.UsedPercent
	case "response_time":
		return s.Voice.AvgMs
	case "error_rate":
		return s.Voice.ErrorRatePercent
	case "connection":
		return float64(s.Network.ActiveConnections)
	default:
		return 0
	}
}
