package perfmon

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/crewlink/pulse/internal/events"
	"github.com/crewlink/pulse/internal/metrics"
)

// Custom metric names accepted by RecordCustomMetric. Unknown names are
// silently ignored for forward compatibility with newer callers.
const (
	MetricVoiceCommand     = "voice_command"
	MetricDatabaseQuery    = "database_query"
	MetricCacheOperation   = "cache_operation"
	MetricWebsocketMessage = "websocket_message"
)

// Error categories accepted by RecordError.
const (
	ErrorVoice    = "voice"
	ErrorDatabase = "database"
	ErrorNetwork  = "network"
	ErrorGeneral  = "general"
)

// Evaluator consumes each freshly collected snapshot. The alert engine
// implements it.
type Evaluator interface {
	Evaluate(*Snapshot)
}

// CollectorOptions tunes the collector.
type CollectorOptions struct {
	Interval     time.Duration
	HistorySize  int
	SampleWindow int
	Metrics      *metrics.Recorder
}

// Collector samples process and OS counters on a fixed interval and packages
// them with the externally-fed subsystem series into immutable snapshots.
// The ingestion methods are safe for concurrent use from any goroutine and
// never block on the timer.
type Collector struct {
	logger   *slog.Logger
	emitter  *events.Emitter
	rec      *metrics.Recorder
	interval time.Duration
	ring     *Ring

	voice     *Series
	database  *Series
	cacheOps  *Series
	websocket *Series

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
	conns    atomic.Int64

	errVoice    atomic.Uint64
	errDatabase atomic.Uint64
	errNetwork  atomic.Uint64
	errGeneral  atomic.Uint64
	errTotal    atomic.Uint64

	// voice errors within the current interval, reset each cycle; rates are
	// windowed while the counters above are cumulative.
	intervalVoiceErrs atomic.Uint64

	evaluators []Evaluator

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewCollector constructs a collector. Call AddEvaluator before Start.
func NewCollector(logger *slog.Logger, opts CollectorOptions) *Collector {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	window := opts.SampleWindow
	return &Collector{
		logger:    logger.With(slog.String("component", "collector")),
		emitter:   events.NewEmitter(),
		rec:       opts.Metrics,
		interval:  interval,
		ring:      NewRing(opts.HistorySize),
		voice:     NewSeries(MetricVoiceCommand, window),
		database:  NewSeries(MetricDatabaseQuery, window),
		cacheOps:  NewSeries(MetricCacheOperation, window),
		websocket: NewSeries(MetricWebsocketMessage, window),
		done:      make(chan struct{}),
	}
}

// Events exposes the collector's emitter for subscribers.
func (c *Collector) Events() *events.Emitter { return c.emitter }

// History exposes the snapshot ring for the health scorer and diagnostics.
func (c *Collector) History() *Ring { return c.ring }

// AddEvaluator registers a snapshot consumer. Not safe to call after Start.
func (c *Collector) AddEvaluator(e Evaluator) {
	if e != nil {
		c.evaluators = append(c.evaluators, e)
	}
}

// RecordCustomMetric feeds one latency sample into the named subsystem
// series. Unknown names are ignored.
func (c *Collector) RecordCustomMetric(name string, durationMs float64) {
	switch name {
	case MetricVoiceCommand:
		c.voice.Record(durationMs)
	case MetricDatabaseQuery:
		c.database.Record(durationMs)
	case MetricCacheOperation:
		c.cacheOps.Record(durationMs)
	case MetricWebsocketMessage:
		c.websocket.Record(durationMs)
	}
}

// RecordError increments the category counter and the total counter. Unknown
// categories fold into general.
func (c *Collector) RecordError(category string) {
	switch category {
	case ErrorVoice:
		c.errVoice.Add(1)
		c.intervalVoiceErrs.Add(1)
	case ErrorDatabase:
		c.errDatabase.Add(1)
	case ErrorNetwork:
		c.errNetwork.Add(1)
	default:
		c.errGeneral.Add(1)
	}
	c.errTotal.Add(1)
}

// RecordNetworkActivity accumulates traffic counters and adjusts the
// connection gauge by delta.
func (c *Collector) RecordNetworkActivity(bytesIn, bytesOut int64, connDelta int) {
	c.bytesIn.Add(bytesIn)
	c.bytesOut.Add(bytesOut)
	c.conns.Add(int64(connDelta))
}

// UpdateWebSocketConnections sets the connection gauge to an absolute count.
func (c *Collector) UpdateWebSocketConnections(count int) {
	c.conns.Store(int64(count))
}

// Start launches the collection timer. The loop survives failed cycles.
func (c *Collector) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		go func() {
			defer close(c.done)
			ticker := time.NewTicker(c.interval)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					c.runCycle()
				}
			}
		}()
	})
}

// Stop halts the timer and waits for the loop to exit, then detaches
// subscribers. In-flight ingestion calls complete normally.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
		c.emitter.Close()
	})
}

// runCycle performs one collection pass. Any panic from an evaluator is
// contained so the timer keeps running.
func (c *Collector) runCycle() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("collection cycle failed", slog.Any("panic", r))
		}
	}()

	start := time.Now()
	snap := c.collect(start.UTC())
	c.ring.Append(snap)
	for _, ev := range c.evaluators {
		ev.Evaluate(snap)
	}
	c.rec.ObserveCycle(time.Since(start))
	c.emitter.Emit(events.MetricsCollected, snap)
}

// collect samples every source into one snapshot. Individual probe failures
// are logged and leave their section zeroed; they never abort the cycle.
func (c *Collector) collect(now time.Time) *Snapshot {
	snap := &Snapshot{Timestamp: now}

	if percents, err := cpu.Percent(0, false); err != nil {
		c.logger.Debug("cpu sample failed", slog.Any("error", err))
	} else if len(percents) > 0 {
		snap.CPU.UsagePercent = percents[0]
	}
	if cores, err := cpu.Counts(true); err == nil {
		snap.CPU.Cores = cores
	} else {
		snap.CPU.Cores = runtime.NumCPU()
	}
	if avg, err := load.Avg(); err != nil {
		c.logger.Debug("load sample failed", slog.Any("error", err))
	} else {
		snap.CPU.Load1 = avg.Load1
		snap.CPU.Load5 = avg.Load5
		snap.CPU.Load15 = avg.Load15
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		c.logger.Debug("memory sample failed", slog.Any("error", err))
	} else {
		snap.Memory.UsedBytes = vm.Used
		snap.Memory.TotalBytes = vm.Total
		snap.Memory.UsedPercent = vm.UsedPercent
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.Memory.HeapAllocBytes = ms.HeapAlloc
	snap.Memory.HeapSysBytes = ms.HeapSys

	snap.Network = NetworkMetrics{
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		ActiveConnections: c.conns.Load(),
	}

	voiceAgg := c.voice.Aggregate()
	snap.Voice.SubsystemMetrics = voiceAgg
	snap.Voice.CommandsPerMinute = voiceAgg.IntervalSamples
	if errs := c.intervalVoiceErrs.Swap(0); voiceAgg.IntervalSamples > 0 {
		snap.Voice.ErrorRatePercent = float64(errs) / float64(voiceAgg.IntervalSamples) * 100
	}
	snap.Database = c.database.Aggregate()
	snap.Cache = c.cacheOps.Aggregate()
	snap.WebSocket = c.websocket.Aggregate()

	snap.Errors = ErrorCounters{
		Voice:    c.errVoice.Load(),
		Database: c.errDatabase.Load(),
		Network:  c.errNetwork.Load(),
		General:  c.errGeneral.Load(),
		Total:    c.errTotal.Load(),
	}
	return snap
}
