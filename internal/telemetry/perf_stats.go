package telemetry

import (
	"context"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	report_perf_stats_cpu   = "perf_stats.cpu"
	report_perf_stats_gauge = "perf_stats.gauge"
)

var meter = otel.Meter("danawa-tracker/perf_stats")
var cpuGauge, _ = meter.Float64Gauge("cpu_usage")
var memoryGauge, _ = meter.Int64Gauge("allocated_mb")
var goroutineGauge, _ = meter.Int64Gauge("goroutine_count")

const perfStatsInterval = 30 * time.Second

// StatsFunc samples an application level value, such as how many trackers are live.
type StatsFunc func() int64

type appGauge struct {
	name   string
	gauge  metric.Int64Gauge
	sample StatsFunc
}

type perfStats struct {
	tel    API
	gauges []appGauge
}

func newPerfStats(tel API, app map[string]StatsFunc) perfStats {
	s := perfStats{tel: tel}
	for name, fn := range app {
		gauge, err := meter.Int64Gauge(name)
		if err != nil {
			tel.ReportBroken(report_perf_stats_gauge, name, err)
			continue
		}
		s.gauges = append(s.gauges, appGauge{name: name, gauge: gauge, sample: fn})
	}
	slices.SortFunc(s.gauges, func(a, b appGauge) int {
		return strings.Compare(a.name, b.name)
	})
	return s
}

// sampleApp records every application gauge and mirrors it as a count report.
func (s perfStats) sampleApp(ctx context.Context) {
	for _, g := range s.gauges {
		v := g.sample()
		g.gauge.Record(ctx, v)
		s.tel.ReportCount(g.name, v)
	}
}

func (s perfStats) sampleProcess(ctx context.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	memoryGauge.Record(ctx, int64(memStats.Alloc/1_000_000))
	goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))

	cpuUsage, err := cpu.PercentWithContext(ctx, 10*time.Second, false)
	switch {
	case err != nil:
		s.tel.ReportWarning(report_perf_stats_cpu, err)
	case len(cpuUsage) > 0:
		cpuGauge.Record(ctx, cpuUsage[0])
	}
}

// InstrumentPerfStats samples process gauges and the given application gauges every
// 30 seconds until ctx is done.
func InstrumentPerfStats(ctx context.Context, tel API, app map[string]StatsFunc) {
	stats := newPerfStats(tel, app)
	go func() {
		ticker := time.NewTicker(perfStatsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats.sampleApp(ctx)
				stats.sampleProcess(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}
