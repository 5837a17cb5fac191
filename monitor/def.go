// Package monitor exposes process and pipeline metrics on a dedicated
// prometheus endpoint.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	PID process.Process

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	// HTTPTotal counts API requests handled by the gin server.
	HTTPTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of API requests processed",
	})
	// CyclesTotal counts completed enqueue/submit/fetch cycles.
	CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inference_cycles_total",
		Help: "Total number of pipeline inference cycles",
	})
	// CycleFailures counts cycles that yielded zero results due to an error.
	CycleFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inference_cycle_failures_total",
		Help: "Total number of failed pipeline inference cycles",
	})
	// ResultsTotal counts decoded results across all inference units.
	ResultsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inference_results_total",
		Help: "Total number of decoded inference results",
	})
	// CycleLatency observes wall time per pipeline cycle in seconds.
	CycleLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "inference_cycle_seconds",
		Help:    "Wall time per pipeline cycle in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
)

var srv *http.Server

func prom(port int) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(memUsage, cpuUsage, HTTPTotal,
		CyclesTotal, CycleFailures, ResultsTotal, CycleLatency)
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: nil,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("Prometheus server ListenAndServe error: %v\n", err)
		}
	}()
}

func CheckProcessInfo() {
	MemInfo, _ := PID.MemoryInfo()
	var MemMB = MemInfo.RSS / 1024 / 1024
	CPUPercent, _ := PID.CPUPercent()
	CPUPercentFloat := math.Round(CPUPercent*100) / 100
	memUsage.Set(float64(MemMB))
	cpuUsage.Set(CPUPercentFloat)
}

func GotPID() {
	pid := os.Getpid()
	PID.Pid = int32(pid)
}

// StartMon serves metrics on port and samples process stats until the
// context is cancelled.
func StartMon(port int, ctx context.Context) {
	PID = process.Process{}
	GotPID()
	go prom(port)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Printf("Prometheus server Shutdown error: %v\n", err)
	}
}
