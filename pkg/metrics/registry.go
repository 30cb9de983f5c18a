// Package metrics exposes dittomover metrics to Prometheus.
//
// Metrics are optional. Until InitRegistry is called every constructor in
// this package returns a no-op implementation, so components can record
// unconditionally.
//
// Usage:
//
//	metrics.InitRegistry()
//	m := metrics.NewMoverMetrics()
//	srv := metrics.NewServer(metrics.ServerConfig{Port: 9090})
//	go srv.Start(ctx)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is written once by InitRegistry and read afterwards
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry with the Go runtime and process
// collectors attached. Subsequent calls are ignored.
//
// Thread safety:
// sync.Once makes the registry write visible to every later reader.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
