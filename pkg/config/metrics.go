package config

import (
	"github.com/marmos91/dittomover/pkg/metrics"
)

// MetricsResult holds the metrics components built from the server section.
type MetricsResult struct {
	// Server exposes /metrics; nil when metrics are disabled
	Server *metrics.Server

	// Mover records scan, queue and transfer metrics; a no-op when disabled
	Mover metrics.MoverMetrics
}

// InitializeMetrics initializes the Prometheus registry and the HTTP server
// when server.metrics.enabled is set. Otherwise the result has no server and
// no-op mover metrics, and nothing is registered.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{Mover: metrics.NoopMoverMetrics{}}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{Port: cfg.Server.Metrics.Port}),
		Mover:  metrics.NewMoverMetrics(),
	}
}
