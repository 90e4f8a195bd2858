package config

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Version, Commit, BuildDate string
)

// NewBuildInfo registers the build information gauge with reg and sets it to 1.
func NewBuildInfo(reg prometheus.Registerer) prometheus.Gauge {
	g := promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "plughost_build_info",
		Help: "PlugHost build information",
		ConstLabels: map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_date": BuildDate,
		},
	})
	g.Set(1)
	return g
}
