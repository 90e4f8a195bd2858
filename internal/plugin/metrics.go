package plugin

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"szuro.net/plughost/pkg/abi"
)

// managerMetrics holds the Prometheus collectors of a Manager.
type managerMetrics struct {
	loaded       prometheus.Gauge
	info         *prometheus.GaugeVec
	loadFailures *prometheus.CounterVec
	executions   *prometheus.CounterVec
	destroyed    prometheus.Counter
}

// newManagerMetrics creates collectors registered with reg. A nil reg
// creates unregistered collectors.
func newManagerMetrics(reg prometheus.Registerer) *managerMetrics {
	factory := promauto.With(reg)
	return &managerMetrics{
		loaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "plughost_plugins_loaded",
			Help: "Number of plugins currently registered",
		}),
		info: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plughost_plugin_info",
			Help: "Information about loaded plugins",
		}, []string{"plugin_name", "plugin_version"}),
		loadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plughost_load_failures_total",
			Help: "Total number of failed plugin loads by reason",
		}, []string{"reason"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plughost_executions_total",
			Help: "Total number of plugin executions",
		}, []string{"plugin_name", "result"}),
		destroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "plughost_plugins_destroyed_total",
			Help: "Total number of registered plugin instances destroyed",
		}),
	}
}

func (m *managerMetrics) registered(md abi.Metadata) {
	m.loaded.Inc()
	m.info.WithLabelValues(md.Name, md.Version).Set(1)
}

func (m *managerMetrics) retired(md abi.Metadata) {
	m.loaded.Dec()
	m.destroyed.Inc()
	m.info.DeleteLabelValues(md.Name, md.Version)
}

func (m *managerMetrics) loadFailed(err error) {
	m.loadFailures.WithLabelValues(failureReason(err)).Inc()
}

func (m *managerMetrics) executed(name string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.executions.WithLabelValues(name, result).Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrLibraryLoad):
		return "library_load"
	case errors.Is(err, ErrSymbol):
		return "symbol"
	case errors.Is(err, ErrLayoutMismatch):
		return "layout"
	case errors.Is(err, ErrIncompatibleAPI):
		return "api_version"
	case errors.Is(err, ErrInit):
		return "init"
	case errors.Is(err, ErrAlreadyLoaded):
		return "duplicate"
	case errors.Is(err, ErrPluginFault):
		return "fault"
	default:
		return "other"
	}
}
