// control/collector.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Prometheus export of the metrics registry.

package control

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a MetricsRegistry to Prometheus. Counters become
// "<namespace>_<name>_total" counters; numeric gauges become gauges.
// Non-numeric gauges are skipped.
type Collector struct {
	namespace string
	reg       *MetricsRegistry
}

// NewCollector wraps reg. The collector is unchecked: the metric set grows
// as counters are first used.
func NewCollector(namespace string, reg *MetricsRegistry) *Collector {
	return &Collector{namespace: namespace, reg: reg}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	for name, v := range c.reg.counters {
		desc := prometheus.NewDesc(c.metricName(name)+"_total", "Counter "+name+".", nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v.Load()))
	}
	for name, v := range c.reg.gauges {
		f, ok := toFloat(v)
		if !ok {
			continue
		}
		desc := prometheus.NewDesc(c.metricName(name), "Gauge "+name+".", nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, f)
	}
}

func (c *Collector) metricName(name string) string {
	name = strings.NewReplacer(".", "_", "-", "_").Replace(name)
	if c.namespace == "" {
		return name
	}
	return c.namespace + "_" + name
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
