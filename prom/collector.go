// Package prom exposes the engine counters as a Prometheus collector.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tessera-id/authcore"
	"github.com/tessera-id/authcore/internal/metrics"
)

// Collector adapts the engine's counter snapshot to the Prometheus
// scrape model. Register it once per engine:
//
//	prometheus.MustRegister(prom.NewCollector(engine))
type Collector struct {
	engine *authcore.Engine
	descs  [metrics.MetricIDCount]*prometheus.Desc
}

func NewCollector(engine *authcore.Engine) *Collector {
	c := &Collector{engine: engine}
	for id := metrics.MetricID(0); id < metrics.MetricIDCount; id++ {
		c.descs[id] = prometheus.NewDesc(
			prometheus.BuildFQName("authcore", "", id.Name()+"_total"),
			"authcore "+id.Name()+" counter",
			nil, nil,
		)
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.engine.MetricsSnapshot()
	for id, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(
			d,
			prometheus.CounterValue,
			float64(snapshot.Counters[metrics.MetricID(id)]),
		)
	}
}
