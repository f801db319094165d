package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qualisys/qauth"
	"github.com/qualisys/qauth/metrics/export/internaldefs"
)

// Source is what the collector reads on each scrape.
type Source interface {
	MetricsSnapshot() qauth.MetricsSnapshot
	AuditDropped() uint64
}

type counterDesc struct {
	id   qauth.MetricID
	desc *prometheus.Desc
}

// Exporter is a prometheus.Collector over an engine snapshot.
type Exporter struct {
	source     Source
	counters   []counterDesc
	histograms []counterDesc
	dropped    *prometheus.Desc
	bounds     []float64
}

var _ prometheus.Collector = (*Exporter)(nil)

// New returns a collector reading engine. A nil engine yields a collector
// that emits nothing.
func New(engine *qauth.Engine) *Exporter {
	if engine == nil {
		return NewFromSource(nil)
	}
	return NewFromSource(engine)
}

// NewFromSource returns a collector reading src.
func NewFromSource(src Source) *Exporter {
	e := &Exporter{
		source:     src,
		counters:   make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]counterDesc, 0, len(internaldefs.HistogramDefs)),
		dropped: prometheus.NewDesc(
			internaldefs.AuditDroppedName,
			"Audit events that never reached the sink.",
			nil, nil,
		),
		bounds: internaldefs.UpperBounds(),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, counterDesc{
			id:   def.ID,
			desc: prometheus.NewDesc(def.Name, def.Help, nil, nil),
		})
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, counterDesc{
			id:   def.ID,
			desc: prometheus.NewDesc(def.Name, def.Help, nil, nil),
		})
	}
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	for _, h := range e.histograms {
		ch <- h.desc
	}
	ch <- e.dropped
}

// Collect implements prometheus.Collector. Counters absent from the
// snapshot, as when metrics are disabled, are skipped.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e.source == nil {
		return
	}
	snap := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		v, ok := snap.Counters[c.id]
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v))
	}
	for _, h := range e.histograms {
		raw, ok := snap.Histograms[h.id]
		if !ok {
			continue
		}
		cum := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(e.bounds))
		for i, bound := range e.bounds {
			buckets[bound] = cum[i]
		}
		ch <- prometheus.MustNewConstHistogram(
			h.desc,
			cum[len(cum)-1],
			snap.HistogramSums[h.id].Seconds(),
			buckets,
		)
	}
	ch <- prometheus.MustNewConstMetric(e.dropped, prometheus.CounterValue, float64(e.source.AuditDropped()))
}

// Handler serves the collector from a private registry.
func (e *Exporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
