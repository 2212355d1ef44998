// Package metrics renders service counters, gauges and histograms in the
// Prometheus text format served on each binary's /metrics route.
//
// Collectors are created at package level by the code that owns them
// (messaging deliveries, indexer outcomes, outbox backlog, load generator
// traffic) and registered on Default from an init func.
package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Opts struct {
	Name string
	Help string
}

type collector interface {
	name() string
	writePrometheus(*strings.Builder)
}

// Registry is a named set of collectors. Names are unique per registry.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]collector
}

func NewRegistry() *Registry {
	return &Registry{collectors: map[string]collector{}}
}

// MustRegister adds collectors and panics on a duplicate name, which only
// happens when two packages claim the same series at start-up.
func (r *Registry) MustRegister(items ...collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		name := item.name()
		if _, exists := r.collectors[name]; exists {
			panic("metrics collector already registered: " + name)
		}
		r.collectors[name] = item
	}
}

// Handler writes every collector, sorted by name.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		r.mu.RLock()
		names := make([]string, 0, len(r.collectors))
		for name := range r.collectors {
			names = append(names, name)
		}
		sort.Strings(names)
		snapshot := make([]collector, 0, len(names))
		for _, name := range names {
			snapshot = append(snapshot, r.collectors[name])
		}
		r.mu.RUnlock()

		var sb strings.Builder
		for _, c := range snapshot {
			c.writePrometheus(&sb)
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(sb.String()))
	})
}

// Default is the registry mounted by httpserver.Mount.
var Default = NewRegistry()

var processStart = time.Now()

func DefaultHandler() http.Handler {
	return Default.Handler()
}

// Gauge is a single value that goes up and down, e.g. active load generator
// sellers.
type Gauge struct {
	opts  Opts
	mu    sync.Mutex
	value float64
}

func NewGauge(opts Opts) *Gauge {
	return &Gauge{opts: opts}
}

func (g *Gauge) name() string { return g.opts.Name }

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

func (g *Gauge) Inc() { g.Add(1) }
func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) writePrometheus(sb *strings.Builder) {
	g.mu.Lock()
	v := g.value
	g.mu.Unlock()
	writeMetricHead(sb, g.opts.Name, "gauge", g.opts.Help)
	writeSample(sb, g.opts.Name, "", floatToString(v))
}

// GaugeFunc reads its value at scrape time, e.g. the outbox backlog query.
type GaugeFunc struct {
	opts Opts
	fn   func() float64
}

func NewGaugeFunc(opts Opts, fn func() float64) *GaugeFunc {
	return &GaugeFunc{opts: opts, fn: fn}
}

func (g *GaugeFunc) name() string { return g.opts.Name }

func (g *GaugeFunc) writePrometheus(sb *strings.Builder) {
	v := 0.0
	if g.fn != nil {
		v = g.fn()
	}
	writeMetricHead(sb, g.opts.Name, "gauge", g.opts.Help)
	writeSample(sb, g.opts.Name, "", floatToString(v))
}

// labelSet holds the label names of a vector and turns value tuples into
// series keys and back into rendered label pairs.
type labelSet []string

const keySeparator = "\xff"

// key returns the series key for values, or false when the arity is wrong.
func (l labelSet) key(values []string) (string, bool) {
	if len(values) != len(l) {
		return "", false
	}
	return strings.Join(values, keySeparator), true
}

func (l labelSet) render(key string) string {
	if len(l) == 0 {
		return ""
	}
	values := strings.Split(key, keySeparator)
	pairs := make([]string, len(l))
	for i, name := range l {
		pairs[i] = name + `="` + escapeLabelValue(values[i]) + `"`
	}
	return strings.Join(pairs, ",")
}

func newLabelSet(names []string) labelSet {
	copied := make(labelSet, len(names))
	copy(copied, names)
	return copied
}

// CounterVec counts events per label tuple, e.g. deliveries per subscription
// and outcome. Values with the wrong number of labels are dropped.
type CounterVec struct {
	opts   Opts
	labels labelSet

	mu     sync.Mutex
	values map[string]float64
}

func NewCounterVec(opts Opts, labelNames []string) *CounterVec {
	return &CounterVec{opts: opts, labels: newLabelSet(labelNames), values: map[string]float64{}}
}

func (c *CounterVec) name() string { return c.opts.Name }

func (c *CounterVec) WithLabelValues(values ...string) *Counter {
	return &Counter{parent: c, labelValues: values}
}

func (c *CounterVec) add(labelValues []string, delta float64) {
	key, ok := c.labels.key(labelValues)
	if !ok {
		return
	}
	c.mu.Lock()
	c.values[key] += delta
	c.mu.Unlock()
}

func (c *CounterVec) writePrometheus(sb *strings.Builder) {
	c.mu.Lock()
	snapshot := make(map[string]float64, len(c.values))
	for key, v := range c.values {
		snapshot[key] = v
	}
	c.mu.Unlock()

	writeMetricHead(sb, c.opts.Name, "counter", c.opts.Help)
	for _, key := range sortedKeys(snapshot) {
		writeSample(sb, c.opts.Name, c.labels.render(key), floatToString(snapshot[key]))
	}
}

type Counter struct {
	parent      *CounterVec
	labelValues []string
}

// Add ignores negative deltas; counters only go up.
func (c *Counter) Add(v float64) {
	if c == nil || c.parent == nil || v < 0 {
		return
	}
	c.parent.add(c.labelValues, v)
}

func (c *Counter) Inc() { c.Add(1) }

// DefBuckets are latency buckets in seconds.
var DefBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// HistogramVec tracks distributions per label tuple: indexer handle time and
// write-to-searchable lag.
type HistogramVec struct {
	opts    Opts
	labels  labelSet
	buckets []float64

	mu     sync.Mutex
	series map[string]*histogramSeries
}

type histogramSeries struct {
	counts []uint64 // cumulative, one per bucket
	count  uint64
	sum    float64
}

// NewHistogramVec sorts buckets; an empty list means DefBuckets.
func NewHistogramVec(opts Opts, labelNames []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = DefBuckets
	}
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)
	return &HistogramVec{
		opts:    opts,
		labels:  newLabelSet(labelNames),
		buckets: sorted,
		series:  map[string]*histogramSeries{},
	}
}

func (h *HistogramVec) name() string { return h.opts.Name }

func (h *HistogramVec) WithLabelValues(values ...string) *Histogram {
	return &Histogram{parent: h, labelValues: values}
}

func (h *HistogramVec) observe(labelValues []string, v float64) {
	key, ok := h.labels.key(labelValues)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.series[key]
	if !ok {
		s = &histogramSeries{counts: make([]uint64, len(h.buckets))}
		h.series[key] = s
	}
	for i, upper := range h.buckets {
		if v <= upper {
			s.counts[i]++
		}
	}
	s.count++
	s.sum += v
}

func (h *HistogramVec) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, h.opts.Name, "histogram", h.opts.Help)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range sortedKeys(h.series) {
		s := h.series[key]
		labels := h.labels.render(key)
		for i, upper := range h.buckets {
			writeSample(sb, h.opts.Name+"_bucket", joinLabels(labels, `le="`+floatToString(upper)+`"`), strconv.FormatUint(s.counts[i], 10))
		}
		writeSample(sb, h.opts.Name+"_bucket", joinLabels(labels, `le="+Inf"`), strconv.FormatUint(s.count, 10))
		writeSample(sb, h.opts.Name+"_sum", labels, floatToString(s.sum))
		writeSample(sb, h.opts.Name+"_count", labels, strconv.FormatUint(s.count, 10))
	}
}

type Histogram struct {
	parent      *HistogramVec
	labelValues []string
}

func (h *Histogram) Observe(v float64) {
	if h == nil || h.parent == nil {
		return
	}
	h.parent.observe(h.labelValues, v)
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func joinLabels(labels, extra string) string {
	if labels == "" {
		return extra
	}
	return labels + "," + extra
}

func writeMetricHead(sb *strings.Builder, name, metricType, help string) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, metricType)
}

// writeSample writes one exposition line; labels are already rendered pairs.
func writeSample(sb *strings.Builder, name, labels, value string) {
	sb.WriteString(name)
	if labels != "" {
		sb.WriteString("{" + labels + "}")
	}
	sb.WriteString(" " + value + "\n")
}

func floatToString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escapeLabelValue(v string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`).Replace(v)
}

func init() {
	Default.MustRegister(
		NewGaugeFunc(Opts{Name: "process_uptime_seconds", Help: "Seconds since process start."}, func() float64 {
			return time.Since(processStart).Seconds()
		}),
		NewGaugeFunc(Opts{Name: "go_goroutines", Help: "Number of goroutines."}, func() float64 {
			return float64(runtime.NumGoroutine())
		}),
		NewGaugeFunc(Opts{Name: "go_memstats_heap_inuse_bytes", Help: "Heap in-use bytes."}, func() float64 {
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			return float64(mem.HeapInuse)
		}),
	)
}
