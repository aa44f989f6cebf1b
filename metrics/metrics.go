package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const _namespace = "gamenet"

// Collector series are created on first use. A series is identified by its
// group, name and the set of dimension keys.
type registry struct {
	mu         sync.Mutex
	reg        *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var _registry = newRegistry()

func newRegistry() *registry {
	return &registry{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying Prometheus registry.
func Registry() *prometheus.Registry {
	return _registry.reg
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(_registry.reg, promhttp.HandlerOpts{})
}

// IncrCounterWithGroup adds v to a counter.
func IncrCounterWithGroup(group, name string, v Value) {
	IncrCounterWithDimGroup(group, name, v, nil)
}

// IncrCounterWithDimGroup adds v to a counter labelled by dim. Negative
// values are ignored since counters only go up.
func IncrCounterWithDimGroup(group, name string, v Value, dim Dimension) {
	if v < 0 {
		return
	}
	keys, values := splitDim(dim)
	_registry.counter(group, name, keys).WithLabelValues(values...).Add(float64(v))
}

// UpdateGaugeWithGroup sets a gauge.
func UpdateGaugeWithGroup(group, name string, v Value) {
	UpdateGaugeWithDimGroup(group, name, v, nil)
}

// UpdateGaugeWithDimGroup sets a gauge labelled by dim.
func UpdateGaugeWithDimGroup(group, name string, v Value, dim Dimension) {
	keys, values := splitDim(dim)
	_registry.gauge(group, name, keys).WithLabelValues(values...).Set(float64(v))
}

// ObserveHistogramWithGroup records one sample.
func ObserveHistogramWithGroup(group, name string, v Value) {
	ObserveHistogramWithDimGroup(group, name, v, nil)
}

// ObserveHistogramWithDimGroup records one sample labelled by dim.
func ObserveHistogramWithDimGroup(group, name string, v Value, dim Dimension) {
	keys, values := splitDim(dim)
	_registry.histogram(group, name, keys).WithLabelValues(values...).Observe(float64(v))
}

func splitDim(dim Dimension) (keys, values []string) {
	if len(dim) == 0 {
		return nil, nil
	}
	keys = make([]string, 0, len(dim))
	for k := range dim {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values = make([]string, len(keys))
	for i, k := range keys {
		values[i] = dim[k]
	}
	return keys, values
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func seriesKey(group, name string, keys []string) string {
	return group + "\x00" + name + "\x00" + strings.Join(keys, ",")
}

// register keeps the collector usable even when a clashing series with
// other label keys was registered first; it is then simply not exported.
func (r *registry) register(c prometheus.Collector) prometheus.Collector {
	if err := r.reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}

func (r *registry) counter(group, name string, keys []string) *prometheus.CounterVec {
	key := seriesKey(group, name, keys)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: _namespace,
		Subsystem: sanitize(group),
		Name:      sanitize(name),
		Help:      group + " " + name,
	}, keys)
	if existing, ok := r.register(c).(*prometheus.CounterVec); ok {
		c = existing
	}
	r.counters[key] = c
	return c
}

func (r *registry) gauge(group, name string, keys []string) *prometheus.GaugeVec {
	key := seriesKey(group, name, keys)
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[key]; ok {
		return g
	}
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: _namespace,
		Subsystem: sanitize(group),
		Name:      sanitize(name),
		Help:      group + " " + name,
	}, keys)
	if existing, ok := r.register(g).(*prometheus.GaugeVec); ok {
		g = existing
	}
	r.gauges[key] = g
	return g
}

func (r *registry) histogram(group, name string, keys []string) *prometheus.HistogramVec {
	key := seriesKey(group, name, keys)
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[key]; ok {
		return h
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: _namespace,
		Subsystem: sanitize(group),
		Name:      sanitize(name),
		Help:      group + " " + name,
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, keys)
	if existing, ok := r.register(h).(*prometheus.HistogramVec); ok {
		h = existing
	}
	r.histograms[key] = h
	return h
}
