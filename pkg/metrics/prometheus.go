package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder maps Recorder calls onto Prometheus collectors.
//
// Collectors are created on first use of a metric name, with the label names
// taken from that first call. Later calls with a different tag key set are
// dropped rather than panicking.
type PrometheusRecorder struct {
	namespace string
	reg       prometheus.Registerer
	buckets   []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// PrometheusOption configures a PrometheusRecorder.
type PrometheusOption func(*PrometheusRecorder)

// WithBuckets overrides the histogram buckets (default prometheus.DefBuckets).
func WithBuckets(buckets []float64) PrometheusOption {
	return func(p *PrometheusRecorder) { p.buckets = buckets }
}

// NewPrometheusRecorder registers collectors on reg under namespace.
// A nil reg means prometheus.DefaultRegisterer.
func NewPrometheusRecorder(namespace string, reg prometheus.Registerer, opts ...PrometheusOption) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PrometheusRecorder{
		namespace:  namespace,
		reg:        reg,
		buckets:    prometheus.DefBuckets,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add increments the counter "<namespace>_<name>_total".
func (p *PrometheusRecorder) Add(name string, value float64, tags map[string]string) {
	vec := p.counter(name, tags)
	if vec == nil {
		return
	}
	c, err := vec.GetMetricWith(prometheus.Labels(tags))
	if err != nil {
		return
	}
	c.Add(value)
}

// Observe records value in the histogram "<namespace>_<name>".
func (p *PrometheusRecorder) Observe(name string, value float64, tags map[string]string) {
	vec := p.histogram(name, tags)
	if vec == nil {
		return
	}
	o, err := vec.GetMetricWith(prometheus.Labels(tags))
	if err != nil {
		return
	}
	o.Observe(value)
}

func (p *PrometheusRecorder) counter(name string, tags map[string]string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if vec, ok := p.counters[name]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      sanitize(name) + "_total",
		Help:      "Total of " + name + ".",
	}, labelNames(tags))
	if err := p.reg.Register(vec); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil
		}
		vec = existing
	}
	p.counters[name] = vec
	return vec
}

func (p *PrometheusRecorder) histogram(name string, tags map[string]string) *prometheus.HistogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if vec, ok := p.histograms[name]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Name:      sanitize(name),
		Help:      "Distribution of " + name + ".",
		Buckets:   p.buckets,
	}, labelNames(tags))
	if err := p.reg.Register(vec); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil
		}
		vec = existing
	}
	p.histograms[name] = vec
	return vec
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
