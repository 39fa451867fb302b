package obs

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Label is a key/value pair attached to measurements.
type Label struct {
	Key   string
	Value string
}

// Meter is a very small interface for emitting counters/histograms.
// Implementations may no-op or bridge to a metrics system.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter is a Meter that discards all measurements.
type NopMeter struct{}

func (NopMeter) Counter(name string, value float64, labels ...Label)   {}
func (NopMeter) Histogram(name string, value float64, labels ...Label) {}

// PromMeter bridges Meter to Prometheus. Vectors are created on first use
// of a metric name; the label keys seen on that first use fix the vector's
// label set, later observations with a different key set are dropped.
type PromMeter struct {
	reg       prometheus.Registerer
	namespace string
	logger    *zap.Logger

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	histos   map[string]*prometheus.HistogramVec
	keys     map[string][]string
}

// NewPromMeter returns a meter registering its collectors on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPromMeter(reg prometheus.Registerer, namespace string, logger *zap.Logger) *PromMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PromMeter{
		reg:       reg,
		namespace: namespace,
		logger:    OrNop(logger).With(zap.String("component", "metrics")),
		counters:  make(map[string]*prometheus.CounterVec),
		histos:    make(map[string]*prometheus.HistogramVec),
		keys:      make(map[string][]string),
	}
}

func (m *PromMeter) Counter(name string, value float64, labels ...Label) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.counters[name]
	if !ok {
		keys := labelKeys(labels)
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      name,
		}, keys)
		if err := m.reg.Register(vec); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					vec = existing
				}
			} else {
				m.logger.Warn("register counter failed", zap.String("name", name), zap.Error(err))
				return
			}
		}
		m.counters[name] = vec
		m.keys[name] = keys
	}
	c, err := vec.GetMetricWith(m.values(name, labels))
	if err != nil {
		return
	}
	c.Add(value)
}

func (m *PromMeter) Histogram(name string, value float64, labels ...Label) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.histos[name]
	if !ok {
		keys := labelKeys(labels)
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      name,
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, keys)
		if err := m.reg.Register(vec); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
					vec = existing
				}
			} else {
				m.logger.Warn("register histogram failed", zap.String("name", name), zap.Error(err))
				return
			}
		}
		m.histos[name] = vec
		m.keys[name] = keys
	}
	o, err := vec.GetMetricWith(m.values(name, labels))
	if err != nil {
		return
	}
	o.Observe(value)
}

func (m *PromMeter) values(name string, labels []Label) prometheus.Labels {
	out := prometheus.Labels{}
	for _, k := range m.keys[name] {
		out[k] = ""
	}
	for _, l := range labels {
		out[l.Key] = l.Value
	}
	return out
}

func labelKeys(labels []Label) []string {
	keys := make([]string, 0, len(labels))
	for _, l := range labels {
		keys = append(keys, l.Key)
	}
	sort.Strings(keys)
	return keys
}

// OrNopMeter returns m, or NopMeter when m is nil.
func OrNopMeter(m Meter) Meter {
	if m == nil {
		return NopMeter{}
	}
	return m
}
