package prometheus

import "github.com/prometheus/client_golang/prometheus"

const namespace = "linkswift"

// Metrics holds the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	linksCreated  prometheus.Counter
	resolutions   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	clicksCounted *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		linksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_created_total",
			Help:      "Short links successfully created.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolution attempts by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Link cache lookups by result.",
		}, []string{"result"}),
		clicksCounted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_recorded_total",
			Help:      "Click analytics updates by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.linksCreated, m.resolutions, m.cacheLookups, m.clicksCounted)
	}
	return m
}

func (m *Metrics) LinkCreated() {
	if m == nil {
		return
	}
	m.linksCreated.Inc()
}

func (m *Metrics) Resolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Click(result string) {
	if m == nil {
		return
	}
	m.clicksCounted.WithLabelValues(result).Inc()
}
