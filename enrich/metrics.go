package enrich

import "github.com/prometheus/client_golang/prometheus"

// Lookup outcomes.
const (
	outcomeFresh    = "fresh"
	outcomeStale    = "stale"
	outcomeLegacy   = "legacy"
	outcomeFallback = "fallback"
)

// Metrics counts enrichment outcomes.
type Metrics struct {
	LookupsTotal     *prometheus.CounterVec
	StoreErrorsTotal prometheus.Counter
	InvalidURLsTotal prometheus.Counter
}

// NewMetrics constructs the enrichment collectors and registers them on reg
// when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	lookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrich_lookups_total",
			Help: "Enriched items by how their data was resolved.",
		},
		[]string{"outcome"},
	)
	storeErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "enrich_store_errors_total",
			Help: "Metadata store lookups that failed and degraded a batch to fallback records.",
		},
	)
	invalid := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "enrich_invalid_urls_total",
			Help: "Input URLs dropped because they could not be parsed.",
		},
	)
	if reg != nil {
		reg.MustRegister(lookups, storeErrors, invalid)
	}
	return &Metrics{
		LookupsTotal:     lookups,
		StoreErrorsTotal: storeErrors,
		InvalidURLsTotal: invalid,
	}
}

func (m *Metrics) incLookup(outcome string) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) incStoreError() {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.Inc()
}

func (m *Metrics) incInvalid() {
	if m == nil {
		return
	}
	m.InvalidURLsTotal.Inc()
}
