package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"playzone-consent/wizard"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)

var (
	WizardStepTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_step_transitions_total",
			Help: "Wizard step changes",
		},
		[]string{"from", "to"},
	)

	WizardSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_submissions_total",
			Help: "Wizard submissions by outcome",
		},
		[]string{"outcome"},
	)

	WizardPrefillFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wizard_prefill_failures_total",
			Help: "Customer lookups that failed and fell back to an empty form",
		},
	)

	ConsentsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "consents_stored_total",
			Help: "Consents written to the database",
		},
	)

	LookupCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consent_lookup_cache_total",
			Help: "Consent lookups by cache result",
		},
		[]string{"result"},
	)
)

func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		WizardStepTransitions,
		WizardSubmissions,
		WizardPrefillFailures,
		ConsentsStored,
		LookupCacheHits,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// WizardObserver records wizard events on the package counters.
type WizardObserver struct{}

var _ wizard.Observer = WizardObserver{}

func (WizardObserver) StepChanged(from, to wizard.Step) {
	WizardStepTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (WizardObserver) PrefillFailed() {
	WizardPrefillFailures.Inc()
}

func (WizardObserver) SubmissionFinished(outcome string) {
	WizardSubmissions.WithLabelValues(outcome).Inc()
}
