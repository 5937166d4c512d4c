package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mirador_remediation"

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (validation, tool or dependency issues).
	OutcomeError = "error"
)

var (
	eventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Events accepted into the event store, partitioned by ingest source.",
		},
		[]string{"source"},
	)

	incidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_total",
			Help:      "Incidents produced by correlation, partitioned by scenario and severity.",
		},
		[]string{"scenario", "severity"},
	)

	actionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_transitions_total",
			Help:      "Approval state changes of remediation actions, partitioned by target state.",
		},
		[]string{"status"},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Executor calls that passed validation, partitioned by kind, mode and outcome.",
		},
		[]string{"kind", "dry_run", "outcome"},
	)

	executionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_seconds",
			Help:      "Executor call latency in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)

	validationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Executor requests rejected by the validator.",
		},
		[]string{"kind"},
	)

	safetyChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_checks_total",
			Help:      "Safe executor checks, partitioned by whether the approval token promoted the call.",
		},
		[]string{"approved"},
	)

	lokiPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loki_polls_total",
			Help:      "Log source polls, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_seconds",
			Help:      "Root cause analysis latency in seconds.",
			Buckets:   []float64{0.05, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"analyzer", "outcome"},
	)
)

// Register attaches mirador-remediation collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsIngestedTotal,
		incidentsTotal,
		actionTransitionsTotal,
		executionsTotal,
		executionDurationSeconds,
		validationFailuresTotal,
		safetyChecksTotal,
		lokiPollsTotal,
		analysisDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest counts n events accepted from source.
func ObserveIngest(source string, n int) {
	if n <= 0 {
		return
	}
	eventsIngestedTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveIncident counts one correlated incident.
func ObserveIncident(scenario, severity string) {
	incidentsTotal.WithLabelValues(scenario, severity).Inc()
}

// ObserveTransition counts an action entering status.
func ObserveTransition(status string) {
	actionTransitionsTotal.WithLabelValues(status).Inc()
}

// ObserveExecution records one executor call.
func ObserveExecution(kind string, dryRun, success bool, duration time.Duration) {
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeError
	}
	executionsTotal.WithLabelValues(kind, strconv.FormatBool(dryRun), outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	executionDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveValidationFailure counts a rejected executor request.
func ObserveValidationFailure(kind string) {
	validationFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveSafetyCheck counts a safe executor decision.
func ObserveSafetyCheck(approved bool) {
	safetyChecksTotal.WithLabelValues(strconv.FormatBool(approved)).Inc()
}

// ObservePoll counts one log source poll.
func ObservePoll(outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	lokiPollsTotal.WithLabelValues(label).Inc()
}

// ObserveAnalysis records a root cause analysis duration.
func ObserveAnalysis(analyzer, outcome string, duration time.Duration) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.WithLabelValues(analyzer, label).Observe(duration.Seconds())
}
