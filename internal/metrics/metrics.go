// Package metrics exposes Prometheus instrumentation for the Supervisor
// Engine: counters for starts/stops/restarts and state transitions, a
// histogram of observed start-grace durations, and a gauge of current
// state per replica, mirroring the replica state machine's vocabulary.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	replicaStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmaster",
			Subsystem: "replica",
			Name:      "starts_total",
			Help:      "Number of replica start attempts.",
		}, []string{"program"},
	)
	replicaRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmaster",
			Subsystem: "replica",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts after an unexpected or always-restart exit.",
		}, []string{"program"},
	)
	replicaStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmaster",
			Subsystem: "replica",
			Name:      "stops_total",
			Help:      "Number of stop operations (graceful or escalated to kill).",
		}, []string{"program"},
	)
	startGraceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskmaster",
			Subsystem: "replica",
			Name:      "start_grace_duration_seconds",
			Help:      "Observed time spent in the Starting state before Running or Fatal.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"program"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmaster",
			Subsystem: "replica",
			Name:      "state_transitions_total",
			Help:      "Number of replica state transitions.",
		}, []string{"program", "from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskmaster",
			Subsystem: "replica",
			Name:      "current_state",
			Help:      "1 for the replica's current state, 0 for every other state.",
		}, []string{"program", "index", "state"},
	)
)

// Register registers all collectors with r. Safe to call more than once;
// an AlreadyRegisteredError is swallowed so re-registering against the
// default registry in tests is harmless.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{replicaStarts, replicaRestarts, replicaStops, startGraceDuration, stateTransitions, currentState}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer's metrics over HTTP. The engine
// does not start an HTTP server itself (see DESIGN.md); an embedder may
// mount this handler on its own mux.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(program string) {
	if regOK.Load() {
		replicaStarts.WithLabelValues(program).Inc()
	}
}

func IncRestart(program string) {
	if regOK.Load() {
		replicaRestarts.WithLabelValues(program).Inc()
	}
}

func IncStop(program string) {
	if regOK.Load() {
		replicaStops.WithLabelValues(program).Inc()
	}
}

func ObserveStartGraceDuration(program string, seconds float64) {
	if regOK.Load() {
		startGraceDuration.WithLabelValues(program).Observe(seconds)
	}
}

func RecordStateTransition(program, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(program, from, to).Inc()
	}
}

func SetCurrentState(program, index, state string, active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1.0
		}
		currentState.WithLabelValues(program, index, state).Set(v)
	}
}
