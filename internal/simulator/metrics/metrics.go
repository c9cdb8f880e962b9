package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsPrefix = "simulator_"

var participantsSpawned = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "participants_spawned_total",
		Help: "Number of participants spawned, by strategy",
	},
	[]string{"strategy"},
)

var participantsActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: MetricsPrefix + "participants_active",
		Help: "Participants currently in a non-terminal stage",
	},
)

var participantFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "participant_failures_total",
		Help: "Participants that ended in the failed stage, by the last stage they reached",
	},
	[]string{"last_stage"},
)

var commandsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "commands_total",
		Help: "Commands processed by participant actors, by kind and result",
	},
	[]string{"kind", "result"},
)

var commandDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    MetricsPrefix + "command_duration_seconds",
		Help:    "Time taken to carry out participant commands",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	},
	[]string{"kind"},
)

var credentialLogins = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "credential_logins_total",
		Help: "Guest login flows performed against the conferencing service, by result",
	},
	[]string{"result"},
)

var eventsDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "events_dropped_total",
		Help: "Events dropped because a subscriber fell behind, by kind",
	},
	[]string{"kind"},
)

func RecordSpawned(strategy string) {
	participantsSpawned.WithLabelValues(strategy).Inc()
	participantsActive.Inc()
}

func RecordTerminated() {
	participantsActive.Dec()
}

func RecordFailure(lastStage string) {
	participantFailures.WithLabelValues(lastStage).Inc()
}

func RecordCommand(kind string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	commandsProcessed.WithLabelValues(kind, result).Inc()
	commandDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func RecordCommandRejected(kind string) {
	commandsProcessed.WithLabelValues(kind, "rejected").Inc()
}

func RecordLogin(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	credentialLogins.WithLabelValues(result).Inc()
}

func RecordEventDropped(kind string) {
	eventsDropped.WithLabelValues(kind).Inc()
}
