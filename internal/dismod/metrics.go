package dismod

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for metrics.
const (
	LabelCompleted      = "completed"
	LabelIterationLimit = "iteration_limit"
	LabelOutOfMemory    = "out_of_memory"
	LabelFailed         = "failed"
)

var (
	// commandsTotal counts engine commands by name and outcome.
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cascade",
		Subsystem: "engine",
		Name:      "commands_total",
		Help:      "Engine commands run, by command and outcome",
	}, []string{"command", "outcome"})

	// commandDuration measures engine wall time by command.
	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cascade",
		Subsystem: "engine",
		Name:      "command_duration_seconds",
		Help:      "Engine command wall time in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"command"})
)

// Observe records one finished command.
func Observe(cmd Command, outcome string, d time.Duration) {
	commandsTotal.WithLabelValues(cmd.Name(), outcome).Inc()
	commandDuration.WithLabelValues(cmd.Name()).Observe(d.Seconds())
}
