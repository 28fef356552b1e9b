package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/gjest/gjest/types"
)

const (
	MetricsNamespace = "gjest"
)

var (
	Debug         bool = true
	validStatuses      = []types.UnitStatus{
		types.StatusPassed,
		types.StatusFailed,
		types.StatusSkipped,
		types.StatusErrored,
		types.StatusTodo,
	}
	nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	unitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "units_total",
		Help:      "Count of executed test units",
	}, []string{
		"run_id",
		"unit",
		"status",
	})

	unitDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "unit_duration_seconds",
		Help:      "Duration of individual test units",
	}, []string{
		"run_id",
		"unit",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of run cycles",
	}, []string{
		"run_id",
		"trigger",
		"result",
	})

	runUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_units_total",
		Help:      "Total number of units in a run cycle",
	}, []string{
		"run_id",
		"trigger",
	})

	runUnitsPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_units_passed",
		Help:      "Number of passed units in a run cycle",
	}, []string{
		"run_id",
		"trigger",
	})

	runUnitsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_units_failed",
		Help:      "Number of failed units in a run cycle",
	}, []string{
		"run_id",
		"trigger",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of run cycles",
	}, []string{
		"run_id",
		"trigger",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		zap.S().Debugw("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordUnit(runID string, unit string, status types.UnitStatus, duration time.Duration) {
	if !isValidStatus(status) {
		zap.S().Errorw("RecordUnit - invalid status", "status", status)
		return
	}
	if Debug {
		zap.S().Debugw("metric inc",
			"m", "units_total",
			"run_id", runID,
			"unit", unit,
			"status", status)
	}
	unitsTotal.WithLabelValues(runID, unit, string(status)).Inc()
	unitDuration.WithLabelValues(runID, unit).Set(duration.Seconds())
}

func RecordRun(
	runID string,
	trigger string,
	result string,
	total int,
	passed int,
	failed int,
	duration time.Duration,
) {
	runResults.WithLabelValues(runID, trigger, result).Set(1)
	runUnitsTotal.WithLabelValues(runID, trigger).Add(float64(total))
	runUnitsPassed.WithLabelValues(runID, trigger).Add(float64(passed))
	runUnitsFailed.WithLabelValues(runID, trigger).Add(float64(failed))
	runDuration.WithLabelValues(runID, trigger).Set(duration.Seconds())
}

func isValidStatus(status types.UnitStatus) bool {
	return slices.Contains(validStatuses, status)
}
