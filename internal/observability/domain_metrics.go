package observability

import "time"

// TurnStarted counts a running turn. The returned func marks it finished.
func TurnStarted() func() {
	turnsInFlight.Inc()
	return turnsInFlight.Dec
}

func ObserveTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

func ObserveStep(step string, failed bool, elapsed time.Duration) {
	status := "ok"
	if failed {
		status = "error"
	}
	stepDurationSeconds.WithLabelValues(step, status).Observe(elapsed.Seconds())
}

func ObserveDryRunBytes(bytes int64) {
	if bytes < 0 {
		bytes = 0
	}
	dryRunBytes.Observe(float64(bytes))
}

func AddTrainingItems(kind string, count int) {
	if count <= 0 {
		return
	}
	trainingItemsTotal.WithLabelValues(kind).Add(float64(count))
}
