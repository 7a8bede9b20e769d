// Package metrics exposes the service's prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Rotations counts published session tokens.
	Rotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_rotations_total",
		Help: "Session tokens published, including the initial publish per start.",
	})

	// RotationFailures counts rotation ticks that failed to persist.
	RotationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_rotation_failures_total",
		Help: "Rotation ticks that failed; the loop retries on the next tick.",
	})

	redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_redemptions_total",
		Help: "Redemption attempts by outcome.",
	}, []string{"result"})

	// SweptLectures counts lectures invalidated by the expiry sweeper.
	SweptLectures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_swept_lectures_total",
		Help: "Lectures deactivated by the periodic expiry sweep.",
	})
)

// ObserveRedemption records one redemption outcome ("accepted" or a
// rejection reason).
func ObserveRedemption(result string) {
	if result == "" {
		result = "error"
	}
	redemptions.WithLabelValues(result).Inc()
}
