package booking

import (
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/apperr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduling_operations_total",
		Help: "Scheduling engine operations by operation and outcome kind.",
	}, []string{"operation", "outcome"})

	slotConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduling_slot_conflicts_total",
		Help: "Bookings that lost the race for a time slot.",
	})

	alternativesOffered = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduling_alternatives_offered",
		Help:    "Alternative veterinarians suggested per slot conflict.",
		Buckets: []float64{0, 1, 2, 3, 5, 8},
	})
)

func observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
	if e, ok := apperr.As(err); ok && e.Kind == apperr.KindSlotUnavailable {
		slotConflictsTotal.Inc()
		alternativesOffered.Observe(float64(len(e.Alternatives)))
	}
}
