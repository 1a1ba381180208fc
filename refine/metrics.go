package refine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callgraph",
		Subsystem: "refine",
		Name:      "passes_total",
		Help:      "Refinement passes started.",
	})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callgraph",
		Subsystem: "refine",
		Name:      "outcomes_total",
		Help:      "Refinement loops by result.",
	}, []string{"result"})
)
