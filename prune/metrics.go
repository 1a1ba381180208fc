package prune

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	keptNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "callgraph",
		Subsystem: "prune",
		Name:      "kept_nodes",
		Help:      "Nodes kept by the most recent pruning.",
	})

	viewRemovals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callgraph",
		Subsystem: "prune",
		Name:      "view_removals_total",
		Help:      "Structural removals made through pruned views.",
	}, []string{"kind"})
)
