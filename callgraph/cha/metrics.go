package cha

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callgraph",
		Subsystem: "cha",
		Name:      "builds_total",
		Help:      "Closure builds by outcome.",
	}, []string{"status"})

	nodesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callgraph",
		Subsystem: "cha",
		Name:      "nodes_created_total",
		Help:      "Call graph nodes created by closure builds.",
	})

	edgesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callgraph",
		Subsystem: "cha",
		Name:      "edges_total",
		Help:      "Call graph edges produced by closure builds.",
	})

	clinitEdges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callgraph",
		Subsystem: "cha",
		Name:      "clinit_edges_total",
		Help:      "Static initializers linked from the fake world-clinit node.",
	})

	worklistPops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callgraph",
		Subsystem: "cha",
		Name:      "worklist_pops_total",
		Help:      "Nodes taken from the closure worklist.",
	})

	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "callgraph",
		Subsystem: "cha",
		Name:      "build_duration_seconds",
		Help:      "Wall time of closure builds.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)
