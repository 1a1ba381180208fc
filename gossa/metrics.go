package gossa

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sitesNarrowed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callgraph",
		Subsystem: "refine",
		Name:      "sites_narrowed_total",
		Help:      "Dispatching call sites narrowed by variable type analysis.",
	})

	sitesDeclined = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callgraph",
		Subsystem: "refine",
		Name:      "sites_declined_total",
		Help:      "Call sites the field policy declined to refine.",
	})
)
