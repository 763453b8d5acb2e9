package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "econtest"

var (
	// CatalogCacheLookups counts cached question and choice list reads by result (hit, miss).
	CatalogCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_cache_lookups_total",
		Help:      "Cached question and choice list lookups.",
	}, []string{"list", "result"})

	WizardSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wizard_step_submissions_total",
		Help:      "Question step submissions by outcome.",
	}, []string{"outcome"})

	Finalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wizard_finalizations_total",
		Help:      "Contestant finalize attempts by outcome.",
	}, []string{"outcome"})

	EventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_handled_total",
		Help:      "In-process event handler runs by event and outcome (ok, error, panic).",
	}, []string{"event", "outcome"})

	Contestants = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "contestants_created_total",
		Help:      "Contestants persisted.",
	})
)
