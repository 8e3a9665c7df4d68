package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_searches_total",
		Help: "Total reconciliation searches by result",
	}, []string{"result"})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_operations_total",
		Help: "Total follow/unfollow operations by direction and result (success, failure, not_applied)",
	}, []string{"direction", "result"})

	wavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_waves_total",
		Help: "Total bulk waves dispatched by direction",
	}, []string{"direction"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_active",
		Help: "Number of sessions held by the registry",
	})
)
