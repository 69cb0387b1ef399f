package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// MatchesTotal counts formed sessions by partner kind (human|synthetic).
	MatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairgo_matches_total",
			Help: "Total number of sessions formed, by partner kind.",
		},
		[]string{"partner"},
	)
	// ClaimConflictsTotal counts conditional claims that lost the race.
	ClaimConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pairgo_claim_conflicts_total",
			Help: "Total number of candidate claims lost to a concurrent searcher.",
		},
	)
	// SessionsEndedTotal counts session teardowns by reason.
	SessionsEndedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairgo_sessions_ended_total",
			Help: "Total number of sessions torn down, by reason.",
		},
		[]string{"reason"},
	)
	// MessagesTotal counts messages accepted into a local session view.
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairgo_messages_total",
			Help: "Total number of messages delivered, by type.",
		},
		[]string{"type"},
	)
	// SearchingGauge tracks how many local participants are currently searching.
	SearchingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pairgo_searching_participants",
			Help: "Number of participants currently in the searching state.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MatchesTotal,
		ClaimConflictsTotal,
		SessionsEndedTotal,
		MessagesTotal,
		SearchingGauge,
	)
}
