// internal/metrics/metrics.go

// Package metrics holds the process-wide operational counters. Purely
// observational; nothing here is authoritative state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	LobbyJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ringfall_lobby_joins_total",
		Help: "Players joined a lobby.",
	})
	LobbyLeaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ringfall_lobby_leaves_total",
		Help: "Players left or were kicked from a lobby.",
	})
	WagersLocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ringfall_wagers_locked_total",
		Help: "Wagers verified and locked into escrow.",
	})
	RefundsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ringfall_refunds_queued_total",
		Help: "Refund jobs enqueued.",
	})
	PayoutsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ringfall_payouts_queued_total",
		Help: "Payout jobs enqueued.",
	})
	MatchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ringfall_matches_started_total",
		Help: "Matches started from lobby countdowns.",
	})
	MatchesFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ringfall_matches_finished_total",
		Help: "Matches settled (completed or cancelled).",
	})
	Eliminations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ringfall_eliminations_total",
		Help: "Players eliminated from live matches.",
	})
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ringfall_jobs_completed_total",
		Help: "Payment jobs completed.",
	})
	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ringfall_jobs_failed_total",
		Help: "Payment jobs that reached terminal failure.",
	})
)

// Snapshot returns the current counter values for the JSON status endpoint.
func Snapshot() map[string]float64 {
	return map[string]float64{
		"lobby_joins":      value(LobbyJoins),
		"lobby_leaves":     value(LobbyLeaves),
		"wagers_locked":    value(WagersLocked),
		"refunds_queued":   value(RefundsQueued),
		"payouts_queued":   value(PayoutsQueued),
		"matches_started":  value(MatchesStarted),
		"matches_finished": value(MatchesFinished),
		"eliminations":     value(Eliminations),
		"jobs_completed":   value(JobsCompleted),
		"jobs_failed":      value(JobsFailed),
	}
}

func value(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
