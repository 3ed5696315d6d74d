// Package metrics exposes Prometheus collectors for the wager engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wager_sessions_started_total",
			Help: "Sessions created, by game",
		},
		[]string{"game"},
	)
	SessionsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wager_sessions_settled_total",
			Help: "Sessions settled, by game and outcome",
		},
		[]string{"game", "outcome"},
	)
	ActiveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wager_sessions_active",
			Help: "Live sessions, by game",
		},
		[]string{"game"},
	)
	InvitationsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wager_invitations_expired_total",
			Help: "Invitations removed by the expiry sweep",
		},
	)
	LedgerCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wager_ledger_commits_total",
			Help: "Ledger commits, by result",
		},
		[]string{"result"},
	)
	UpdatesHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wager_updates_handled_total",
			Help: "Telegram updates passed to handlers, by kind and result",
		},
		[]string{"kind", "result"},
	)
	NotifyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wager_notify_failures_total",
			Help: "Outbound notifications that failed, by event",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(SessionsStarted)
	prometheus.MustRegister(SessionsSettled)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(InvitationsExpired)
	prometheus.MustRegister(LedgerCommits)
	prometheus.MustRegister(UpdatesHandled)
	prometheus.MustRegister(NotifyFailures)
}
