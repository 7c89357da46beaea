// Package metrics provides Prometheus metrics for MediaGate: access
// decisions, challenge lifecycle, premium grants, and the points economy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Access decisions ───────────────────────────────────────────────────────

// AccessDecisions counts gate evaluations by outcome reason.
var AccessDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mediagate",
	Name:      "access_decisions_total",
	Help:      "Total access decisions by reason.",
}, []string{"reason"})

// StoreFailures counts evaluations denied because the store was unreachable.
var StoreFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mediagate",
	Name:      "store_failures_total",
	Help:      "Total operations failed closed on store errors.",
})

// ─── Verification ───────────────────────────────────────────────────────────

// ChallengesIssued counts verification challenges issued.
var ChallengesIssued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mediagate",
	Name:      "challenges_issued_total",
	Help:      "Total verification challenges issued.",
})

// ChallengesRedeemed counts redemption attempts by outcome.
var ChallengesRedeemed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mediagate",
	Name:      "challenges_redeemed_total",
	Help:      "Total redemption attempts by outcome (ok, invalid).",
}, []string{"outcome"})

// ShortlinkFailures counts redirect-service calls that fell back to the
// unwrapped link.
var ShortlinkFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mediagate",
	Name:      "shortlink_failures_total",
	Help:      "Total shortlink wrap failures (degraded to unwrapped links).",
})

// ─── Premium & points ───────────────────────────────────────────────────────

// PremiumGrants counts premium mutations by source (grant, points, revoke).
var PremiumGrants = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mediagate",
	Name:      "premium_grants_total",
	Help:      "Total premium grants and revokes by source.",
}, []string{"source"})

// PointsAwarded counts referral points credited.
var PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mediagate",
	Name:      "points_awarded_total",
	Help:      "Total referral points awarded.",
})
