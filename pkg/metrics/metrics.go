package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "expensetracker", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "expensetracker", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	OAuthOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "expensetracker", Subsystem: "oauth", Name: "outcomes_total", Help: "OAuth flow outcomes by provider and result (success or error kind)."},
		[]string{"provider", "outcome"},
	)
	UserResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "expensetracker", Subsystem: "oauth", Name: "user_resolutions_total", Help: "How external identities were matched to local users."},
		[]string{"match"},
	)
	LoginsLinked = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "expensetracker", Subsystem: "oauth", Name: "logins_linked_total", Help: "External logins added to local users by provider."},
		[]string{"provider"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(OAuthOutcomes)
	reg.MustRegister(UserResolutions)
	reg.MustRegister(LoginsLinked)
}
