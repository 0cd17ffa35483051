package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "socialmap", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "socialmap", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	AuthRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "socialmap", Name: "auth_requests_total", Help: "Authenticator operations by outcome."},
		[]string{"operation", "outcome"},
	)
	FederatedVerificationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "socialmap", Name: "federated_verification_failures_total", Help: "Identity-provider token checks that failed during federated login."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(AuthRequests)
	reg.MustRegister(FederatedVerificationFailures)
}
