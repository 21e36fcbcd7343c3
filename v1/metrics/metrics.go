package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquireCounter tracks successful lock acquisitions.
	AcquireCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teamlock_acquire_total",
		Help: "Total number of successful lock acquisitions",
	})
	// ReleaseCounter tracks lock releases.
	ReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teamlock_release_total",
		Help: "Total number of lock releases",
	})
	// ContentionCounter tracks TryLock attempts that found the lock held.
	ContentionCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teamlock_contention_total",
		Help: "Total number of non-blocking acquisition attempts that lost",
	})
	// HeldGauge reports how many locks this process currently holds.
	HeldGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "teamlock_held",
		Help: "Number of locks currently held by this process",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLockMetrics registers teamlock metrics on the provided registry.
func RegisterLockMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquireCounter, ReleaseCounter, ContentionCounter, HeldGauge)
}
