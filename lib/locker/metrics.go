package locker

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// lockerMetrics holds the VictoriaMetrics series of a single locker.
// Series are registered in the default set and exported by metrics.WritePrometheus.
type lockerMetrics struct {
	acquired   *metrics.Counter
	conflicts  *metrics.Counter
	failures   *metrics.Counter
	released   *metrics.Counter
	retryDelay *metrics.Histogram
}

func newLockerMetrics(name string) *lockerMetrics {
	acquire := func(result string) *metrics.Counter {
		return metrics.GetOrCreateCounter(fmt.Sprintf(`dlock_acquire_total{locker=%q,result=%q}`, name, result))
	}
	return &lockerMetrics{
		acquired:   acquire("acquired"),
		conflicts:  acquire("conflict"),
		failures:   acquire("error"),
		released:   metrics.GetOrCreateCounter(fmt.Sprintf(`dlock_release_total{locker=%q}`, name)),
		retryDelay: metrics.GetOrCreateHistogram(fmt.Sprintf(`dlock_retry_delay_seconds{locker=%q}`, name)),
	}
}
