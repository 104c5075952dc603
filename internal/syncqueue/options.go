package syncqueue

import (
	"time"

	"github.com/flurbudurbur/nanosync/internal/domain"
)

type Option func(d *Dispatcher)

// WithMaxFailureCount sets how many retryable failures a job may accumulate
// before it is dropped. Negative values are ignored.
func WithMaxFailureCount(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.maxFailureCount.Store(int64(n))
		}
	}
}

// WithWorkers bounds the number of drain tasks running at once.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = int64(n)
		}
	}
}

// WithClock replaces time.Now for job timestamps and sync markers.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func defaultOptions() []Option {
	return []Option{
		WithMaxFailureCount(domain.DefaultMaxFailureCount),
		WithWorkers(domain.DefaultSyncWorkers),
		WithClock(time.Now),
	}
}
