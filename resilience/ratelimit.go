package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/utlibraries/mediacat/core"
)

// ServiceLimiter throttles outbound calls to one remote service with a
// token bucket plus a rolling daily counter. One limiter instance is
// shared by every worker talking to that service; only the limiter
// mutates its internal counters.
type ServiceLimiter struct {
	name       string
	limiter    *rate.Limiter
	dailyLimit int
	logger     core.Logger

	mu       sync.Mutex
	used     int
	usageDay string // UTC date the counter belongs to
}

// NewServiceLimiter creates a limiter for a named remote service.
// dailyLimit <= 0 disables the daily cap.
func NewServiceLimiter(name string, rps float64, dailyLimit int, logger core.Logger) *ServiceLimiter {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &ServiceLimiter{
		name:       name,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		dailyLimit: dailyLimit,
		logger:     logger,
	}
}

// Acquire blocks until a token is available or the context is done.
// It fails with ErrQuotaExceeded once the daily counter is exhausted.
func (l *ServiceLimiter) Acquire(ctx context.Context) error {
	if err := l.checkDaily(); err != nil {
		return err
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return nil
}

func (l *ServiceLimiter) checkDaily() error {
	if l.dailyLimit <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	if l.usageDay != today {
		l.usageDay = today
		l.used = 0
	}

	if l.used >= l.dailyLimit {
		l.logger.Warn("Daily request quota exhausted", map[string]interface{}{
			"operation":   "rate_limit_quota",
			"service":     l.name,
			"daily_limit": l.dailyLimit,
		})
		return fmt.Errorf("%s daily limit of %d reached: %w", l.name, l.dailyLimit, core.ErrQuotaExceeded)
	}

	l.used++
	return nil
}

// Used returns the number of requests counted against today's quota
func (l *ServiceLimiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.usageDay != time.Now().UTC().Format("2006-01-02") {
		return 0
	}
	return l.used
}
