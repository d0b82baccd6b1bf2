package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/clinical-reasoning-engine/internal/domain"
)

// ErrPublisherUnavailable is returned while the breaker is open.
var ErrPublisherUnavailable = errors.New("report publisher unavailable")

// BreakerPublisher stops calling an unhealthy publisher for a while so a broker outage
// does not add a network timeout to every analysis.
type BreakerPublisher struct {
	next    domain.ReportPublisher
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerPublisher wraps next. The breaker trips once at least 3 calls in a 30s window
// have a failure ratio of 60% or more and probes again after 60s.
func NewBreakerPublisher(next domain.ReportPublisher, logger *logrus.Logger) *BreakerPublisher {
	return &BreakerPublisher{
		next: next,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "kafka",
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Publisher circuit breaker changed state")
			},
		}),
	}
}

func (p *BreakerPublisher) Publish(ctx context.Context, rec *domain.ReportRecord) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, rec)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrPublisherUnavailable, err)
	}
	return err
}

// State reports the breaker state, e.g. "closed" or "open".
func (p *BreakerPublisher) State() string {
	return p.breaker.State().String()
}

func (p *BreakerPublisher) Close() error {
	return p.next.Close()
}
