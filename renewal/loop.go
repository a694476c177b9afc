// Package renewal refreshes the access token in the background shortly before it expires.
package renewal

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval  = time.Minute
	DefaultThreshold = 5 * time.Minute
)

// Refresher is the part of token.Manager the loop depends on.
type Refresher interface {
	TimeUntilExpiration() (time.Duration, bool)
	Refresh(ctx context.Context) error
}

type Loop struct {
	tokens    Refresher
	interval  time.Duration
	threshold time.Duration
	metrics   *metrics.Recorder
}

type Option func(*Loop)

func WithInterval(interval time.Duration) Option {
	return func(l *Loop) {
		l.interval = interval
	}
}

func WithThreshold(threshold time.Duration) Option {
	return func(l *Loop) {
		l.threshold = threshold
	}
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(l *Loop) {
		l.metrics = recorder
	}
}

func New(tokens Refresher, options ...Option) *Loop {
	l := &Loop{
		tokens:    tokens,
		interval:  DefaultInterval,
		threshold: DefaultThreshold,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// Run checks the token on every tick until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	log.Debug().Dur("interval", l.interval).Dur("threshold", l.threshold).Msg("Loop: renewal started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Loop: renewal stopped")
			return
		case <-ticker.C:
			l.Check(ctx)
		}
	}
}

// Start runs the loop in its own goroutine. The returned function stops it and waits for the
// goroutine to exit. Calling Start twice runs two loops.
func (l *Loop) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Run(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

// Check refreshes when a known expiry is closer than the threshold. A failure is only logged:
// the next request that gets a 401 takes the reactive path.
func (l *Loop) Check(ctx context.Context) {
	remaining, ok := l.tokens.TimeUntilExpiration()
	if !ok || remaining >= l.threshold {
		return
	}

	err := l.tokens.Refresh(ctx)
	switch {
	case err == nil:
		l.metrics.Refresh(metrics.TriggerProactive, metrics.OutcomeSuccess)
		log.Debug().Dur("remaining", remaining).Msg("Loop: token renewed")
	case apperrors.Is(err, apperrors.ErrNoRefreshToken):
		l.metrics.Refresh(metrics.TriggerProactive, metrics.OutcomeNoRefresh)
		log.Debug().Dur("remaining", remaining).Msg("Loop: token expiring without a refresh token")
	default:
		l.metrics.Refresh(metrics.TriggerProactive, metrics.OutcomeFailure)
		log.Warn().Err(err).Dur("remaining", remaining).Msg("Loop: proactive refresh failed")
	}
}
