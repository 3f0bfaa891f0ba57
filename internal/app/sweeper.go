package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ExpiryReleaser frees reservations whose payment deadline passed.
type ExpiryReleaser interface {
	ReleaseExpired(ctx context.Context, limit int) (int, error)
}

// Sweeper periodically releases timed out reservations so their seats go back
// on sale.
type Sweeper struct {
	releaser ExpiryReleaser
	interval time.Duration
	batch    int
	logger   logrus.FieldLogger
}

const defaultSweepBatch = 500

func NewSweeper(releaser ExpiryReleaser, interval time.Duration, logger logrus.FieldLogger) *Sweeper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		releaser: releaser,
		interval: interval,
		batch:    defaultSweepBatch,
		logger:   logger.WithField("component", "sweeper"),
	}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("reservation sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reservation sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep drains expired reservations in batches and returns the number freed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	total := 0
	for {
		n, err := s.releaser.ReleaseExpired(ctx, s.batch)
		total += n
		if err != nil {
			if ctx.Err() == nil {
				s.logger.WithError(err).Error("release expired reservations")
			}
			break
		}
		if n < s.batch {
			break
		}
	}
	if total > 0 {
		s.logger.WithField("released", total).Info("expired reservations released")
	}
	return total
}
