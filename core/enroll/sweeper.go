package enroll

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/shule/core"
)

// Sweeper periodically cancels PENDING claims whose checkout session never
// completed nor expired (e.g. the user abandoned the checkout tab and the
// provider's expiration webhook was lost).
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   core.Logger
}

func NewSweeper(svc *Service, interval time.Duration, logger core.Logger) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, logger: logger}
}

// Start blocks until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(fmt.Sprintf("stale-pending sweeper started (every %s)", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stale-pending sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.svc.CancelStale(ctx)
			if err != nil {
				s.logger.Error(fmt.Sprintf("sweeping stale pending claims: %v", err), err)
				continue
			}
			if n > 0 {
				s.logger.Info(fmt.Sprintf("swept %d stale pending claims", n))
			}
		}
	}
}
