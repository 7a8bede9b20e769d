package attendance

import (
	"context"
	"log"
	"time"

	"presence/internal/metrics"
)

// Sweeper is the periodic reconciliation pass that invalidates lectures whose
// token expiry has passed, independent of any scan activity. It races
// benignly against live publishers: a rotating lecture keeps its expiry ahead
// of the sweep interval, so only abandoned sessions get caught.
type Sweeper struct {
	svc      *Service
	interval time.Duration
}

// NewSweeper creates a sweeper ticking at the given interval.
func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{svc: svc, interval: interval}
}

// SweepOnce clears every expired lecture in one atomic batch and returns the
// count. Stateless and re-entrant-safe: re-sweeping already-inactive
// lectures matches nothing.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.svc.store.ExpireLectures(ctx, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	metrics.SweptLectures.Add(float64(n))
	return n, nil
}

// Run sweeps on the fixed schedule until the context is cancelled. Sweep
// failures are transient: the next tick retries.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	log.Printf("sweeper started, interval %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx, s.svc.now())
			if err != nil {
				log.Printf("sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("swept %d expired lecture(s)", n)
			}
		}
	}
}
