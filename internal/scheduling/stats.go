package scheduling

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// DoctorStats computes the dashboard counts for one doctor as of the injected
// clock. Each count is an independent scoped query; the four run concurrently
// and none of them loads appointment history into memory.
func (s *Service) DoctorStats(ctx context.Context, doctorID string) (*DoctorStats, error) {
	started := time.Now()
	today := DateOnly(s.now())
	tomorrow := today.AddDate(0, 0, 1)
	horizon := today.AddDate(0, 0, s.cfg.UpcomingWindow+1)

	var stats DoctorStats
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := s.repo.CountDoctorBetween(gctx, doctorID, today, tomorrow)
		stats.Today = n
		return err
	})
	g.Go(func() error {
		n, err := s.repo.CountPendingReview(gctx, doctorID)
		stats.PendingReview = n
		return err
	})
	g.Go(func() error {
		n, err := s.repo.CountPendingCheckIns(gctx, doctorID, today)
		stats.PendingCheckIn = n
		return err
	})
	g.Go(func() error {
		n, err := s.repo.CountDoctorBetween(gctx, doctorID, tomorrow, horizon)
		stats.Upcoming = n
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.metrics.ObserveStatsLatency(time.Since(started).Seconds())
	return &stats, nil
}
