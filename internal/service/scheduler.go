package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradeloop/internal/engine"
	"tradeloop/internal/models"
	"tradeloop/internal/repository"
)

// Ticker runs one tick of a session.
type Ticker interface {
	Tick(ctx context.Context, sessionID uint64) (*engine.Report, error)
}

// Scheduler finds running sessions whose cadence has elapsed and ticks them
// with bounded concurrency.
type Scheduler struct {
	Repo          repository.Repository
	Ticker        Ticker
	Flags         *SystemSettingsService
	MaxConcurrent int
	Logger        *zap.Logger
	Now           func() time.Time
}

// RunStats summarizes one scheduler pass.
type RunStats struct {
	Due     int
	Ticked  int
	Skipped int
	Failed  int
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Scheduler) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Due returns the running sessions that should tick at now.
func (s *Scheduler) Due(ctx context.Context, now time.Time) ([]models.Session, error) {
	running := models.SessionRunning
	asc := true
	var due []models.Session
	for offset := 0; ; {
		page, err := s.Repo.ListSessions(ctx, repository.ListSessionsParams{
			Status:  &running,
			Limit:   200,
			Offset:  offset,
			OrderBy: "id",
			Asc:     &asc,
		})
		if err != nil {
			return nil, err
		}
		for _, sess := range page {
			if isDue(sess, now) {
				due = append(due, sess)
			}
		}
		if len(page) < 200 {
			return due, nil
		}
		offset += len(page)
	}
}

func isDue(sess models.Session, now time.Time) bool {
	if sess.CadenceSeconds <= 0 {
		return false
	}
	if sess.LastTickAt == nil {
		return true
	}
	return !now.Before(sess.LastTickAt.Add(sess.Cadence()))
}

// RunOnce ticks every due session. Tick errors are logged and counted, never
// returned.
func (s *Scheduler) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats
	if s == nil || s.Repo == nil || s.Ticker == nil {
		return stats, nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureScheduler, true) {
		return stats, nil
	}
	due, err := s.Due(ctx, s.now())
	if err != nil {
		return stats, err
	}
	stats.Due = len(due)
	if len(due) == 0 {
		return stats, nil
	}

	limit := s.MaxConcurrent
	if limit <= 0 {
		limit = 4
	}
	results := make([]error, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	// Sessions sharing an account tick one after another.
	for _, group := range byAccount(due) {
		g.Go(func() error {
			for _, i := range group {
				_, results[i] = s.Ticker.Tick(gctx, due[i].ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range results {
		switch {
		case err == nil:
			stats.Ticked++
		case errors.Is(err, engine.ErrTickInProgress), errors.Is(err, engine.ErrSessionNotRunning):
			stats.Skipped++
		default:
			stats.Failed++
			s.logger().Warn("scheduler: tick failed", zap.Uint64("session_id", due[i].ID), zap.Error(err))
		}
	}
	s.logger().Debug("scheduler: pass done",
		zap.Int("due", stats.Due),
		zap.Int("ticked", stats.Ticked),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// byAccount groups indexes of sessions by the account they trade, keeping
// due order inside each group.
func byAccount(sessions []models.Session) [][]int {
	var groups [][]int
	slot := map[string]int{}
	for i, sess := range sessions {
		key := sess.UserID + "|" + sess.Mode + "|" + sess.AccountVenue()
		j, ok := slot[key]
		if !ok {
			j = len(groups)
			slot[key] = j
			groups = append(groups, nil)
		}
		groups[j] = append(groups[j], i)
	}
	return groups
}

// Run polls every interval until ctx is done. Used when no cron spec is set.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger().Warn("scheduler pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
