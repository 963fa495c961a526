package ramp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/velora/ramp-backend/internal/storage"
)

// Sweeper periodically scans for sessions that stopped making progress:
// settling sessions whose worker died mid-flight, and needs_review sessions
// awaiting manual reconciliation. It only reports; it never re-executes a
// transfer.
type Sweeper struct {
	storage *storage.Storage
	alerts  Alerter
	log     *slog.Logger

	settlingAge time.Duration
}

// NewSweeper creates a reconciliation sweeper
func NewSweeper(store *storage.Storage, alerts Alerter, log *slog.Logger) *Sweeper {
	return &Sweeper{
		storage:     store,
		alerts:      alerts,
		log:         log,
		settlingAge: 15 * time.Minute,
	}
}

// Start runs the sweep loop until the context is canceled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	s.log.Info("reconciliation sweeper started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.log.Error("sweep", "error", err)
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	now := time.Now()

	stuck, err := s.storage.ListSessionsByStatusOlderThan(storage.StatusSettling, now.Add(-s.settlingAge))
	if err != nil {
		return fmt.Errorf("list stuck settling sessions: %w", err)
	}

	review, err := s.storage.ListSessionsByStatusOlderThan(storage.StatusNeedsReview, now)
	if err != nil {
		return fmt.Errorf("list needs_review sessions: %w", err)
	}

	if len(stuck) == 0 && len(review) == 0 {
		return nil
	}

	for _, sess := range stuck {
		s.log.Warn("session stuck in settling",
			"session_id", sess.ID,
			"since", sess.UpdatedAt,
			"amount", sess.FiatAmount.String(),
		)
	}
	for _, sess := range review {
		s.log.Warn("session awaiting reconciliation",
			"session_id", sess.ID,
			"since", sess.UpdatedAt,
			"amount", sess.FiatAmount.String(),
		)
	}

	if s.alerts != nil {
		s.alerts.Alert(ctx, fmt.Sprintf(
			"🔎 <b>Reconciliation report</b>\n\nStuck settling: <b>%d</b>\nAwaiting review: <b>%d</b>",
			len(stuck), len(review),
		))
	}

	return nil
}
