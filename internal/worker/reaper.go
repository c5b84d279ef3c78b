package worker

import (
	"context"
	"errors"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// BookingLister finds bookings due for a time-driven transition
type BookingLister interface {
	ListExpiredHoldIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListFinishedReservationIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// BookingTransitioner applies time-driven booking transitions
type BookingTransitioner interface {
	MarkExpired(ctx context.Context, bookingID string) (*models.Booking, error)
	Complete(ctx context.Context, bookingID string) (*models.Booking, error)
}

// PendingVerifier re-verifies stale pending payments
type PendingVerifier interface {
	VerifyPending(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// ReaperConfig tunes the sweep
type ReaperConfig struct {
	Interval    time.Duration
	BatchSize   int
	VerifyAfter time.Duration
}

// SweepResult counts what one sweep changed
type SweepResult struct {
	Expired   int
	Completed int
	Verified  int
}

// HoldReaper expires lapsed holds, completes finished reservations and re-verifies
// payments left pending. It only reads persisted state, so it is safe to restart and
// to run on several instances at once.
type HoldReaper struct {
	lister   BookingLister
	bookings BookingTransitioner
	verifier PendingVerifier
	cfg      ReaperConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewHoldReaper creates a new reaper. verifier may be nil.
func NewHoldReaper(lister BookingLister, bookings BookingTransitioner, verifier PendingVerifier, cfg ReaperConfig) *HoldReaper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &HoldReaper{
		lister:   lister,
		bookings: bookings,
		verifier: verifier,
		cfg:      cfg,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// Start runs sweeps on a ticker until ctx is cancelled
func (r *HoldReaper) Start(ctx context.Context) error {
	r.logger.Info("Starting hold reaper", zap.Duration("interval", r.cfg.Interval))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Reaper sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Stopping hold reaper")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep performs one pass. Running it again over the same state changes nothing.
func (r *HoldReaper) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := util.StartSpan(ctx, "HoldReaper.Sweep")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReaperSweepsTotal.Inc()
		util.ReaperSweepLatency.Observe(time.Since(start).Seconds())
	}()

	var result SweepResult
	now := r.now()

	expired, err := r.lister.ListExpiredHoldIDs(ctx, now, r.cfg.BatchSize)
	if err != nil {
		return result, err
	}
	for _, id := range expired {
		if _, err := r.bookings.MarkExpired(ctx, id); err != nil {
			r.logTransitionError("expire", id, err)
			continue
		}
		result.Expired++
	}

	finished, err := r.lister.ListFinishedReservationIDs(ctx, now, r.cfg.BatchSize)
	if err != nil {
		return result, err
	}
	for _, id := range finished {
		if _, err := r.bookings.Complete(ctx, id); err != nil {
			r.logTransitionError("complete", id, err)
			continue
		}
		result.Completed++
	}

	if r.verifier != nil && r.cfg.VerifyAfter > 0 {
		verified, err := r.verifier.VerifyPending(ctx, now.Add(-r.cfg.VerifyAfter), r.cfg.BatchSize)
		if err != nil {
			return result, err
		}
		result.Verified = verified
	}

	util.ReaperProcessedTotal.WithLabelValues("expired").Add(float64(result.Expired))
	util.ReaperProcessedTotal.WithLabelValues("completed").Add(float64(result.Completed))
	util.ReaperProcessedTotal.WithLabelValues("verified").Add(float64(result.Verified))

	if result != (SweepResult{}) {
		r.logger.Info("Reaper sweep finished",
			zap.Int("expired", result.Expired),
			zap.Int("completed", result.Completed),
			zap.Int("verified", result.Verified))
	}
	return result, nil
}

func (r *HoldReaper) logTransitionError(action, bookingID string, err error) {
	if errors.Is(err, models.ErrIllegalTransition) {
		// lost a race with a payment or a customer action
		r.logger.Debug("Booking moved on before the reaper",
			zap.String("action", action),
			zap.String("booking_id", bookingID),
			zap.Error(err))
		return
	}
	r.logger.Error("Reaper transition failed",
		zap.String("action", action),
		zap.String("booking_id", bookingID),
		zap.Error(err))
}
