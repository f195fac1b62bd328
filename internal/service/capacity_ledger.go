package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/metrics"
	"github.com/prn-tf/sendme/internal/repository"
)

// CapacityLedger enforces used+requested <= max for every quota-consuming
// operation and keeps used_quota_bytes consistent under concurrent writers.
type CapacityLedger struct {
	users   repository.UserRepository
	tx      repository.TxManager
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewCapacityLedger creates a new CapacityLedger.
func NewCapacityLedger(users repository.UserRepository, tx repository.TxManager, m *metrics.Metrics, logger zerolog.Logger) *CapacityLedger {
	return &CapacityLedger{
		users:   users,
		tx:      tx,
		metrics: m,
		logger:  logger.With().Str("service", "capacity").Logger(),
	}
}

// QuotaUsage is a snapshot of a user's quota.
type QuotaUsage struct {
	UserID    int64   `json:"user_id"`
	Used      int64   `json:"used_bytes"`
	Max       int64   `json:"max_bytes"`
	Available int64   `json:"available_bytes"`
	Percent   float64 `json:"percent_used"`
}

// Reserve checks that requested more bytes fit the user's quota.
// Nothing is mutated; the check is advisory until Charge.
func (l *CapacityLedger) Reserve(ctx context.Context, userID, requested int64) error {
	if requested < 0 {
		return domain.ErrInvalidFileSize
	}

	max, err := l.users.GetMaxCapacity(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if max == nil {
		return domain.ErrUserNotFound
	}

	return l.tx.WithTx(ctx, func(ctx context.Context) error {
		user, err := l.users.GetUserWithCapacityLock(ctx, userID)
		if err != nil {
			return l.repoErr(err)
		}
		if requested > *max-user.UsedQuotaBytes {
			l.reject(userID, user.UsedQuotaBytes, *max, requested)
			return domain.NewDomainError(domain.ErrCapacityExceeded,
				fmt.Sprintf("%d of %d bytes used, %d requested", user.UsedQuotaBytes, *max, requested), "")
		}
		return nil
	})
}

// Charge adds bytes to the user's usage after re-checking the quota under
// the capacity lock. When ctx carries a transaction the charge joins it and
// commits or rolls back with the caller's other writes.
func (l *CapacityLedger) Charge(ctx context.Context, userID, bytes int64) (int64, error) {
	if bytes < 0 {
		return 0, domain.ErrInvalidFileSize
	}

	var total int64
	err := l.tx.WithTx(ctx, func(ctx context.Context) error {
		user, err := l.users.GetUserWithCapacityLock(ctx, userID)
		if err != nil {
			return l.repoErr(err)
		}
		if !user.Fits(bytes) {
			l.reject(userID, user.UsedQuotaBytes, user.MaxQuotaBytes, bytes)
			return domain.NewDomainError(domain.ErrCapacityExceeded,
				fmt.Sprintf("%d of %d bytes used, %d requested", user.UsedQuotaBytes, user.MaxQuotaBytes, bytes), "")
		}

		total, err = l.users.UpdateUsedCapacity(ctx, userID, bytes)
		if err != nil {
			return l.repoErr(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if l.metrics != nil {
		l.metrics.QuotaCharged.Add(float64(bytes))
	}
	l.logger.Debug().Int64("user_id", userID).Int64("bytes", bytes).Int64("used", total).Msg("quota charged")
	return total, nil
}

// Release subtracts bytes from the user's usage. A release that would drive
// usage below zero is clamped and logged; it never fails the caller.
func (l *CapacityLedger) Release(ctx context.Context, userID, bytes int64) (int64, error) {
	if bytes <= 0 {
		return l.users.GetUsedCapacity(ctx, userID)
	}

	total, err := l.users.UpdateUsedCapacity(ctx, userID, -bytes)
	if err != nil {
		if !errors.Is(err, repository.ErrCapacityUnderflow) {
			return 0, l.repoErr(err)
		}
		l.logger.Warn().
			Err(err).
			Int64("user_id", userID).
			Int64("bytes", bytes).
			Msg("quota release underflow clamped to zero")
		if l.metrics != nil {
			l.metrics.QuotaUnderflows.Inc()
		}
	}

	if l.metrics != nil {
		l.metrics.QuotaReleased.Add(float64(bytes))
	}
	return total, nil
}

// Usage returns the user's current quota snapshot.
func (l *CapacityLedger) Usage(ctx context.Context, userID int64) (*QuotaUsage, error) {
	user, err := l.users.GetByID(ctx, userID)
	if err != nil {
		return nil, l.repoErr(err)
	}
	return usageOf(user), nil
}

// ReconcileResult reports a quota recomputation.
type ReconcileResult struct {
	UserID   int64
	Previous int64
	Current  int64
	Max      int64
}

// OverQuota reports whether the stored bytes exceed the user's ceiling.
// Reconcile records the real total anyway; new uploads are then rejected
// until enough is deleted.
func (r ReconcileResult) OverQuota() bool {
	return r.Current > r.Max
}

// Drift returns Current - Previous.
func (r ReconcileResult) Drift() int64 {
	return r.Current - r.Previous
}

// Reconcile recomputes used_quota_bytes from the sizes of the user's
// messages that have not been hard-deleted.
func (l *CapacityLedger) Reconcile(ctx context.Context, userID int64, messages repository.MessageRepository) (*ReconcileResult, error) {
	result := &ReconcileResult{UserID: userID}
	err := l.tx.WithTx(ctx, func(ctx context.Context) error {
		user, err := l.users.GetUserWithCapacityLock(ctx, userID)
		if err != nil {
			return l.repoErr(err)
		}
		result.Previous = user.UsedQuotaBytes
		result.Max = user.MaxQuotaBytes

		sum, err := messages.SumLiveSizes(ctx, userID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		result.Current = sum

		if sum == user.UsedQuotaBytes {
			return nil
		}
		if err := l.users.SetUsedCapacity(ctx, userID, sum); err != nil {
			return l.repoErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Drift() != 0 {
		l.logger.Warn().
			Int64("user_id", userID).
			Int64("previous", result.Previous).
			Int64("current", result.Current).
			Int64("drift", result.Drift()).
			Msg("quota reconciled")
	}
	if result.OverQuota() {
		l.logger.Error().
			Int64("user_id", userID).
			Int64("used", result.Current).
			Int64("max", result.Max).
			Msg("stored bytes exceed quota after reconcile")
	}
	return result, nil
}

func (l *CapacityLedger) reject(userID, used, max, requested int64) {
	if l.metrics != nil {
		l.metrics.QuotaRejections.Inc()
	}
	l.logger.Info().
		Int64("user_id", userID).
		Int64("used", used).
		Int64("max", max).
		Int64("requested", requested).
		Msg("quota exceeded")
}

// repoErr passes domain errors through and wraps everything else.
func (l *CapacityLedger) repoErr(err error) error {
	if errors.Is(err, domain.ErrUserNotFound) || errors.Is(err, domain.ErrCapacityExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInternalError, err)
}

func usageOf(user *domain.User) *QuotaUsage {
	u := &QuotaUsage{
		UserID:    user.ID,
		Used:      user.UsedQuotaBytes,
		Max:       user.MaxQuotaBytes,
		Available: user.AvailableBytes(),
	}
	if user.MaxQuotaBytes > 0 {
		u.Percent = float64(user.UsedQuotaBytes) / float64(user.MaxQuotaBytes) * 100
	}
	return u
}
