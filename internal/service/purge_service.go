package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/lock"
	"github.com/prn-tf/sendme/internal/metrics"
	"github.com/prn-tf/sendme/internal/repository"
)

// Purger hard-deletes messages that stayed soft-deleted past the retention
// period, expires messages past their deadline and drops expired refresh
// tokens.
type Purger struct {
	messages repository.MessageRepository
	tokens   repository.RefreshTokenRepository
	service  *MessageService
	locker   lock.Locker
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	config   PurgeConfig
	now      func() time.Time

	// extendEvery is how many hard deletes run between lock extensions.
	extendEvery int

	// Control
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	doneChan chan struct{}
}

// PurgeConfig contains purge configuration.
type PurgeConfig struct {
	// Enabled determines if the purge runs automatically.
	Enabled bool

	// Interval is how often to run a purge.
	Interval time.Duration

	// Retention is how long a soft-deleted message is kept before it is
	// hard-deleted.
	Retention time.Duration

	// BatchSize is the maximum number of messages to process per step and run.
	BatchSize int

	// DryRun logs what would be deleted without actually deleting.
	DryRun bool
}

// DefaultPurgeConfig returns sensible defaults.
func DefaultPurgeConfig() PurgeConfig {
	return PurgeConfig{
		Enabled:   true,
		Interval:  1 * time.Hour,
		Retention: 30 * 24 * time.Hour,
		BatchSize: 500,
		DryRun:    false,
	}
}

// NewPurger creates a new Purger.
func NewPurger(
	messages repository.MessageRepository,
	tokens repository.RefreshTokenRepository,
	service *MessageService,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config PurgeConfig,
) *Purger {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultPurgeConfig().BatchSize
	}
	if config.Interval <= 0 {
		config.Interval = DefaultPurgeConfig().Interval
	}
	return &Purger{
		messages: messages,
		tokens:   tokens,
		service:  service,
		locker:   locker,
		metrics:  m,
		logger:   logger.With().Str("service", "purge").Logger(),
		config:   config,
		now:      time.Now,

		extendEvery: 50,
	}
}

// errPurgeLockLost stops a run whose lock expired or was taken over.
var errPurgeLockLost = errors.New("purge lock lost")

// PurgeResult contains the result of a purge run.
type PurgeResult struct {
	// Skipped is set when another instance held the purge lock.
	Skipped bool

	// MessagesExpired is the number of messages marked expired and soft-deleted.
	MessagesExpired int

	// MessagesDeleted is the number of messages hard-deleted.
	MessagesDeleted int

	// BytesFreed is the quota released by hard deletes.
	BytesFreed int64

	// TokensDeleted is the number of expired refresh tokens removed.
	TokensDeleted int64

	// Errors is the number of per-message failures.
	Errors int

	Duration time.Duration
}

// Start begins the purge scheduler.
func (p *Purger) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.doneChan = make(chan struct{})

	p.logger.Info().
		Dur("interval", p.config.Interval).
		Dur("retention", p.config.Retention).
		Int("batch_size", p.config.BatchSize).
		Bool("dry_run", p.config.DryRun).
		Msg("Starting purger")

	go p.runLoop(ctx, p.doneChan)
}

// Stop stops the purge scheduler and waits for a running pass to finish.
func (p *Purger) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	done := p.doneChan
	p.mu.Unlock()

	<-done
	p.logger.Info().Msg("Purger stopped")
}

func (p *Purger) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Run immediately on start
	p.runScheduled(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.runScheduled(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Purger) runScheduled(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error().Err(err).Msg("Purge run failed")
	}
}

// RunOnce executes a single purge under the purge lock.
// This can be called manually or by the scheduler.
func (p *Purger) RunOnce(ctx context.Context) (*PurgeResult, error) {
	start := time.Now()
	result := &PurgeResult{}

	// Lock expires before the next scheduled run
	lockTTL := p.config.Interval / 2
	if lockTTL < 5*time.Minute {
		lockTTL = 5 * time.Minute
	}

	purgeLock := lock.NewLock(p.locker, lock.Keys.MessagePurge())
	acquired, err := purgeLock.Acquire(ctx, lockTTL)
	if err != nil {
		return result, err
	}
	if !acquired {
		p.logger.Debug().Msg("Purge lock held by another process, skipping run")
		result.Skipped = true
		result.Duration = time.Since(start)
		return result, nil
	}
	defer func() {
		if err := purgeLock.Release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to release purge lock")
		}
	}()

	err = p.purge(ctx, result, purgeLock, lockTTL)
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}

	if p.metrics != nil && !p.config.DryRun {
		p.metrics.RecordPurgeRun(result.Duration.Seconds(), result.MessagesDeleted, result.BytesFreed)
	}

	p.logger.Info().
		Int("messages_expired", result.MessagesExpired).
		Int("messages_deleted", result.MessagesDeleted).
		Int64("bytes_freed", result.BytesFreed).
		Int64("tokens_deleted", result.TokensDeleted).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Bool("dry_run", p.config.DryRun).
		Msg("Purge run completed")

	return result, nil
}

func (p *Purger) purge(ctx context.Context, result *PurgeResult, held *lock.Lock, ttl time.Duration) error {
	now := p.now().UTC()

	if err := p.expire(ctx, now, result); err != nil {
		return err
	}
	if err := p.hardDeleteRetained(ctx, now, result, held, ttl); err != nil {
		return err
	}

	if p.config.DryRun {
		return nil
	}
	err := lock.Run(ctx, p.locker, lock.Keys.TokenCleanup(), time.Minute, func(ctx context.Context) error {
		n, err := p.tokens.DeleteExpired(ctx, now)
		if err != nil {
			return err
		}
		result.TokensDeleted = n
		return nil
	})
	if err != nil && !errors.Is(err, lock.ErrNotAcquired) {
		p.logger.Error().Err(err).Msg("Failed to delete expired refresh tokens")
		result.Errors++
	}
	return nil
}

// expire marks messages past their deadline as expired and soft-deletes them.
func (p *Purger) expire(ctx context.Context, now time.Time, result *PurgeResult) error {
	expired, err := p.messages.ListExpired(ctx, now, p.config.BatchSize)
	if err != nil {
		return err
	}

	for _, msg := range expired {
		if p.config.DryRun {
			p.logger.Info().Str("message_id", msg.ID).Msg("[DRY RUN] Would expire message")
			result.MessagesExpired++
			continue
		}

		if err := p.messages.UpdateStatus(ctx, msg.ID, domain.MessageStatusExpired); err != nil {
			p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to mark message expired")
			result.Errors++
			continue
		}
		if _, err := p.service.SoftDelete(ctx, msg.UserID, msg.ID); err != nil {
			p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to soft delete expired message")
			result.Errors++
			continue
		}
		result.MessagesExpired++
	}
	return nil
}

// hardDeleteRetained hard-deletes messages soft-deleted before now-retention.
// The purge lock is extended every extendEvery messages; the run stops if
// it is no longer held.
func (p *Purger) hardDeleteRetained(ctx context.Context, now time.Time, result *PurgeResult, held *lock.Lock, ttl time.Duration) error {
	cutoff := now.Add(-p.config.Retention)
	candidates, err := p.messages.ListSoftDeletedBefore(ctx, cutoff, p.config.BatchSize)
	if err != nil {
		return err
	}

	if len(candidates) > 0 {
		p.logger.Info().Int("count", len(candidates)).Time("cutoff", cutoff).Msg("Found messages for hard deletion")
	}

	for i, msg := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if i > 0 && p.extendEvery > 0 && i%p.extendEvery == 0 {
			if err := held.Extend(ctx, ttl); err != nil {
				return err
			}
			if !held.IsHeld() {
				p.logger.Warn().Int("processed", i).Msg("Purge lock lost, stopping run")
				return errPurgeLockLost
			}
		}

		if p.config.DryRun {
			p.logger.Info().
				Str("message_id", msg.ID).
				Int64("size", msg.FileSizeBytes).
				Msg("[DRY RUN] Would hard delete message")
			result.MessagesDeleted++
			result.BytesFreed += msg.FileSizeBytes
			continue
		}

		released, err := p.service.hardDelete(ctx, msg)
		if err != nil {
			p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to hard delete message")
			result.Errors++
			continue
		}
		result.MessagesDeleted++
		result.BytesFreed += released
	}
	return nil
}
