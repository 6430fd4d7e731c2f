// Package buffer implements the durable per-butler message queue (§4.6): a
// bounded in-memory ring backed by the route_inbox table, a fixed worker
// pool draining it, and a recovery scanner that re-enqueues anything the
// ring dropped or a crashed worker abandoned mid-lease.
package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Tzeusy/butlers-sub006/internal/idgen"
)

// ProcessFunc handles one dequeued item. A non-nil error leaves the item's
// durable row in place; its lease expires and the scanner re-enqueues it.
type ProcessFunc func(ctx context.Context, item Item) error

// EnqueuePath reports which path an Enqueue call took.
type EnqueuePath string

const (
	PathHot  EnqueuePath = "hot"
	PathCold EnqueuePath = "cold"
)

// Config configures one butler's Buffer.
type Config struct {
	ButlerName       string
	RingSize         int // in-memory ring capacity; 0 defaults to 256
	WorkerCount      int // 0 defaults to 4
	ScannerInterval  time.Duration
	ScannerGrace     time.Duration
	ScannerBatchSize int
}

func (c *Config) applyDefaults() {
	if c.RingSize <= 0 {
		c.RingSize = 256
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.ScannerInterval <= 0 {
		c.ScannerInterval = 30 * time.Second
	}
	if c.ScannerGrace <= 0 {
		c.ScannerGrace = 60 * time.Second
	}
	if c.ScannerBatchSize <= 0 {
		c.ScannerBatchSize = 50
	}
}

// Buffer is one butler's durable queue.
type Buffer struct {
	cfg     Config
	db      *gorm.DB
	process ProcessFunc
	logger  *zap.Logger
	metrics *Metrics

	ring chan Item

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Buffer. process is invoked by every worker for every
// dequeued item; it must be safe for concurrent use.
func New(cfg Config, db *gorm.DB, process ProcessFunc, logger *zap.Logger, metrics *Metrics) *Buffer {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer{
		cfg:     cfg,
		db:      db,
		process: process,
		logger:  logger,
		metrics: metrics,
		ring:    make(chan Item, cfg.RingSize),
	}
}

// Start spawns the worker pool and the recovery scanner, performing one
// immediate scan before returning so in-flight-at-crash-time messages
// re-enter right away.
func (b *Buffer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.started = true
	b.mu.Unlock()

	for i := 0; i < b.cfg.WorkerCount; i++ {
		b.wg.Add(1)
		go b.worker(runCtx, i)
	}

	b.scan(runCtx)

	b.wg.Add(1)
	go b.scannerLoop(runCtx)
}

// Stop cancels the workers and scanner and waits for them to exit.
func (b *Buffer) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.started = false
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

// Enqueue persists item durably and attempts the hot in-memory path.
// Returns PathHot when the ring accepted it immediately, PathCold when the
// ring was full (the caller's message is still safe: it is already
// durably recorded, and the first scanner pass after ScannerGrace has
// elapsed recovers it).
func (b *Buffer) Enqueue(ctx context.Context, item Item) (EnqueuePath, error) {
	row := item.toRow(b.cfg.ButlerName, time.Now().UTC())
	if err := b.db.WithContext(ctx).Create(row).Error; err != nil {
		return "", fmt.Errorf("failed to persist route_inbox row: %w", err)
	}

	if b.metrics != nil {
		b.metrics.depthInc()
	}

	select {
	case b.ring <- item:
		return PathHot, nil
	default:
		if b.metrics != nil {
			b.metrics.backpressureInc()
		}
		return PathCold, nil
	}
}

func (b *Buffer) worker(ctx context.Context, workerID int) {
	defer b.wg.Done()
	ownerID := fmt.Sprintf("%s-worker-%d-%s", b.cfg.ButlerName, workerID, idgen.TimeOrdered().String())

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-b.ring:
			if !ok {
				return
			}
			b.handle(ctx, item, ownerID)
		}
	}
}

func (b *Buffer) handle(ctx context.Context, item Item, ownerID string) {
	leased, err := b.acquireLease(ctx, item.MessageInboxID, ownerID)
	if err != nil {
		b.logger.Warn("failed to acquire route_inbox lease", zap.String("message_inbox_id", item.MessageInboxID), zap.Error(err))
		return
	}
	if !leased {
		// Another worker (or a scanner re-delivery racing this one)
		// already owns this item, or it was already completed.
		return
	}

	start := time.Now()
	procErr := b.process(ctx, item)
	elapsed := time.Since(start)
	if b.metrics != nil {
		b.metrics.observeLatencyMs(float64(elapsed.Milliseconds()))
	}

	if procErr != nil {
		b.logger.Warn("process_fn failed; lease will expire for scanner recovery",
			zap.String("request_id", item.RequestID), zap.Error(procErr))
		return
	}

	if err := b.complete(ctx, item.MessageInboxID); err != nil {
		b.logger.Warn("failed to delete completed route_inbox row", zap.String("request_id", item.RequestID), zap.Error(err))
		return
	}
	if b.metrics != nil {
		b.metrics.depthDec()
	}
}

// acquireLease claims message_inbox_id for ownerID, succeeding only if the
// row has no live lease. This is the at-most-one-in-flight-worker guarantee.
func (b *Buffer) acquireLease(ctx context.Context, messageInboxID, ownerID string) (bool, error) {
	now := time.Now().UTC()
	expires := now.Add(b.cfg.ScannerGrace)
	result := b.db.WithContext(ctx).Model(&routeInboxRow{}).
		Where("message_inbox_id = ? AND completed_at IS NULL AND (lease_expires_at IS NULL OR lease_expires_at < ?)", messageInboxID, now).
		Updates(map[string]any{"lease_owner": ownerID, "lease_expires_at": expires})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (b *Buffer) complete(ctx context.Context, messageInboxID string) error {
	return b.db.WithContext(ctx).Where("message_inbox_id = ?", messageInboxID).Delete(&routeInboxRow{}).Error
}

func (b *Buffer) scannerLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.ScannerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.scan(ctx)
		}
	}
}

// scan selects rows with an expired lease, or rows that were never leased
// and have sat past the grace period (the cold-path case), and re-attempts
// the hot delivery for each. Ring membership is not checked: a row still
// waiting in the ring can be pushed onto it a second time. The lease taken
// in handle stops that copy from running while the first holds the lease,
// and a completed row is deleted, so a late copy finds nothing to lease.
func (b *Buffer) scan(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-b.cfg.ScannerGrace)

	var rows []routeInboxRow
	err := b.db.WithContext(ctx).
		Where("butler_name = ? AND completed_at IS NULL AND ((lease_expires_at IS NOT NULL AND lease_expires_at < ?) OR (lease_owner IS NULL AND enqueued_at < ?))",
			b.cfg.ButlerName, now, cutoff).
		Order("enqueued_at ASC").
		Limit(b.cfg.ScannerBatchSize).
		Find(&rows).Error
	if err != nil {
		b.logger.Warn("recovery scan query failed", zap.String("butler", b.cfg.ButlerName), zap.Error(err))
		return
	}

	for _, row := range rows {
		select {
		case b.ring <- row.toItem():
			if b.metrics != nil {
				b.metrics.scannerRecoveredInc()
			}
		default:
			// Ring still full; leave the row for the next scan pass.
		}
	}
}
