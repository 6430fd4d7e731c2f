// Package scheduler syncs a butler's cron-like schedule declarations
// (§4.15) into durable storage and ticks them, firing a Spawner session for
// each due schedule and recording the fire in the central audit log.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tzeusy/butlers-sub006/audit"
)

const defaultTickInterval = 30 * time.Second

// Entry declares one schedule from butler.toml.
type Entry struct {
	Name           string
	CronExpr       string
	PromptTemplate string
	Enabled        bool
}

// TriggerFunc invokes a spawner session for one schedule fire. Deliberately
// decoupled from spawner.Result the way routing.DispatchFunc is decoupled
// from spawner — the scheduler only needs to know whether the fire
// succeeded, not the session's full output.
type TriggerFunc func(ctx context.Context, prompt, triggerSource string) error

type scheduledJob struct {
	Entry
	schedule cron.Schedule
	nextRun  time.Time
}

// Config configures one butler's Scheduler.
type Config struct {
	ButlerName   string
	SyncInterval time.Duration // 0 defaults to 30s
}

// Scheduler owns one butler's schedule sync loop.
type Scheduler struct {
	cfg     Config
	db      *gorm.DB // this butler's own DB, for the schedules table
	auditDB *gorm.DB // switchboard DB; nil is valid (audit becomes a no-op)
	trigger TriggerFunc
	logger  *zap.Logger

	mu   sync.Mutex
	jobs map[string]*scheduledJob

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New constructs a Scheduler. trigger is called once per due schedule fire.
func New(cfg Config, db, auditDB *gorm.DB, trigger TriggerFunc, logger *zap.Logger) *Scheduler {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultTickInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:     cfg,
		db:      db,
		auditDB: auditDB,
		trigger: trigger,
		logger:  logger,
		jobs:    make(map[string]*scheduledJob),
	}
}

// SyncSchedules upserts entries into the schedules table and (re)parses
// their cron expressions into the in-memory tick set. An entry whose cron
// expression fails to parse is logged and skipped rather than aborting the
// whole sync — one malformed schedule must not take down the others.
func (s *Scheduler) SyncSchedules(ctx context.Context, entries []Entry) error {
	jobs := make(map[string]*scheduledJob, len(entries))
	now := time.Now()

	for _, e := range entries {
		sched, err := cron.ParseStandard(e.CronExpr)
		if err != nil {
			s.logger.Warn("skipping schedule with invalid cron expression",
				zap.String("schedule", e.Name), zap.String("cron", e.CronExpr), zap.Error(err))
			continue
		}
		jobs[e.Name] = &scheduledJob{Entry: e, schedule: sched, nextRun: sched.Next(now)}

		if s.db != nil {
			row := scheduleRow{
				ButlerName:     s.cfg.ButlerName,
				ScheduleName:   e.Name,
				CronExpr:       e.CronExpr,
				PromptTemplate: e.PromptTemplate,
				Enabled:        e.Enabled,
			}
			err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "butler_name"}, {Name: "schedule_name"}},
				DoUpdates: clause.AssignmentColumns([]string{"cron_expr", "prompt_template", "enabled"}),
			}).Create(&row).Error
			if err != nil {
				s.logger.Warn("failed to persist schedule", zap.String("schedule", e.Name), zap.Error(err))
			}
		}
	}

	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()
	return nil
}

// Start begins the tick loop in a background goroutine. Calling Start
// twice without an intervening Stop is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	s.mu.Unlock()

	go s.run(runCtx, s.done)
}

// Stop cancels the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.started = false
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue triggers every schedule whose nextRun has passed, advancing each
// to its following occurrence regardless of whether the fire succeeded —
// a failing schedule must not fire on every subsequent tick.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []*scheduledJob
	for _, j := range s.jobs {
		if j.Enabled && !j.nextRun.After(now) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.fireOne(ctx, j, now)
	}
}

func (s *Scheduler) fireOne(ctx context.Context, j *scheduledJob, firedAt time.Time) {
	triggerSource := "schedule:" + j.Name
	err := s.trigger(ctx, j.PromptTemplate, triggerSource)

	payload := map[string]any{"schedule_name": j.Name, "cron_expr": j.CronExpr}
	if err != nil {
		s.logger.Warn("scheduled trigger failed", zap.String("schedule", j.Name), zap.Error(err))
		audit.WriteEntryResult(ctx, s.auditDB, s.logger, s.cfg.ButlerName, "schedule_fire", payload,
			audit.WithResult("error"), audit.WithError(err.Error()))
	} else {
		audit.WriteEntry(ctx, s.auditDB, s.logger, s.cfg.ButlerName, "schedule_fire", payload)
	}

	s.mu.Lock()
	j.nextRun = j.schedule.Next(firedAt)
	s.mu.Unlock()

	if s.db != nil {
		err := s.db.WithContext(ctx).Model(&scheduleRow{}).
			Where("butler_name = ? AND schedule_name = ?", s.cfg.ButlerName, j.Name).
			Update("last_fired_at", firedAt).Error
		if err != nil {
			s.logger.Warn("failed to record schedule fire timestamp", zap.String("schedule", j.Name), zap.Error(err))
		}
	}
}
