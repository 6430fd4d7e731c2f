package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestSchedulerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&scheduleRow{}))
	return db
}

func TestSyncSchedules_PersistsEntries(t *testing.T) {
	db := newTestSchedulerDB(t)
	s := New(Config{ButlerName: "switchboard"}, db, nil, func(ctx context.Context, prompt, source string) error {
		return nil
	}, zap.NewNop())

	err := s.SyncSchedules(context.Background(), []Entry{
		{Name: "morning_digest", CronExpr: "0 8 * * *", PromptTemplate: "summarize overnight messages", Enabled: true},
	})
	require.NoError(t, err)

	var row scheduleRow
	require.NoError(t, db.Where("schedule_name = ?", "morning_digest").First(&row).Error)
	assert.Equal(t, "0 8 * * *", row.CronExpr)
	assert.True(t, row.Enabled)
}

func TestSyncSchedules_SkipsInvalidCronExpressionWithoutFailingOthers(t *testing.T) {
	db := newTestSchedulerDB(t)
	s := New(Config{ButlerName: "switchboard"}, db, nil, func(ctx context.Context, prompt, source string) error {
		return nil
	}, zap.NewNop())

	err := s.SyncSchedules(context.Background(), []Entry{
		{Name: "bad", CronExpr: "not a cron expr", PromptTemplate: "x", Enabled: true},
		{Name: "good", CronExpr: "*/5 * * * *", PromptTemplate: "y", Enabled: true},
	})
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, hasBad := s.jobs["bad"]
	_, hasGood := s.jobs["good"]
	assert.False(t, hasBad)
	assert.True(t, hasGood)
}

func TestFireDue_TriggersOverdueScheduleAndAdvancesNextRun(t *testing.T) {
	s := New(Config{ButlerName: "switchboard"}, nil, nil, nil, zap.NewNop())

	var fired int32
	var mu sync.Mutex
	var gotPrompt, gotSource string
	s.trigger = func(ctx context.Context, prompt, source string) error {
		atomic.AddInt32(&fired, 1)
		mu.Lock()
		gotPrompt, gotSource = prompt, source
		mu.Unlock()
		return nil
	}

	require.NoError(t, s.SyncSchedules(context.Background(), []Entry{
		{Name: "heartbeat_check", CronExpr: "* * * * *", PromptTemplate: "check connector health", Enabled: true},
	}))

	s.mu.Lock()
	s.jobs["heartbeat_check"].nextRun = time.Now().Add(-time.Minute)
	originalNext := s.jobs["heartbeat_check"].nextRun
	s.mu.Unlock()

	s.fireDue(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	mu.Lock()
	assert.Equal(t, "check connector health", gotPrompt)
	assert.Equal(t, "schedule:heartbeat_check", gotSource)
	mu.Unlock()

	s.mu.Lock()
	assert.True(t, s.jobs["heartbeat_check"].nextRun.After(originalNext))
	s.mu.Unlock()
}

func TestFireDue_DisabledScheduleNeverFires(t *testing.T) {
	var fired int32
	s := New(Config{ButlerName: "switchboard"}, nil, nil, func(ctx context.Context, prompt, source string) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}, zap.NewNop())

	require.NoError(t, s.SyncSchedules(context.Background(), []Entry{
		{Name: "disabled_job", CronExpr: "* * * * *", PromptTemplate: "x", Enabled: false},
	}))

	s.mu.Lock()
	s.jobs["disabled_job"].nextRun = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	s.fireDue(context.Background())
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestFireDue_AdvancesNextRunEvenWhenTriggerFails(t *testing.T) {
	s := New(Config{ButlerName: "switchboard"}, nil, nil, func(ctx context.Context, prompt, source string) error {
		return assertErr
	}, zap.NewNop())

	require.NoError(t, s.SyncSchedules(context.Background(), []Entry{
		{Name: "flaky", CronExpr: "* * * * *", PromptTemplate: "x", Enabled: true},
	}))

	s.mu.Lock()
	s.jobs["flaky"].nextRun = time.Now().Add(-time.Minute)
	before := s.jobs["flaky"].nextRun
	s.mu.Unlock()

	s.fireDue(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.True(t, s.jobs["flaky"].nextRun.After(before))
}

var assertErr = &testTriggerError{}

type testTriggerError struct{}

func (e *testTriggerError) Error() string { return "trigger failed" }

func TestStartStop_RunsTickLoopCleanly(t *testing.T) {
	s := New(Config{ButlerName: "switchboard", SyncInterval: 10 * time.Millisecond}, nil, nil,
		func(ctx context.Context, prompt, source string) error { return nil }, zap.NewNop())

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}

func TestStop_IsIdempotentWithoutStart(t *testing.T) {
	s := New(Config{ButlerName: "switchboard"}, nil, nil, nil, zap.NewNop())
	s.Stop()
}
