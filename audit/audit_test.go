package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Entry{}))
	return db
}

func TestWriteEntry_PersistsRow(t *testing.T) {
	db := newTestDB(t)
	WriteEntry(context.Background(), db, zap.NewNop(), "health", "session", map[string]any{"session_id": "abc"})

	var entries []Entry
	require.NoError(t, db.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, "health", entries[0].ButlerName)
	assert.Equal(t, "session", entries[0].Kind)
	assert.Equal(t, "ok", entries[0].Result)
	assert.Contains(t, string(entries[0].Payload), "abc")
}

func TestWriteEntryResult_WithErrorOption(t *testing.T) {
	db := newTestDB(t)
	WriteEntryResult(context.Background(), db, zap.NewNop(), "finance", "session", map[string]any{}, WithResult("error"), WithError("boom"))

	var entries []Entry
	require.NoError(t, db.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].Result)
	assert.Equal(t, "boom", entries[0].Error)
}

func TestWriteEntry_NilDBIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		WriteEntry(context.Background(), nil, zap.NewNop(), "health", "session", map[string]any{})
	})
}

func TestWriteEntry_NilLoggerSwallowsMarshalFailureSilently(t *testing.T) {
	db := newTestDB(t)
	unmarshalable := make(chan int)
	assert.NotPanics(t, func() {
		WriteEntry(context.Background(), db, nil, "health", "session", unmarshalable)
	})

	var entries []Entry
	require.NoError(t, db.Find(&entries).Error)
	assert.Empty(t, entries)
}
