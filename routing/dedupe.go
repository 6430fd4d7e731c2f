package routing

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ingressDedupeRow is the ingress_dedupe row: (butler_name, dedupe_key) has
// already been routed and must not be routed again. Nothing prunes the
// table, so a row is kept indefinitely.
type ingressDedupeRow struct {
	ButlerName  string    `gorm:"column:butler_name;primaryKey"`
	DedupeKey   string    `gorm:"column:dedupe_key;primaryKey"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (ingressDedupeRow) TableName() string { return "ingress_dedupe" }

// alreadyProcessed reports whether (butlerName, dedupeKey) has already been
// routed.
func alreadyProcessed(ctx context.Context, db *gorm.DB, butlerName, dedupeKey string) (bool, error) {
	var row ingressDedupeRow
	err := db.WithContext(ctx).
		Where("butler_name = ? AND dedupe_key = ?", butlerName, dedupeKey).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// recordProcessed records (butlerName, dedupeKey) as routed. A duplicate
// insert race (two workers routing the same message concurrently) is not
// an error: the unique constraint already protects against double-routing.
func recordProcessed(ctx context.Context, db *gorm.DB, butlerName, dedupeKey string) error {
	row := ingressDedupeRow{ButlerName: butlerName, DedupeKey: dedupeKey, ProcessedAt: time.Now().UTC()}
	err := db.WithContext(ctx).Create(&row).Error
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	for _, sub := range []string{"UNIQUE constraint", "duplicate key", "Duplicate entry"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
