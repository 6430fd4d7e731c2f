package scheduler

import "time"

// scheduleRow persists one butler's cron-like schedule entries (§4.15).
type scheduleRow struct {
	ID             int64      `gorm:"column:id;primaryKey"`
	ButlerName     string     `gorm:"column:butler_name"`
	ScheduleName   string     `gorm:"column:schedule_name"`
	CronExpr       string     `gorm:"column:cron_expr"`
	PromptTemplate string     `gorm:"column:prompt_template"`
	Enabled        bool       `gorm:"column:enabled"`
	LastFiredAt    *time.Time `gorm:"column:last_fired_at"`
}

func (scheduleRow) TableName() string { return "schedules" }
