package modulestate

// moduleStateRow persists the one bit of module runtime state that must
// survive a restart: whether an operator has enabled or disabled it. Health
// and failure details are runtime-only and reseeded on every startup.
type moduleStateRow struct {
	Name    string `gorm:"column:name;primaryKey"`
	Enabled bool   `gorm:"column:enabled"`
}

func (moduleStateRow) TableName() string { return "module_runtime_state" }
