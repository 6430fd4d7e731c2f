// Package modulestate owns the per-butler runtime state map (§4.12) — each
// module's health and enabled flag — and the tool-call gate (§4.13) that
// consults it before letting a module's MCP tool handlers run.
package modulestate

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Health is a module's current runtime health.
type Health string

const (
	HealthActive        Health = "active"
	HealthFailed        Health = "failed"
	HealthCascadeFailed Health = "cascade_failed"
)

// State is a snapshot of one module's runtime state.
type State struct {
	Name         string
	Health       Health
	Enabled      bool
	FailurePhase string
	FailureError string
}

// UnknownModuleError is returned by SetEnabled for a name that was never
// registered.
type UnknownModuleError struct{ Name string }

func (e *UnknownModuleError) Error() string {
	return fmt.Sprintf("Unknown module: %q", e.Name)
}

// UnavailableError is returned by SetEnabled when the module's current
// health is not active (it failed on startup or was cascade-failed).
type UnavailableError struct {
	Name   string
	Health Health
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("Module %q is unavailable (health=%q) and cannot be toggled", e.Name, e.Health)
}

// Registry is the daemon's single source of truth for module runtime
// state, shared by the tool-call gate (readers) and SetModuleEnabled
// (the sole writer besides startup). A single RWMutex is sufficient: every
// read observes one module's flags at a time, never a cross-module
// invariant.
type Registry struct {
	db     *gorm.DB // this butler's own DB; nil means state never persists
	logger *zap.Logger

	mu         sync.RWMutex
	states     map[string]*State
	dependents map[string][]string // moduleName -> modules that depend on it
}

// NewRegistry constructs an empty Registry. db may be nil, in which case
// enabled flags never survive a restart (every module reseeds to
// enabled=true the next time it starts successfully).
func NewRegistry(db *gorm.DB, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		db:         db,
		logger:     logger,
		states:     make(map[string]*State),
		dependents: make(map[string][]string),
	}
}

// RegisterDependencies records that moduleName depends on each of deps, so
// a later startup failure of one of deps cascades to moduleName. Must be
// called for every module before startup begins.
func (r *Registry) RegisterDependencies(moduleName string, deps []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[moduleName]; !ok {
		r.states[moduleName] = &State{Name: moduleName}
	}
	for _, dep := range deps {
		r.dependents[dep] = append(r.dependents[dep], moduleName)
	}
}

// MarkActive records a module's successful startup. enabled is the
// previously persisted value when one exists, defaultEnabled otherwise.
func (r *Registry) MarkActive(ctx context.Context, moduleName string, defaultEnabled bool) error {
	enabled := defaultEnabled
	if r.db != nil {
		var row moduleStateRow
		err := r.db.WithContext(ctx).Where("name = ?", moduleName).First(&row).Error
		if err == nil {
			enabled = row.Enabled
		} else if err != gorm.ErrRecordNotFound {
			r.logger.Warn("failed to load persisted module state", zap.String("module", moduleName), zap.Error(err))
		}
	}

	r.mu.Lock()
	r.states[moduleName] = &State{Name: moduleName, Health: HealthActive, Enabled: enabled}
	r.mu.Unlock()
	return nil
}

// MarkStartupFailed records that moduleName's OnStartup returned an error
// at the given phase, and cascades HealthCascadeFailed to every transitive
// dependent.
func (r *Registry) MarkStartupFailed(moduleName, phase, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[moduleName] = &State{
		Name:         moduleName,
		Health:       HealthFailed,
		Enabled:      false,
		FailurePhase: phase,
		FailureError: errMsg,
	}

	visited := map[string]bool{moduleName: true}
	queue := append([]string{}, r.dependents[moduleName]...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		visited[name] = true
		r.states[name] = &State{Name: name, Health: HealthCascadeFailed, Enabled: false}
		queue = append(queue, r.dependents[name]...)
	}
}

// Get returns a copy of one module's current state.
func (r *Registry) Get(moduleName string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[moduleName]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// GetStates returns a read-only snapshot of every registered module's
// state, keyed by name.
func (r *Registry) GetStates() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.states))
	for name, s := range r.states {
		out[name] = *s
	}
	return out
}

// SetEnabled toggles a module's enabled flag, persisting it when a DB is
// configured. Returns *UnknownModuleError when moduleName was never
// registered, *UnavailableError when its health is not active.
func (r *Registry) SetEnabled(ctx context.Context, moduleName string, enabled bool) (State, error) {
	r.mu.Lock()
	s, ok := r.states[moduleName]
	if !ok {
		r.mu.Unlock()
		return State{}, &UnknownModuleError{Name: moduleName}
	}
	if s.Health != HealthActive {
		health := s.Health
		r.mu.Unlock()
		return State{}, &UnavailableError{Name: moduleName, Health: health}
	}
	s.Enabled = enabled
	updated := *s
	r.mu.Unlock()

	if r.db != nil {
		row := moduleStateRow{Name: moduleName, Enabled: enabled}
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled"}),
		}).Create(&row).Error
		if err != nil {
			r.logger.Warn("failed to persist module enabled flag", zap.String("module", moduleName), zap.Error(err))
		}
	}

	return updated, nil
}
