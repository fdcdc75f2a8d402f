package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/dbmigrator/internal/logging"
)

// State is a validated snapshot of the declared and applied manifests.
type State struct {
	Declared *Manifest
	Applied  *Manifest
	Recorded *SchemaChecksums
	Live     SchemaChecksums
}

// CurrentVersion returns the applied version furthest along the declared order.
func (s *State) CurrentVersion() string {
	return CurrentVersion(s.Declared, s.Applied)
}

// Status summarizes the migration state of a database.
type Status struct {
	CurrentVersion string
	LatestVersion  string
	Applied        []AppliedRecord
	Pending        []Step
}

// Engine sequences the stages of a run: validate, diff, execute.
type Engine struct {
	source   Source
	store    StateStore
	logger   *slog.Logger
	now      func() time.Time
	newRunID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for timing and applied timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRunIDs overrides the generator of per-run identifiers.
func WithRunIDs(next func() string) Option {
	return func(e *Engine) {
		if next != nil {
			e.newRunID = next
		}
	}
}

// NewEngine creates an Engine over a declared source and a database state store.
// A logger attached to the context of a call takes precedence over logger.
func NewEngine(source Source, store StateStore, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		source:   source,
		store:    store,
		logger:   logger,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load reads both manifests and both sets of schema checksums without
// validating them.
func (e *Engine) Load(ctx context.Context) (*State, error) {
	logger := e.log(ctx, "load")

	declared, err := e.source.Load(ctx)
	if err != nil {
		logger.Error("failed to read declared scripts", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}
	logger.Debug("declared manifest loaded", "versions", len(declared.Versions), "scripts", declared.Len())

	if err := e.store.Bootstrap(ctx); err != nil {
		logger.Error("failed to bootstrap audit table", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}

	applied, err := e.store.AppliedManifest(ctx)
	if err != nil {
		logger.Error("failed to read applied scripts", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}

	state := &State{Declared: declared, Applied: applied}
	recorded, ok, err := e.store.LatestChecksums(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		state.Recorded = &recorded
	}
	if state.Live, err = e.store.SchemaChecksums(ctx); err != nil {
		return nil, err
	}

	if current := state.CurrentVersion(); current != "" {
		logger.Info("found existing database version", "version", current, "applied_scripts", applied.Len())
	} else {
		logger.Info("database has no applied scripts")
	}
	return state, nil
}

// Validate loads the current state and rejects any drift. It never mutates the
// database beyond creating the audit table.
func (e *Engine) Validate(ctx context.Context) (*State, error) {
	state, err := e.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := Validate(state.Declared, state.Applied, state.Recorded, state.Live); err != nil {
		e.log(ctx, "validate").Error("validation failed", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}
	e.log(ctx, "validate").Info("validation passed")
	return state, nil
}

// PlanUpgrade validates and returns the scripts needed to reach target. An
// empty target means the latest declared version.
func (e *Engine) PlanUpgrade(ctx context.Context, target string) (*Plan, error) {
	state, err := e.Validate(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := UpgradeDiff(state.Declared, state.Applied, target)
	if err != nil {
		return nil, err
	}
	e.log(ctx, "plan").Info("upgrade planned", "from", plan.From, "target", plan.Target, "scripts", len(plan.Steps))
	return plan, nil
}

// PlanDowngrade validates and returns the rollbacks needed to return to target.
func (e *Engine) PlanDowngrade(ctx context.Context, target string) (*Plan, error) {
	state, err := e.Validate(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := DowngradeDiff(state.Applied, state.Declared, target)
	if err != nil {
		e.log(ctx, "plan").Error("downgrade cannot be planned", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}
	e.log(ctx, "plan").Info("downgrade planned", "from", plan.From, "target", plan.Target, "scripts", len(plan.Steps))
	return plan, nil
}

// Execute runs a plan produced by PlanUpgrade or PlanDowngrade.
func (e *Engine) Execute(ctx context.Context, plan *Plan) error {
	if plan == nil {
		return fmt.Errorf("execute: nil plan")
	}
	migrator := NewMigrator(e.store, e.log(ctx, "execute"), e.now)
	return migrator.Execute(ctx, plan, e.newRunID())
}

// Status reports the applied records and what an upgrade to the latest
// declared version would run.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	state, err := e.Load(ctx)
	if err != nil {
		return nil, err
	}
	records, err := e.store.Records(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := UpgradeDiff(state.Declared, state.Applied, "")
	if err != nil {
		return nil, err
	}

	status := &Status{
		CurrentVersion: state.CurrentVersion(),
		Applied:        records,
		Pending:        plan.Steps,
	}
	if latest := state.Declared.Latest(); latest != nil {
		status.LatestVersion = latest.Name
	}
	return status, nil
}

func (e *Engine) log(ctx context.Context, operation string) *slog.Logger {
	return logging.ServiceLogger(ctx, e.logger, "migration", operation)
}
