package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Migrator executes a plan against a StateStore one step at a time. Each step
// commits on its own; the first failure stops the run.
type Migrator struct {
	store  StateStore
	logger *slog.Logger
	now    func() time.Time
}

// NewMigrator creates a Migrator. A nil logger uses slog.Default and a nil
// clock uses time.Now.
func NewMigrator(store StateStore, logger *slog.Logger, now func() time.Time) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Migrator{store: store, logger: logger, now: now}
}

// Execute runs the plan in its given order, stamping every audit record with
// runID. On failure at step i it returns a MigrationHalted carrying i; steps
// before i remain committed and later steps are never attempted.
func (m *Migrator) Execute(ctx context.Context, plan *Plan, runID string) error {
	if plan.Empty() {
		m.logger.Info("nothing to migrate", "target", plan.Target)
		return nil
	}

	logger := m.logger.With("direction", plan.Direction.String(), "run_id", runID)
	started := m.now()
	total := len(plan.Steps)

	for i, step := range plan.Steps {
		stepLogger := logger.With(
			"step", fmt.Sprintf("%d/%d", i+1, total),
			"script", step.Key.String(),
			"file", step.Script.FileName,
		)
		stepLogger.Info("executing script", "checksum", string(step.Script.Checksum))

		var elapsed time.Duration
		err := m.store.WithinTransaction(ctx, func(tx StateTx) error {
			var err error
			elapsed, err = tx.Execute(ctx, step.Script)
			if err != nil {
				return err
			}
			sums, err := tx.SchemaChecksums(ctx)
			if err != nil {
				return fmt.Errorf("compute schema checksums: %w", err)
			}
			if plan.Direction == Down {
				return tx.RemoveRecord(ctx, step.Key)
			}
			return tx.AppendRecord(ctx, AppliedRecord{
				RunID:         runID,
				Key:           step.Key,
				FileName:      step.Script.FileName,
				Kind:          step.Script.Kind,
				Checksum:      step.Script.Checksum,
				ExecutionTime: elapsed,
				AppliedAt:     m.now().UTC(),
				Schema:        sums,
			})
		})
		if err != nil {
			halted := &MigrationHalted{Index: i + 1, Total: total, Step: step, Err: err}
			stepLogger.Error("migration halted", "error", err, "error_kind", ErrorKind(err),
				"committed", i, "skipped", total-i)
			return halted
		}

		step.Script.ExecutionTime = elapsed
		stepLogger.Info("script completed", "execution_ms", elapsed.Milliseconds())
	}

	logger.Info("migration completed", "scripts", total, "elapsed", m.now().Sub(started).String())
	return nil
}
