// Package migration reconciles declared schema-migration scripts with the
// migration state recorded inside a target database.
//
// The package holds the version model (Version → Feature → Script), the
// validator that detects drift between the declared and applied manifests, the
// differ that computes the ordered work list for an upgrade or a downgrade, and
// the migrator that executes that work list one script at a time.
//
// A run always proceeds in three stages:
//
//   - Validate: the filesystem manifest and the applied manifest are compared
//     and the live schema checksums are compared with the recorded ones.
//   - Diff: the ordered list of scripts to run is computed.
//   - Execute: scripts run sequentially; the first failure halts the run and
//     leaves every earlier script committed.
//
// Apart from creating the audit table, nothing is written to the database
// before Execute.
//
// Example usage:
//
//	engine := migration.NewEngine(src, store, logger)
//	plan, err := engine.PlanUpgrade(ctx, "1.1.0")
//	if err != nil {
//		return err
//	}
//	if err := engine.Execute(ctx, plan); err != nil {
//		return err
//	}
package migration
