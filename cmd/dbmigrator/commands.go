package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/dbmigrator/internal/config"
	"github.com/example/dbmigrator/internal/logging"
	"github.com/example/dbmigrator/internal/migration"
	"github.com/example/dbmigrator/internal/persistence"
	"github.com/example/dbmigrator/internal/source"
)

var errNotConfirmed = errors.New("migration cancelled")

// app holds the process streams and global flags shared by every command.
type app struct {
	in          io.Reader
	out         io.Writer
	errOut      io.Writer
	interactive func() bool

	configPath string
	settings   map[string]*string
}

func (a *app) rootCommand() *cobra.Command {
	a.settings = map[string]*string{}
	root := &cobra.Command{
		Use:           "dbmigrator",
		Short:         "Versioned SQL schema migrations with drift detection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML configuration file")
	for _, opt := range []struct{ key, flag, usage string }{
		{"scripts_dir", "scripts-dir", "root directory of the version tree"},
		{"driver", "driver", "database driver: sqlite or postgres"},
		{"dsn", "dsn", "database connection string or SQLite file path"},
		{"server", "server", "database server host[:port]"},
		{"database", "database", "database name"},
		{"username", "username", "database user"},
		{"password", "password", "database password"},
		{"table", "table", "audit table name"},
		{"log_level", "log-level", "log level: debug, info, warn, error"},
		{"log_format", "log-format", "log format: text or json"},
	} {
		value := new(string)
		flags.StringVar(value, opt.flag, "", opt.usage)
		a.settings[opt.key] = value
	}

	root.AddCommand(a.upgradeCommand(), a.downgradeCommand(), a.validateCommand(), a.statusCommand())
	return root
}

func (a *app) upgradeCommand() *cobra.Command {
	var target string
	var noPrompt bool
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Apply pending upgrade scripts up to a version (latest by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, engine *migration.Engine) error {
				plan, err := engine.PlanUpgrade(ctx, target)
				if err != nil {
					return err
				}
				return a.run(ctx, engine, plan, noPrompt)
			})
		},
	}
	cmd.Flags().StringVarP(&target, "version", "v", "", "target version (default: latest declared)")
	cmd.Flags().BoolVar(&noPrompt, "noprompt", false, "execute without asking for confirmation")
	return cmd
}

func (a *app) downgradeCommand() *cobra.Command {
	var target string
	var noPrompt bool
	cmd := &cobra.Command{
		Use:   "downgrade",
		Short: "Run rollback scripts back to a version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, engine *migration.Engine) error {
				plan, err := engine.PlanDowngrade(ctx, target)
				if err != nil {
					return err
				}
				return a.run(ctx, engine, plan, noPrompt)
			})
		},
	}
	cmd.Flags().StringVarP(&target, "version", "v", "", "target version")
	cmd.Flags().BoolVar(&noPrompt, "noprompt", false, "execute without asking for confirmation")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func (a *app) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check applied scripts and the live schema for drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, engine *migration.Engine) error {
				state, err := engine.Validate(ctx)
				if err != nil {
					return err
				}
				current := state.CurrentVersion()
				if current == "" {
					current = "empty database"
				}
				fmt.Fprintf(a.out, "OK: %d applied scripts match the declared tree (database at %s)\n",
					state.Applied.Len(), current)
				return nil
			})
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, engine *migration.Engine) error {
				status, err := engine.Status(ctx)
				if err != nil {
					return err
				}
				a.printStatus(status)
				return nil
			})
		},
	}
}

// withEngine loads configuration, opens the database and hands an Engine to
// fn. The database is closed when fn returns.
func (a *app) withEngine(ctx context.Context, fn func(context.Context, *migration.Engine) error) error {
	overrides := config.Overrides{}
	for key, value := range a.settings {
		overrides[key] = *value
	}
	cfg, err := config.Load(a.configPath, overrides)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, a.errOut)
	if err != nil {
		return err
	}
	ctx = logging.ContextWithLogger(ctx, logger)

	if info, err := os.Stat(cfg.ScriptsDir); err != nil || !info.IsDir() {
		return fmt.Errorf("scripts directory %q is not a readable directory", cfg.ScriptsDir)
	}

	db, dialect, err := persistence.Open(ctx, cfg.Persistence())
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Driver, "error", err, "error_kind", migration.ErrorKind(err))
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Error("failed to close database", "error", cerr)
		}
	}()

	store, err := persistence.NewStore(db, dialect, cfg.Table, persistence.WithLogger(logger))
	if err != nil {
		return err
	}
	engine := migration.NewEngine(source.NewScanner(os.DirFS(cfg.ScriptsDir), "."), store, logger)
	return fn(ctx, engine)
}

// run prints the plan, asks for confirmation unless noPrompt is set, and
// executes it.
func (a *app) run(ctx context.Context, engine *migration.Engine, plan *migration.Plan, noPrompt bool) error {
	fmt.Fprint(a.out, plan.String())
	if plan.Empty() {
		return nil
	}
	if !noPrompt {
		if err := a.confirm(); err != nil {
			return err
		}
	}
	if err := engine.Execute(ctx, plan); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s complete: %d scripts applied\n", plan.Direction, len(plan.Steps))
	return nil
}

func (a *app) confirm() error {
	if a.interactive == nil || !a.interactive() {
		return errors.New("confirmation required but stdin is not a terminal; rerun with --noprompt")
	}
	fmt.Fprint(a.out, "Proceed? [y/N]: ")
	answer, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	}
	return errNotConfirmed
}

func (a *app) printStatus(status *migration.Status) {
	current := status.CurrentVersion
	if current == "" {
		current = "(none)"
	}
	latest := status.LatestVersion
	if latest == "" {
		latest = "(none)"
	}
	fmt.Fprintf(a.out, "Current version: %s\nLatest version:  %s\n", current, latest)

	if len(status.Applied) > 0 {
		fmt.Fprintf(a.out, "\nApplied scripts (%d):\n", len(status.Applied))
		w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  SCRIPT\tFILE\tAPPLIED AT\tDURATION\tRUN")
		for _, r := range status.Applied {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
				r.Key, r.FileName, r.AppliedAt.Format("2006-01-02 15:04:05Z07:00"), r.ExecutionTime, r.RunID)
		}
		_ = w.Flush()
	}

	fmt.Fprintf(a.out, "\nPending scripts (%d):\n", len(status.Pending))
	for i, step := range status.Pending {
		fmt.Fprintf(a.out, "  %d. %s %s\n", i+1, step.Key, step.Script.FileName)
	}
}
