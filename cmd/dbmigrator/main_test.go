package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/dbmigrator/internal/migration"
	"github.com/example/dbmigrator/internal/testfixtures"
)

type cliRun struct {
	stdout string
	stderr string
	err    error
}

func runCLI(t *testing.T, stdin string, interactive bool, args ...string) cliRun {
	t.Helper()
	var out, errOut bytes.Buffer
	cli := &app{
		in:          strings.NewReader(stdin),
		out:         &out,
		errOut:      &errOut,
		interactive: func() bool { return interactive },
	}
	root := cli.rootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return cliRun{stdout: out.String(), stderr: errOut.String(), err: err}
}

func setupCLI(t *testing.T) (scripts, dsn string) {
	t.Helper()
	scripts = testfixtures.BaseScripts().Write(t)
	dsn = filepath.Join(t.TempDir(), "app.db")
	return scripts, dsn
}

func TestUpgradeWithNoPrompt(t *testing.T) {
	scripts, dsn := setupCLI(t)

	res := runCLI(t, "", false, "upgrade", "--scripts-dir", scripts, "--dsn", dsn, "-v", "1.0.0", "--noprompt")
	if res.err != nil {
		t.Fatalf("upgrade failed: %v\nstderr: %s", res.err, res.stderr)
	}
	if !strings.Contains(res.stdout, "Upgrade from empty database to 1.0.0 (2 scripts)") {
		t.Fatalf("expected plan in output, got %q", res.stdout)
	}
	if !strings.Contains(res.stdout, "Upgrade complete: 2 scripts applied") {
		t.Fatalf("expected completion message, got %q", res.stdout)
	}

	res = runCLI(t, "", false, "status", "--scripts-dir", scripts, "--dsn", dsn)
	if res.err != nil {
		t.Fatalf("status failed: %v", res.err)
	}
	for _, want := range []string{"Current version: 1.0.0", "Latest version:  1.1.0", "Applied scripts (2)", "Pending scripts (1)", "1.1.0/Core/1 001_add_column.up.sql"} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("status output missing %q:\n%s", want, res.stdout)
		}
	}
}

func TestUpgradeRequiresConfirmation(t *testing.T) {
	scripts, dsn := setupCLI(t)

	res := runCLI(t, "", false, "upgrade", "--scripts-dir", scripts, "--dsn", dsn)
	if res.err == nil || !strings.Contains(res.err.Error(), "--noprompt") {
		t.Fatalf("expected non-interactive run to be refused, got %v", res.err)
	}

	res = runCLI(t, "n\n", true, "upgrade", "--scripts-dir", scripts, "--dsn", dsn)
	if !errors.Is(res.err, errNotConfirmed) {
		t.Fatalf("expected cancellation, got %v", res.err)
	}

	res = runCLI(t, "yes\n", true, "upgrade", "--scripts-dir", scripts, "--dsn", dsn)
	if res.err != nil {
		t.Fatalf("confirmed upgrade failed: %v", res.err)
	}
	if !strings.Contains(res.stdout, "Proceed? [y/N]: ") || !strings.Contains(res.stdout, "3 scripts applied") {
		t.Fatalf("unexpected output %q", res.stdout)
	}
}

func TestDowngradeAndValidate(t *testing.T) {
	scripts, dsn := setupCLI(t)

	if res := runCLI(t, "", false, "upgrade", "--scripts-dir", scripts, "--dsn", dsn, "--noprompt"); res.err != nil {
		t.Fatalf("upgrade failed: %v", res.err)
	}

	res := runCLI(t, "", false, "downgrade", "--scripts-dir", scripts, "--dsn", dsn)
	if res.err == nil || !strings.Contains(res.err.Error(), "version") {
		t.Fatalf("expected downgrade without a target to fail, got %v", res.err)
	}

	res = runCLI(t, "", false, "downgrade", "--scripts-dir", scripts, "--dsn", dsn, "-v", "1.0.0", "--noprompt")
	if res.err != nil {
		t.Fatalf("downgrade failed: %v", res.err)
	}
	if !strings.Contains(res.stdout, "1. 1.1.0/Core/1 001_add_column.down.sql") {
		t.Fatalf("expected rollback plan, got %q", res.stdout)
	}

	res = runCLI(t, "", false, "validate", "--scripts-dir", scripts, "--dsn", dsn)
	if res.err != nil {
		t.Fatalf("validate failed: %v", res.err)
	}
	if !strings.Contains(res.stdout, "OK: 2 applied scripts") {
		t.Fatalf("unexpected validate output %q", res.stdout)
	}
}

func TestUnknownTargetFails(t *testing.T) {
	scripts, dsn := setupCLI(t)

	res := runCLI(t, "", false, "upgrade", "--scripts-dir", scripts, "--dsn", dsn, "-v", "9.0.0", "--noprompt", "--log-format", "json")
	if !errors.Is(res.err, migration.ErrUnknownVersion) {
		t.Fatalf("expected unknown version error, got %v", res.err)
	}
}

func TestMissingScriptsDir(t *testing.T) {
	res := runCLI(t, "", false, "validate", "--scripts-dir", filepath.Join(t.TempDir(), "absent"), "--dsn", "app.db")
	if res.err == nil || !strings.Contains(res.err.Error(), "scripts directory") {
		t.Fatalf("expected scripts directory error, got %v", res.err)
	}
}
