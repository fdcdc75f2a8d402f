package migration

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var declaredScripts = []string{
	"1.0.0/Core/001_create_users.up.sql",
	"1.0.0/Core/001_create_users.down.sql",
	"1.0.0/Core/002_index_email.up.sql",
	"1.0.0/Core/002_index_email.down.sql",
	"1.1.0/Core/001_add_column.up.sql",
	"1.1.0/Core/001_add_column.down.sql",
	"2.0.0/Reporting/001_audit.up.sql",
	"2.0.0/Reporting/001_audit.down.sql",
	"2.0.0/Core/001_rename.up.sql",
	"2.0.0/Core/001_rename.down.sql",
}

func TestCurrentVersion(t *testing.T) {
	declared := manifestOf(t, declaredScripts...)

	assert.Equal(t, "", CurrentVersion(declared, NewManifest()))
	assert.Equal(t, "1.0.0", CurrentVersion(declared, manifestOf(t, "1.0.0/Core/001_create_users.up.sql")))
	assert.Equal(t, "1.1.0", CurrentVersion(declared, manifestOf(t,
		"1.0.0/Core/001_create_users.up.sql",
		"1.1.0/Core/001_add_column.up.sql",
	)))
}

func TestUpgradeDiff(t *testing.T) {
	declared := manifestOf(t, declaredScripts...)

	tests := []struct {
		name    string
		applied []string
		target  string
		want    []string
	}{
		{
			name:    "single step to the next version",
			applied: []string{"1.0.0/Core/001_create_users.up.sql", "1.0.0/Core/002_index_email.up.sql"},
			target:  "1.1.0",
			want:    []string{"1.1.0/Core/1"},
		},
		{
			name:   "empty database to latest",
			target: "",
			want:   []string{"1.0.0/Core/1", "1.0.0/Core/2", "1.1.0/Core/1", "2.0.0/Reporting/1", "2.0.0/Core/1"},
		},
		{
			name:    "already at latest",
			applied: []string{"1.0.0/Core/001_create_users.up.sql", "1.0.0/Core/002_index_email.up.sql", "1.1.0/Core/001_add_column.up.sql", "2.0.0/Reporting/001_audit.up.sql", "2.0.0/Core/001_rename.up.sql"},
			want:    nil,
		},
		{
			name:    "target behind current version",
			applied: []string{"1.0.0/Core/001_create_users.up.sql", "1.0.0/Core/002_index_email.up.sql", "1.1.0/Core/001_add_column.up.sql"},
			target:  "1.0.0",
			want:    nil,
		},
		{
			name:    "target equal to current resumes a partial version",
			applied: []string{"1.0.0/Core/001_create_users.up.sql"},
			target:  "1.0.0",
			want:    []string{"1.0.0/Core/2"},
		},
		{
			name:    "gap filled ahead of later scripts",
			applied: []string{"1.0.0/Core/001_create_users.up.sql", "1.1.0/Core/001_add_column.up.sql"},
			target:  "1.1.0",
			want:    []string{"1.0.0/Core/2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := UpgradeDiff(declared, manifestOf(t, tt.applied...), tt.target)
			require.NoError(t, err)
			assert.Equal(t, Up, plan.Direction)
			if tt.want == nil {
				assert.True(t, plan.Empty(), "expected empty plan, got %v", keys(plan.Steps))
				return
			}
			assert.Equal(t, tt.want, keys(plan.Steps))
			for _, step := range plan.Steps {
				assert.Equal(t, KindUpgrade, step.Script.Kind)
				assert.Same(t, step.Script, step.Applied)
			}
		})
	}
}

func TestUpgradeDiffNextVersion(t *testing.T) {
	declared := manifestOf(t,
		"1.0.0/Core/001_create_users.up.sql",
		"1.1.0/Core/001_add_column.up.sql",
	)
	applied := manifestOf(t, "1.0.0/Core/001_create_users.up.sql")

	plan, err := UpgradeDiff(declared, applied, "1.1.0")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "1.1.0/Core/1", plan.Steps[0].Key.String())
	assert.Equal(t, "001_add_column.up.sql", plan.Steps[0].Script.FileName)
	assert.Equal(t, "1.0.0", plan.From)
	assert.Equal(t, "1.1.0", plan.Target)
}

func TestUpgradeDiffUnknownTarget(t *testing.T) {
	declared := manifestOf(t, declaredScripts...)
	_, err := UpgradeDiff(declared, NewManifest(), "3.0.0")
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestUpgradeDiffEmptyDeclared(t *testing.T) {
	plan, err := UpgradeDiff(NewManifest(), NewManifest(), "")
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestDowngradeDiff(t *testing.T) {
	declared := manifestOf(t, declaredScripts...)
	applied := manifestOf(t,
		"1.0.0/Core/001_create_users.up.sql",
		"1.0.0/Core/002_index_email.up.sql",
		"1.1.0/Core/001_add_column.up.sql",
		"2.0.0/Reporting/001_audit.up.sql",
		"2.0.0/Core/001_rename.up.sql",
	)

	plan, err := DowngradeDiff(applied, declared, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, Down, plan.Direction)
	assert.Equal(t, "2.0.0", plan.From)
	assert.Equal(t, []string{"2.0.0/Core/1", "2.0.0/Reporting/1", "1.1.0/Core/1"}, keys(plan.Steps))
	for _, step := range plan.Steps {
		assert.Equal(t, KindRollback, step.Script.Kind)
		assert.Equal(t, KindUpgrade, step.Applied.Kind)
		assert.Equal(t, step.Key, step.Applied.Key())
	}

	noop, err := DowngradeDiff(applied, declared, "2.0.0")
	require.NoError(t, err)
	assert.True(t, noop.Empty())
}

func TestDowngradeDiffMissingRollbacks(t *testing.T) {
	declared := manifestOf(t,
		"1.0.0/Core/001_a.up.sql",
		"1.0.0/Core/001_a.down.sql",
		"1.1.0/Core/001_b.up.sql",
		"1.1.0/Core/002_c.up.sql",
	)
	applied := manifestOf(t, "1.0.0/Core/001_a.up.sql", "1.1.0/Core/001_b.up.sql", "1.1.0/Core/002_c.up.sql")

	_, err := DowngradeDiff(applied, declared, "1.0.0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingRollback))

	joined, ok := err.(interface{ Unwrap() []error })
	require.True(t, ok)
	require.Len(t, joined.Unwrap(), 2)
	var first *MissingRollbackScript
	require.ErrorAs(t, joined.Unwrap()[0], &first)
	assert.Equal(t, "1.1.0/Core/2", first.Key.String())
}

func TestDowngradeDiffRequiresKnownTarget(t *testing.T) {
	declared := manifestOf(t, declaredScripts...)

	_, err := DowngradeDiff(NewManifest(), declared, "")
	assert.ErrorIs(t, err, ErrUnknownVersion)

	_, err = DowngradeDiff(NewManifest(), declared, "0.9.0")
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestDiffOrdersScriptsNumericallyWithinFeature(t *testing.T) {
	declared := manifestOf(t,
		"1.0.0/Core/001_a.up.sql",
		"1.0.0/Core/001_a.down.sql",
		"1.1.0/Core/10_c.up.sql",
		"1.1.0/Core/10_c.down.sql",
		"1.1.0/Core/2_b.up.sql",
		"1.1.0/Core/2_b.down.sql",
		"1.1.0/Core/1_a.up.sql",
		"1.1.0/Core/1_a.down.sql",
	)

	up, err := UpgradeDiff(declared, manifestOf(t, "1.0.0/Core/001_a.up.sql"), "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0/Core/1", "1.1.0/Core/2", "1.1.0/Core/10"}, keys(up.Steps))

	applied := manifestOf(t,
		"1.0.0/Core/001_a.up.sql",
		"1.1.0/Core/10_c.up.sql",
		"1.1.0/Core/2_b.up.sql",
		"1.1.0/Core/1_a.up.sql",
	)
	down, err := DowngradeDiff(applied, declared, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0/Core/10", "1.1.0/Core/2", "1.1.0/Core/1"}, keys(down.Steps))
}

func TestRoundTripLeavesNothingApplied(t *testing.T) {
	declared := manifestOf(t, declaredScripts...)

	up, err := UpgradeDiff(declared, NewManifest(), "1.1.0")
	require.NoError(t, err)

	applied := NewManifest()
	for _, step := range up.Steps {
		_, err := applied.AddAndOrGetVersion(step.Key.Version).AddAndOrGetFeature(step.Key.Feature).
			AddScript(step.Script.FileName, step.Key.Order, KindUpgrade)
		require.NoError(t, err)
	}

	down, err := DowngradeDiff(applied, declared, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0/Core/1"}, keys(down.Steps))
}

func TestPlanString(t *testing.T) {
	declared := manifestOf(t, "1.0.0/Core/001_a.up.sql")
	plan, err := UpgradeDiff(declared, NewManifest(), "")
	require.NoError(t, err)
	assert.Contains(t, plan.String(), "Upgrade from empty database to 1.0.0 (1 scripts)")
	assert.Contains(t, plan.String(), "1. 1.0.0/Core/1 001_a.up.sql")

	empty := &Plan{Direction: Up, From: "1.0.0", Target: "1.0.0"}
	assert.Contains(t, empty.String(), "nothing to do")
}
