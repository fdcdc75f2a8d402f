package migration

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// manifestOf builds a manifest from "version/feature/NNN_name.up.sql" paths.
// Each script's content is its own path unless overridden with "path=content".
func manifestOf(t *testing.T, entries ...string) *Manifest {
	t.Helper()
	m := NewManifest()
	for _, entry := range entries {
		path, content, found := strings.Cut(entry, "=")
		if !found {
			content = path
		}
		parts := strings.Split(path, "/")
		require.Len(t, parts, 3, "bad manifest entry %q", entry)

		file := parts[2]
		digits, _, ok := strings.Cut(file, "_")
		require.True(t, ok, "bad script name %q", file)
		order, err := strconv.Atoi(digits)
		require.NoError(t, err)
		kind := KindUpgrade
		if strings.HasSuffix(file, ".down.sql") {
			kind = KindRollback
		}

		script, err := m.AddAndOrGetVersion(parts[0]).AddAndOrGetFeature(parts[1]).AddScript(file, order, kind)
		require.NoError(t, err)
		script.SetContent([]byte(content))
	}
	return m
}

func keys(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Key.String()
	}
	return out
}

// fakeStore is an in-memory StateStore. Transactions work on copies that are
// swapped in on commit.
type fakeStore struct {
	records  []AppliedRecord
	live     SchemaChecksums
	executed []string
	failOn   map[string]error
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{failOn: map[string]error{}}
}

func (f *fakeStore) Bootstrap(context.Context) error { return nil }

func (f *fakeStore) Records(context.Context) ([]AppliedRecord, error) {
	return append([]AppliedRecord(nil), f.records...), nil
}

func (f *fakeStore) AppliedManifest(ctx context.Context) (*Manifest, error) {
	m := NewManifest()
	for _, r := range f.records {
		s, err := m.AddAndOrGetVersion(r.Key.Version).AddAndOrGetFeature(r.Key.Feature).AddScript(r.FileName, r.Key.Order, r.Kind)
		if err != nil {
			return nil, err
		}
		s.Checksum = r.Checksum
	}
	return m, nil
}

func (f *fakeStore) LatestChecksums(context.Context) (SchemaChecksums, bool, error) {
	if len(f.records) == 0 {
		return SchemaChecksums{}, false, nil
	}
	return f.records[len(f.records)-1].Schema, true, nil
}

func (f *fakeStore) SchemaChecksums(context.Context) (SchemaChecksums, error) {
	return f.live, nil
}

func (f *fakeStore) WithinTransaction(ctx context.Context, fn func(StateTx) error) error {
	tx := &fakeTx{store: f, records: append([]AppliedRecord(nil), f.records...), live: f.live}
	if err := fn(tx); err != nil {
		return err
	}
	f.records, f.live = tx.records, tx.live
	f.executed = append(f.executed, tx.executed...)
	return nil
}

type fakeTx struct {
	store    *fakeStore
	records  []AppliedRecord
	live     SchemaChecksums
	executed []string
}

func (tx *fakeTx) Execute(_ context.Context, script *Script) (time.Duration, error) {
	if err, ok := tx.store.failOn[script.FileName]; ok {
		return 0, &ScriptExecutionError{Key: script.Key(), FileName: script.FileName, Kind: script.Kind, Err: err}
	}
	tx.live.TablesAndViews = string(ComputeChecksum([]byte(tx.live.TablesAndViews + script.Content)))
	tx.executed = append(tx.executed, script.FileName)
	return 5 * time.Millisecond, nil
}

func (tx *fakeTx) SchemaChecksums(context.Context) (SchemaChecksums, error) {
	return tx.live, nil
}

func (tx *fakeTx) AppendRecord(_ context.Context, record AppliedRecord) error {
	tx.store.nextID++
	record.ID = tx.store.nextID
	tx.records = append(tx.records, record)
	return nil
}

func (tx *fakeTx) RemoveRecord(_ context.Context, key Key) error {
	for i, r := range tx.records {
		if r.Key == key && r.Kind == KindUpgrade {
			tx.records = append(tx.records[:i], tx.records[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no audit record for %s", key)
}

// fakeSource serves a fixed manifest.
type fakeSource struct {
	manifest *Manifest
	err      error
}

func (s fakeSource) Load(context.Context) (*Manifest, error) {
	return s.manifest, s.err
}
