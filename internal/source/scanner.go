// Package source builds the declared migration manifest from a directory tree.
//
// The tree follows this layout:
//
//	<root>/<version>/<feature>/<order>_<name>.up.sql
//	<root>/<version>/<feature>/<order>_<name>.down.sql
//
// Version directories are semantic versions with an optional leading "v" and
// are ordered by semantic-version precedence. Feature directories are ordered
// by name. ".rollback.sql" is accepted in place of ".down.sql".
package source

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/example/dbmigrator/internal/migration"
)

var (
	scriptPattern  = regexp.MustCompile(`^(\d+)_([A-Za-z0-9][A-Za-z0-9_.-]*?)\.(up|down|rollback)\.sql$`)
	featurePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// Scanner reads a script tree from a file system.
type Scanner struct {
	fsys fs.FS
	root string
}

// NewScanner creates a Scanner rooted at root inside fsys. Use "." for the
// file system root.
func NewScanner(fsys fs.FS, root string) *Scanner {
	if root == "" {
		root = "."
	}
	return &Scanner{fsys: fsys, root: root}
}

// Load implements migration.Source.
func (s *Scanner) Load(ctx context.Context) (*migration.Manifest, error) {
	return s.Scan()
}

// Scan builds the full declared manifest.
func (s *Scanner) Scan() (*migration.Manifest, error) {
	entries, err := fs.ReadDir(s.fsys, s.root)
	if err != nil {
		return nil, &migration.ManifestParseError{Path: s.root, Err: err}
	}

	type versionDir struct {
		name   string
		semver string
	}
	var versions []versionDir
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		canonical := canonicalVersion(entry.Name())
		if canonical == "" {
			return nil, migration.NewManifestParseError(path.Join(s.root, entry.Name()),
				"version directory %q is not a semantic version", entry.Name())
		}
		versions = append(versions, versionDir{name: entry.Name(), semver: canonical})
	}

	sort.SliceStable(versions, func(i, j int) bool {
		return semver.Compare(versions[i].semver, versions[j].semver) < 0
	})
	for i := 1; i < len(versions); i++ {
		if semver.Compare(versions[i-1].semver, versions[i].semver) == 0 {
			return nil, migration.NewManifestParseError(path.Join(s.root, versions[i].name),
				"version %q duplicates %q", versions[i].name, versions[i-1].name)
		}
	}

	manifest := migration.NewManifest()
	for _, v := range versions {
		if err := s.scanVersion(manifest.AddAndOrGetVersion(v.name), path.Join(s.root, v.name)); err != nil {
			return nil, err
		}
	}
	return manifest, nil
}

func (s *Scanner) scanVersion(version *migration.Version, dir string) error {
	entries, err := fs.ReadDir(s.fsys, dir)
	if err != nil {
		return &migration.ManifestParseError{Path: dir, Err: err}
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		featureDir := path.Join(dir, entry.Name())
		if !featurePattern.MatchString(entry.Name()) {
			return migration.NewManifestParseError(featureDir, "invalid feature name %q", entry.Name())
		}
		if err := s.scanFeature(version.AddAndOrGetFeature(entry.Name()), featureDir); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) scanFeature(feature *migration.Feature, dir string) error {
	entries, err := fs.ReadDir(s.fsys, dir)
	if err != nil {
		return &migration.ManifestParseError{Path: dir, Err: err}
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		filePath := path.Join(dir, entry.Name())

		order, kind, err := ParseFileName(entry.Name())
		if err != nil {
			return &migration.ManifestParseError{Path: filePath, Err: err}
		}

		content, err := fs.ReadFile(s.fsys, filePath)
		if err != nil {
			return &migration.ManifestParseError{Path: filePath, Err: err}
		}
		if err := lintSQL(string(content)); err != nil {
			return &migration.ManifestParseError{Path: filePath, Err: err}
		}

		script, err := feature.AddScript(entry.Name(), order, kind)
		if err != nil {
			return &migration.ManifestParseError{Path: filePath, Err: err}
		}
		script.Path = filePath
		script.SetContent(content)
	}

	for _, script := range feature.Scripts {
		if script.Kind == migration.KindRollback && script.Upgrade == nil {
			return migration.NewManifestParseError(script.Path,
				"rollback script has no upgrade script with order %d", script.Order)
		}
	}
	return nil
}

// ParseFileName extracts the order and kind encoded in a script file name.
func ParseFileName(name string) (int, migration.ScriptKind, error) {
	matches := scriptPattern.FindStringSubmatch(name)
	if matches == nil {
		return 0, 0, fmt.Errorf("file name %q does not match pattern '{order}_{name}.{up|down}.sql'", name)
	}
	order, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, 0, fmt.Errorf("order %q in file name %q is not a valid number", matches[1], name)
	}
	if matches[3] == "up" {
		return order, migration.KindUpgrade, nil
	}
	return order, migration.KindRollback, nil
}

func canonicalVersion(name string) string {
	v := name
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}
