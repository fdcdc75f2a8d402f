package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ScriptKind distinguishes upgrade scripts from the rollback scripts that undo them.
type ScriptKind int

const (
	// KindUpgrade moves the schema forward.
	KindUpgrade ScriptKind = iota
	// KindRollback reverses the upgrade script sharing its feature and order.
	KindRollback
)

// String returns the name persisted in the audit table.
func (k ScriptKind) String() string {
	switch k {
	case KindUpgrade:
		return "Upgrade"
	case KindRollback:
		return "Rollback"
	default:
		return fmt.Sprintf("ScriptKind(%d)", int(k))
	}
}

// ParseScriptKind parses a persisted kind name. "Downgrade" is accepted as an
// alias of Rollback.
func ParseScriptKind(s string) (ScriptKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "upgrade":
		return KindUpgrade, nil
	case "rollback", "downgrade":
		return KindRollback, nil
	}
	return 0, fmt.Errorf("unknown script kind %q", s)
}

// Checksum is the lowercase hex SHA-256 digest of a script's raw content.
type Checksum string

// ComputeChecksum returns the checksum of content. Identical bytes always
// produce an identical checksum regardless of where they were read from.
func ComputeChecksum(content []byte) Checksum {
	sum := sha256.Sum256(content)
	return Checksum(hex.EncodeToString(sum[:]))
}

// Key identifies a script position in the total execution order.
type Key struct {
	Version string
	Feature string
	Order   int
}

// String renders the key as version/feature/order.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Version, k.Feature, k.Order)
}

// Script is one migration unit.
type Script struct {
	FileName string
	Order    int
	Kind     ScriptKind
	Content  string
	Checksum Checksum
	// Path locates the script in its source, for diagnostics.
	Path string

	// ExecutionTime and AppliedAt are zero until the script has run.
	ExecutionTime time.Duration
	AppliedAt     time.Time

	// Rollback is the paired rollback of an upgrade script, or nil when the step
	// is irreversible. Upgrade points from a rollback back to its upgrade.
	Rollback *Script
	Upgrade  *Script

	feature *Feature
}

// Feature returns the feature owning the script.
func (s *Script) Feature() *Feature {
	return s.feature
}

// Key returns the script's (version, feature, order) key.
func (s *Script) Key() Key {
	k := Key{Order: s.Order}
	if s.feature != nil {
		k.Feature = s.feature.Name
		if s.feature.version != nil {
			k.Version = s.feature.version.Name
		}
	}
	return k
}

// SetContent stores content and its checksum.
func (s *Script) SetContent(content []byte) {
	s.Content = string(content)
	s.Checksum = ComputeChecksum(content)
}

// Feature groups ordered scripts inside a version.
type Feature struct {
	Name    string
	Scripts []*Script

	version *Version
}

// Version returns the version owning the feature.
func (f *Feature) Version() *Version {
	return f.version
}

// AddScript inserts a script keyed by (order, kind). Adding the same file name
// again for an existing key returns the existing script; a different file name
// for an occupied key is a ModelConflict. Scripts stay sorted by order with the
// upgrade ahead of its rollback.
func (f *Feature) AddScript(fileName string, order int, kind ScriptKind) (*Script, error) {
	if existing := f.Script(order, kind); existing != nil {
		if existing.FileName == fileName {
			return existing, nil
		}
		return nil, &ModelConflict{
			Key:       Key{Version: f.versionName(), Feature: f.Name, Order: order},
			Kind:      kind,
			Existing:  existing.FileName,
			Duplicate: fileName,
		}
	}

	script := &Script{FileName: fileName, Order: order, Kind: kind, feature: f}
	switch kind {
	case KindUpgrade:
		if rb := f.Script(order, KindRollback); rb != nil {
			script.Rollback = rb
			rb.Upgrade = script
		}
	case KindRollback:
		if up := f.Script(order, KindUpgrade); up != nil {
			up.Rollback = script
			script.Upgrade = up
		}
	}

	f.Scripts = append(f.Scripts, script)
	sort.SliceStable(f.Scripts, func(i, j int) bool {
		if f.Scripts[i].Order != f.Scripts[j].Order {
			return f.Scripts[i].Order < f.Scripts[j].Order
		}
		return f.Scripts[i].Kind < f.Scripts[j].Kind
	})
	return script, nil
}

// Script returns the script at (order, kind), or nil.
func (f *Feature) Script(order int, kind ScriptKind) *Script {
	for _, s := range f.Scripts {
		if s.Order == order && s.Kind == kind {
			return s
		}
	}
	return nil
}

// Upgrades returns the feature's upgrade scripts in ascending order.
func (f *Feature) Upgrades() []*Script {
	out := make([]*Script, 0, len(f.Scripts))
	for _, s := range f.Scripts {
		if s.Kind == KindUpgrade {
			out = append(out, s)
		}
	}
	return out
}

func (f *Feature) versionName() string {
	if f.version == nil {
		return ""
	}
	return f.version.Name
}

// Version is a named milestone owning features in declaration order.
type Version struct {
	Name     string
	Features []*Feature
}

// NewVersion returns an empty version.
func NewVersion(name string) *Version {
	return &Version{Name: name}
}

// AddAndOrGetFeature returns the named feature, appending it when first seen.
func (v *Version) AddAndOrGetFeature(name string) *Feature {
	if f := v.Feature(name); f != nil {
		return f
	}
	f := &Feature{Name: name, version: v}
	v.Features = append(v.Features, f)
	return f
}

// Feature returns the named feature, or nil.
func (v *Version) Feature(name string) *Feature {
	for _, f := range v.Features {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Manifest is an ordered sequence of versions. The filesystem source and the
// database state store each build one.
type Manifest struct {
	Versions []*Version
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{}
}

// AddAndOrGetVersion returns the named version, appending it when first seen.
func (m *Manifest) AddAndOrGetVersion(name string) *Version {
	if v := m.Version(name); v != nil {
		return v
	}
	v := NewVersion(name)
	m.Versions = append(m.Versions, v)
	return v
}

// Version returns the named version, or nil.
func (m *Manifest) Version(name string) *Version {
	if i := m.Index(name); i >= 0 {
		return m.Versions[i]
	}
	return nil
}

// Index returns the declared position of the named version, or -1.
func (m *Manifest) Index(name string) int {
	if m == nil {
		return -1
	}
	for i, v := range m.Versions {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// Latest returns the last declared version, or nil for an empty manifest.
func (m *Manifest) Latest() *Version {
	if m == nil || len(m.Versions) == 0 {
		return nil
	}
	return m.Versions[len(m.Versions)-1]
}

// UpTo returns a manifest holding the versions from the first one up to and
// including target. An empty target selects every version.
func (m *Manifest) UpTo(target string) (*Manifest, error) {
	if target == "" {
		return &Manifest{Versions: append([]*Version(nil), m.Versions...)}, nil
	}
	i := m.Index(target)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, target)
	}
	return &Manifest{Versions: append([]*Version(nil), m.Versions[:i+1]...)}, nil
}

// Script looks up a script by key and kind.
func (m *Manifest) Script(key Key, kind ScriptKind) *Script {
	v := m.Version(key.Version)
	if v == nil {
		return nil
	}
	f := v.Feature(key.Feature)
	if f == nil {
		return nil
	}
	return f.Script(key.Order, kind)
}

// Upgrades returns every upgrade script in declaration order: version, then
// feature, then order.
func (m *Manifest) Upgrades() []*Script {
	var out []*Script
	if m == nil {
		return out
	}
	for _, v := range m.Versions {
		for _, f := range v.Features {
			out = append(out, f.Upgrades()...)
		}
	}
	return out
}

// Len returns the number of upgrade scripts in the manifest.
func (m *Manifest) Len() int {
	return len(m.Upgrades())
}
