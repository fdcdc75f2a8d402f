package migration

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Direction tells whether a plan moves the schema forward or backward.
type Direction int

const (
	Up Direction = iota
	Down
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Down {
		return "Downgrade"
	}
	return "Upgrade"
}

// Step is one entry of a plan. Script is what runs; Applied is the upgrade
// script whose audit record the step creates (Up) or removes (Down).
type Step struct {
	Key     Key
	Script  *Script
	Applied *Script
}

// Plan is the ordered work list produced by the differ.
type Plan struct {
	Direction Direction
	From      string
	Target    string
	Steps     []Step
}

// Empty reports whether the plan has nothing to do.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Steps) == 0
}

// String renders the plan for operator review.
func (p *Plan) String() string {
	var b strings.Builder
	from := p.From
	if from == "" {
		from = "empty database"
	}
	if p.Empty() {
		fmt.Fprintf(&b, "%s to %s: nothing to do (database at %s)\n", p.Direction, p.Target, from)
		return b.String()
	}
	fmt.Fprintf(&b, "%s from %s to %s (%d scripts):\n", p.Direction, from, p.Target, len(p.Steps))
	for i, step := range p.Steps {
		fmt.Fprintf(&b, "  %d. %s %s\n", i+1, step.Key, step.Script.FileName)
	}
	return b.String()
}

// ordering is the total order over keys: version by declared position, then
// feature by first-seen position within its version, then numeric order.
type ordering struct {
	versions map[string]int
	features map[string]int
}

func newOrdering(manifests ...*Manifest) ordering {
	o := ordering{versions: make(map[string]int), features: make(map[string]int)}
	for _, m := range manifests {
		if m == nil {
			continue
		}
		for _, v := range m.Versions {
			if _, ok := o.versions[v.Name]; !ok {
				o.versions[v.Name] = len(o.versions)
			}
			for _, f := range v.Features {
				fk := v.Name + "\x00" + f.Name
				if _, ok := o.features[fk]; !ok {
					o.features[fk] = len(o.features)
				}
			}
		}
	}
	return o
}

func (o ordering) version(name string) int {
	if pos, ok := o.versions[name]; ok {
		return pos
	}
	return -1
}

func (o ordering) less(a, b Key) bool {
	if va, vb := o.version(a.Version), o.version(b.Version); va != vb {
		return va < vb
	}
	if a.Feature != b.Feature {
		return o.features[a.Version+"\x00"+a.Feature] < o.features[b.Version+"\x00"+b.Feature]
	}
	return a.Order < b.Order
}

// CurrentVersion returns the applied version that sits furthest along the
// declared order, or "" when nothing is applied.
func CurrentVersion(declared, applied *Manifest) string {
	order := newOrdering(declared, applied)
	current, pos := "", -1
	if applied == nil {
		return current
	}
	for _, v := range applied.Versions {
		if len(v.Features) == 0 {
			continue
		}
		if p := order.version(v.Name); p > pos {
			current, pos = v.Name, p
		}
	}
	return current
}

// UpgradeDiff returns, in ascending key order, every declared upgrade script up
// to and including target that has not been applied. An empty target means the
// latest declared version. A target preceding the current version yields an
// empty plan.
func UpgradeDiff(declared, applied *Manifest, target string) (*Plan, error) {
	if target == "" {
		if latest := declared.Latest(); latest != nil {
			target = latest.Name
		}
	}
	current := CurrentVersion(declared, applied)
	plan := &Plan{Direction: Up, From: current, Target: target}
	if target == "" {
		return plan, nil
	}

	upTo, err := declared.UpTo(target)
	if err != nil {
		return nil, err
	}

	order := newOrdering(declared, applied)
	if current != "" && order.version(target) < order.version(current) {
		return plan, nil
	}

	for _, script := range upTo.Upgrades() {
		key := script.Key()
		if applied.Script(key, KindUpgrade) != nil {
			continue
		}
		plan.Steps = append(plan.Steps, Step{Key: key, Script: script, Applied: script})
	}

	sort.SliceStable(plan.Steps, func(i, j int) bool {
		return order.less(plan.Steps[i].Key, plan.Steps[j].Key)
	})
	return plan, nil
}

// DowngradeDiff returns, in descending key order, the rollback script of every
// applied upgrade whose version lies strictly after target. Applied upgrades
// without a declared rollback are reported as MissingRollbackScript.
func DowngradeDiff(applied, declared *Manifest, target string) (*Plan, error) {
	if target == "" {
		return nil, fmt.Errorf("%w: downgrade requires a target version", ErrUnknownVersion)
	}
	if declared.Index(target) < 0 && applied.Index(target) < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, target)
	}

	order := newOrdering(declared, applied)
	plan := &Plan{Direction: Down, From: CurrentVersion(declared, applied), Target: target}
	limit := order.version(target)

	var reverse []*Script
	for _, script := range applied.Upgrades() {
		if order.version(script.Key().Version) > limit {
			reverse = append(reverse, script)
		}
	}
	sort.SliceStable(reverse, func(i, j int) bool {
		return order.less(reverse[j].Key(), reverse[i].Key())
	})

	var missing []error
	for _, script := range reverse {
		key := script.Key()
		rollback := declared.Script(key, KindRollback)
		if rollback == nil {
			missing = append(missing, &MissingRollbackScript{Key: key, FileName: script.FileName})
			continue
		}
		plan.Steps = append(plan.Steps, Step{Key: key, Script: rollback, Applied: script})
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}
	return plan, nil
}
