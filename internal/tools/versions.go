package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blang/semver/v4"

	"github.com/haasonsaas/rapport/internal/errs"
)

// VersionStatus classifies a registered version's lifecycle.
type VersionStatus string

const (
	StatusActive       VersionStatus = "active"
	StatusDeprecated   VersionStatus = "deprecated"
	StatusExperimental VersionStatus = "experimental"
	StatusStable       VersionStatus = "stable"
	StatusLegacy       VersionStatus = "legacy"
)

// ParseStatus validates a status string, defaulting empty to active.
func ParseStatus(s string) (VersionStatus, error) {
	switch VersionStatus(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return StatusActive, nil
	case StatusActive:
		return StatusActive, nil
	case StatusDeprecated:
		return StatusDeprecated, nil
	case StatusExperimental:
		return StatusExperimental, nil
	case StatusStable:
		return StatusStable, nil
	case StatusLegacy:
		return StatusLegacy, nil
	default:
		return "", fmt.Errorf("unknown version status %q", s)
	}
}

// versionEntry ties one registered tool version to its metadata.
type versionEntry struct {
	tool     Tool
	provider string
	version  semver.Version
	// floor is the lowest request version this entry serves. Defaults
	// to the entry's own version.
	floor      semver.Version
	status     VersionStatus
	deprecated bool
	note       string
}

func (e *versionEntry) definition() Definition {
	def := Describe(e.tool)
	def.Version = e.version.String()
	def.MinCompatible = e.floor.String()
	def.Provider = e.provider
	def.Status = string(e.status)
	def.Deprecated = e.deprecated
	return def
}

// Resolution is the outcome of a version lookup.
type Resolution struct {
	Tool          Tool
	Name          string
	Version       string
	MinCompatible string
	Provider      string
	Status        VersionStatus

	// Deprecated is set when the resolved version is marked deprecated;
	// Notice carries the caller-facing warning.
	Deprecated bool
	Notice     string
}

// VersionManager indexes tool versions per name and answers resolution
// requests. It is not synchronized; the Registry serializes access
// under its own lock.
type VersionManager struct {
	byName   map[string][]*versionEntry // ascending by version
	defaults map[string]string          // name -> explicitly set default
}

// NewVersionManager returns an empty index.
func NewVersionManager() *VersionManager {
	return &VersionManager{
		byName:   make(map[string][]*versionEntry),
		defaults: make(map[string]string),
	}
}

// Add registers a tool version under a provider label. Version metadata
// comes from the Versioned capability; plain tools register as 1.0.0.
// Name+version pairs are unique across providers.
func (vm *VersionManager) Add(provider string, t Tool) error {
	const op = "tools.VersionManager.Add"
	if t == nil {
		return errs.E(errs.KindInvalidArgument, op, "tool is nil")
	}
	name := strings.TrimSpace(t.Name())
	if !validName(name) {
		return errs.Errorf(errs.KindInvalidArgument, op, "invalid tool name %q", name)
	}

	rawVersion := "1.0.0"
	rawFloor := ""
	deprecated := false
	note := ""
	if v, ok := t.(Versioned); ok {
		if s := strings.TrimSpace(v.Version()); s != "" {
			rawVersion = s
		}
		rawFloor = strings.TrimSpace(v.MinCompatible())
		deprecated, note = v.Deprecated()
	}

	version, err := semver.Parse(rawVersion)
	if err != nil {
		return errs.Errorf(errs.KindInvalidArgument, op, "tool %s: bad version %q: %v", name, rawVersion, err)
	}
	floor := version
	if rawFloor != "" {
		floor, err = semver.Parse(rawFloor)
		if err != nil {
			return errs.Errorf(errs.KindInvalidArgument, op, "tool %s: bad min_compatible %q: %v", name, rawFloor, err)
		}
		if floor.GT(version) {
			return errs.Errorf(errs.KindInvalidArgument, op, "tool %s: min_compatible %s exceeds version %s", name, floor, version)
		}
	}

	entries := vm.byName[name]
	for _, e := range entries {
		if e.version.EQ(version) {
			return errs.Errorf(errs.KindInvalidArgument, op, "tool %s version %s already registered by provider %s", name, version, e.provider)
		}
	}

	entry := &versionEntry{
		tool:       t,
		provider:   provider,
		version:    version,
		floor:      floor,
		status:     StatusActive,
		deprecated: deprecated,
		note:       note,
	}
	if deprecated {
		entry.status = StatusDeprecated
	}
	entries = append(entries, entry)
	sort.Slice(entries, func(i, j int) bool { return entries[i].version.LT(entries[j].version) })
	vm.byName[name] = entries
	return nil
}

// RemoveProvider drops every version registered under the provider and
// reports how many entries were removed. Explicit defaults pointing at
// removed versions are cleared.
func (vm *VersionManager) RemoveProvider(provider string) int {
	removed := 0
	for name, entries := range vm.byName {
		kept := entries[:0]
		for _, e := range entries {
			if e.provider == provider {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(vm.byName, name)
			delete(vm.defaults, name)
			continue
		}
		vm.byName[name] = kept
		if def, ok := vm.defaults[name]; ok && vm.find(name, def) == nil {
			delete(vm.defaults, name)
		}
	}
	return removed
}

// SetDefault pins the version returned for requests that name no
// version.
func (vm *VersionManager) SetDefault(name, version string) error {
	const op = "tools.VersionManager.SetDefault"
	e := vm.find(name, version)
	if e == nil {
		return errs.Errorf(errs.KindNotFound, op, "tool %s version %s not registered", name, version)
	}
	vm.defaults[name] = e.version.String()
	return nil
}

// SetStatus updates the lifecycle status of a registered version.
func (vm *VersionManager) SetStatus(name, version string, status VersionStatus) error {
	const op = "tools.VersionManager.SetStatus"
	e := vm.find(name, version)
	if e == nil {
		return errs.Errorf(errs.KindNotFound, op, "tool %s version %s not registered", name, version)
	}
	e.status = status
	if status == StatusDeprecated {
		e.deprecated = true
	}
	return nil
}

// Deprecate marks a version deprecated with a caller-facing note.
func (vm *VersionManager) Deprecate(name, version, note string) error {
	const op = "tools.VersionManager.Deprecate"
	e := vm.find(name, version)
	if e == nil {
		return errs.Errorf(errs.KindNotFound, op, "tool %s version %s not registered", name, version)
	}
	e.deprecated = true
	e.status = StatusDeprecated
	if note != "" {
		e.note = note
	}
	return nil
}

// Resolve picks the version serving a request.
//
// With a requested version: an exact match wins even when deprecated
// (the resolution carries a notice); otherwise the highest version V
// whose span covers the request (floor <= requested <= V) wins and the
// caller migrates arguments. Without one: the explicit default, then
// the newest non-experimental, then the newest version overall, in each
// tier skipping deprecated versions while an alternative exists.
func (vm *VersionManager) Resolve(name, requested string) (*Resolution, error) {
	const op = "tools.VersionManager.Resolve"
	entries := vm.byName[name]
	if len(entries) == 0 {
		return nil, errs.Errorf(errs.KindNotFound, op, "tool %s not registered", name)
	}

	requested = strings.TrimSpace(requested)
	if requested == "" {
		return resolution(name, vm.pickDefault(entries, vm.defaults[name])), nil
	}

	want, err := semver.Parse(requested)
	if err != nil {
		return nil, errs.Errorf(errs.KindInvalidArgument, op, "bad version %q: %v", requested, err)
	}

	// Exact match first, even when deprecated.
	for _, e := range entries {
		if e.version.EQ(want) {
			return resolution(name, e), nil
		}
	}

	// Highest version whose compatibility span covers the request.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.version.GTE(want) && e.floor.LTE(want) {
			return resolution(name, e), nil
		}
	}

	newest := entries[len(entries)-1]
	return nil, errs.Errorf(errs.KindIncompatibleVersion, op,
		"tool %s has no version compatible with %s (closest: %s)", name, want, newest.version)
}

// Versions lists the registered versions for a name, oldest first.
func (vm *VersionManager) Versions(name string) []Definition {
	entries := vm.byName[name]
	defs := make([]Definition, 0, len(entries))
	for _, e := range entries {
		defs = append(defs, e.definition())
	}
	return defs
}

// Names lists every registered tool name, sorted.
func (vm *VersionManager) Names() []string {
	names := make([]string, 0, len(vm.byName))
	for name := range vm.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default reports the version Resolve would pick for a bare request.
func (vm *VersionManager) Default(name string) (string, bool) {
	entries := vm.byName[name]
	if len(entries) == 0 {
		return "", false
	}
	return vm.pickDefault(entries, vm.defaults[name]).version.String(), true
}

func (vm *VersionManager) find(name, version string) *versionEntry {
	want, err := semver.Parse(strings.TrimSpace(version))
	if err != nil {
		return nil
	}
	for _, e := range vm.byName[name] {
		if e.version.EQ(want) {
			return e
		}
	}
	return nil
}

// pickDefault applies the bare-request precedence: explicit default,
// newest non-experimental, newest overall. Deprecated versions are
// passed over at every tier; when everything is deprecated the newest
// version wins and the resolution carries its notice.
func (vm *VersionManager) pickDefault(entries []*versionEntry, explicit string) *versionEntry {
	if explicit != "" {
		for _, e := range entries {
			if e.version.String() == explicit && !e.deprecated {
				return e
			}
		}
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !e.deprecated && e.status != StatusExperimental {
			return e
		}
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].deprecated {
			return entries[i]
		}
	}
	return entries[len(entries)-1]
}

func resolution(name string, e *versionEntry) *Resolution {
	res := &Resolution{
		Tool:          e.tool,
		Name:          name,
		Version:       e.version.String(),
		MinCompatible: e.floor.String(),
		Provider:      e.provider,
		Status:        e.status,
		Deprecated:    e.deprecated,
	}
	if e.deprecated {
		res.Notice = e.note
		if res.Notice == "" {
			res.Notice = fmt.Sprintf("%s %s is deprecated", name, e.version)
		}
	}
	return res
}

// MigrateArgs upgrades args shaped for fromVersion when the resolved
// tool knows how; otherwise args pass through unchanged.
func MigrateArgs(res *Resolution, fromVersion string, args map[string]any) (map[string]any, error) {
	m, ok := res.Tool.(Migrator)
	if !ok || fromVersion == "" || fromVersion == res.Version {
		return args, nil
	}
	migrated, err := m.MigrateFrom(fromVersion, args)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "tools.MigrateArgs", err)
	}
	if migrated == nil {
		migrated = map[string]any{}
	}
	return migrated, nil
}

// Series renders a version as its major line ("1.x"), the conventional
// fromVersion for migrating bare legacy arguments.
func Series(version string) string {
	v, err := semver.Parse(strings.TrimSpace(version))
	if err != nil {
		return version
	}
	return fmt.Sprintf("%d.x", v.Major)
}
