package tools

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry is the catalog of callable tools. Reads are concurrent;
// registration and discovery swaps take the write lock so observers see
// either the old catalog or the new one, never a partial state.
type Registry struct {
	mu       sync.RWMutex
	versions *VersionManager
	// providerCount tracks how many entries each provider registered.
	providerCount map[string]int
	logger        *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		versions:      NewVersionManager(),
		providerCount: make(map[string]int),
		logger:        logger.With("component", "tools"),
	}
}

// Register adds one tool under a provider label.
func (r *Registry) Register(provider string, t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.versions.Add(provider, t); err != nil {
		return err
	}
	r.providerCount[provider]++
	r.logger.Debug("tool registered",
		"tool", t.Name(),
		"provider", provider)
	return nil
}

// RegisterAll adds tools under one provider, stopping at the first
// failure.
func (r *Registry) RegisterAll(provider string, tools ...Tool) error {
	for _, t := range tools {
		if err := r.Register(provider, t); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceProvider atomically swaps every tool registered under the
// provider for the given set. On failure the previous catalog is
// restored and the error returned.
func (r *Registry) ReplaceProvider(provider string, tools []Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prevByName := make(map[string][]*versionEntry, len(r.versions.byName))
	for name, entries := range r.versions.byName {
		prevByName[name] = append([]*versionEntry(nil), entries...)
	}
	prevDefaults := make(map[string]string, len(r.versions.defaults))
	for name, v := range r.versions.defaults {
		prevDefaults[name] = v
	}
	prevCount := r.providerCount[provider]

	r.versions.RemoveProvider(provider)
	added := 0
	for _, t := range tools {
		if err := r.versions.Add(provider, t); err != nil {
			r.versions.byName = prevByName
			r.versions.defaults = prevDefaults
			return err
		}
		added++
	}
	if added == 0 {
		delete(r.providerCount, provider)
	} else {
		r.providerCount[provider] = added
	}
	r.logger.Info("provider catalog swapped",
		"provider", provider,
		"tools", added,
		"previous", prevCount)
	return nil
}

// Resolve picks the tool version serving a request. See
// VersionManager.Resolve for the precedence rules.
func (r *Registry) Resolve(name, requested string) (*Resolution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versions.Resolve(name, requested)
}

// SetDefault pins the bare-request version for a tool name.
func (r *Registry) SetDefault(name, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versions.SetDefault(name, version)
}

// SetStatus updates a version's lifecycle status.
func (r *Registry) SetStatus(name, version string, status VersionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versions.SetStatus(name, version, status)
}

// Deprecate marks a version deprecated with a caller-facing note.
func (r *Registry) Deprecate(name, version, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versions.Deprecate(name, version, note)
}

// Names lists registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versions.Names()
}

// Versions lists the registered versions for one name, oldest first.
func (r *Registry) Versions(name string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versions.Versions(name)
}

// Definitions lists the default resolution of every registered name,
// sorted by name. This is the catalog a prompt sees.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.versions.Names()
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		res, err := r.versions.Resolve(name, "")
		if err != nil {
			continue
		}
		entry := r.versions.find(name, res.Version)
		if entry == nil {
			continue
		}
		defs = append(defs, entry.definition())
	}
	return defs
}

// Count returns the total number of registered tool versions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entries := range r.versions.byName {
		n += len(entries)
	}
	return n
}

// Providers lists provider labels with registered tools, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providerCount))
	for p, n := range r.providerCount {
		if n > 0 {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Triggered returns the names of tools whose trigger predicate claims
// the utterance, checking each name's default resolution. Text is case
// folded before matching.
func (r *Registry) Triggered(text string) []string {
	folded := foldText(text)
	if folded == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var hits []string
	for _, name := range r.versions.Names() {
		res, err := r.versions.Resolve(name, "")
		if err != nil {
			continue
		}
		if trig, ok := res.Tool.(Triggerer); ok && trig.Triggers(folded) {
			hits = append(hits, name)
		}
	}
	return hits
}
