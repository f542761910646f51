package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Manifest describes one subprocess tool: the executable to run and
// the catalog metadata to register it under. Manifests live in
// *.tool.yaml files inside the discovery roots.
type Manifest struct {
	Name          string   `yaml:"name" json:"name"`
	Version       string   `yaml:"version" json:"version"`
	MinCompatible string   `yaml:"min_compatible,omitempty" json:"min_compatible,omitempty"`
	Status        string   `yaml:"status,omitempty" json:"status,omitempty"`
	Default       bool     `yaml:"default,omitempty" json:"default,omitempty"`
	Description   string   `yaml:"description,omitempty" json:"description,omitempty"`
	Usage         string   `yaml:"usage,omitempty" json:"usage,omitempty"`
	Modalities    []string `yaml:"modalities,omitempty" json:"modalities,omitempty"`
	Triggers      []string `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Command       []string `yaml:"command" json:"command"`
	TimeoutMS     int      `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "version", "command"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 256, "pattern": "^[A-Za-z0-9_.-]+$"},
    "version": {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
    "min_compatible": {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
    "status": {"enum": ["active", "deprecated", "experimental", "stable", "legacy"]},
    "default": {"type": "boolean"},
    "description": {"type": "string"},
    "usage": {"type": "string"},
    "modalities": {"type": "array", "items": {"enum": ["text", "image", "audio", "video", "file", "mixed"]}},
    "triggers": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "command": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
    "timeout_ms": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": false
}`

var (
	compiledManifestSchema     *jsonschema.Schema
	compiledManifestSchemaOnce sync.Once
)

func manifestValidator() *jsonschema.Schema {
	compiledManifestSchemaOnce.Do(func() {
		compiledManifestSchema = jsonschema.MustCompileString("tool.manifest.json", manifestSchema)
	})
	return compiledManifestSchema
}

// DecodeManifest parses and schema-validates manifest bytes.
func DecodeManifest(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	// Round-trip through JSON so the validator sees canonical types.
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := manifestValidator().Validate(decoded); err != nil {
		return nil, fmt.Errorf("manifest invalid: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// DecodeManifestFile reads and decodes one manifest file.
func DecodeManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return DecodeManifest(data)
}

func isManifestFilename(name string) bool {
	return strings.HasSuffix(name, ".tool.yaml") || strings.HasSuffix(name, ".tool.yml")
}

// Discovered is one manifest found during a scan.
type Discovered struct {
	Manifest *Manifest
	Path     string
	Checksum string
}

// Discovery scans filesystem roots for tool manifests and keeps the
// registry's discovered catalog in sync. Each root registers its tools
// under the provider label "discovery:<root>"; a rescan swaps a root's
// catalog atomically and only when a manifest checksum changed.
type Discovery struct {
	registry *Registry
	roots    []string
	logger   *slog.Logger

	mu sync.Mutex
	// applied maps root -> manifest path -> checksum of the last
	// catalog swap, so unchanged roots skip their swap.
	applied map[string]map[string]string
}

// NewDiscovery builds a discovery pass over the given roots. Roots that
// do not exist are skipped silently so configs can list optional dirs.
func NewDiscovery(registry *Registry, roots []string, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	normalized := make([]string, 0, len(roots))
	seen := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		root = filepath.Clean(root)
		if _, dup := seen[root]; dup {
			continue
		}
		seen[root] = struct{}{}
		normalized = append(normalized, root)
	}
	return &Discovery{
		registry: registry,
		roots:    normalized,
		logger:   logger.With("component", "tools"),
		applied:  make(map[string]map[string]string),
	}
}

// Roots returns the normalized discovery roots.
func (d *Discovery) Roots() []string {
	out := make([]string, len(d.roots))
	copy(out, d.roots)
	return out
}

// Provider returns the registry provider label for a root.
func Provider(root string) string {
	return "discovery:" + filepath.Clean(root)
}

// Scan walks every root and swaps changed catalogs into the registry.
// Per-file failures are logged and skipped; they never abort the scan.
// Returns the number of roots whose catalog changed.
func (d *Discovery) Scan() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed := 0
	for _, root := range d.roots {
		found, err := d.scanRoot(root)
		if err != nil {
			return changed, err
		}

		checksums := make(map[string]string, len(found))
		for _, disc := range found {
			checksums[disc.Path] = disc.Checksum
		}
		if sameChecksums(d.applied[root], checksums) {
			continue
		}

		tools := make([]Tool, 0, len(found))
		var defaults [][2]string
		var statuses [][3]string
		seen := make(map[string]string, len(found))
		for _, disc := range found {
			m := disc.Manifest
			key := m.Name + "@" + m.Version
			if prev, dup := seen[key]; dup {
				d.logger.Warn("duplicate tool manifest skipped",
					"tool", m.Name,
					"version", m.Version,
					"path", disc.Path,
					"first", prev)
				continue
			}
			seen[key] = disc.Path
			tools = append(tools, NewSubprocessTool(m, filepath.Dir(disc.Path)))
			if m.Default {
				defaults = append(defaults, [2]string{m.Name, m.Version})
			}
			if m.Status != "" && m.Status != string(StatusActive) {
				statuses = append(statuses, [3]string{m.Name, m.Version, m.Status})
			}
		}

		if err := d.registry.ReplaceProvider(Provider(root), tools); err != nil {
			d.logger.Error("catalog swap failed",
				"root", root,
				"error", err)
			continue
		}
		for _, s := range statuses {
			status, perr := ParseStatus(s[2])
			if perr != nil {
				continue
			}
			if serr := d.registry.SetStatus(s[0], s[1], status); serr != nil {
				d.logger.Warn("status apply failed", "tool", s[0], "version", s[1], "error", serr)
			}
		}
		for _, def := range defaults {
			if derr := d.registry.SetDefault(def[0], def[1]); derr != nil {
				d.logger.Warn("default apply failed", "tool", def[0], "version", def[1], "error", derr)
			}
		}
		d.applied[root] = checksums
		changed++
		d.logger.Info("discovery catalog updated",
			"root", root,
			"manifests", len(found),
			"tools", len(tools))
	}
	return changed, nil
}

// scanRoot collects valid manifests under one root, sorted by path for
// deterministic registration order.
func (d *Discovery) scanRoot(root string) ([]*Discovered, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat discovery root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("discovery root %s is not a directory", root)
	}

	var found []*Discovered
	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !isManifestFilename(entry.Name()) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			d.logger.Warn("manifest unreadable", "path", path, "error", err)
			return nil
		}
		m, err := DecodeManifest(data)
		if err != nil {
			d.logger.Warn("manifest rejected", "path", path, "error", err)
			return nil
		}
		sum := sha256.Sum256(data)
		found = append(found, &Discovered{
			Manifest: m,
			Path:     path,
			Checksum: hex.EncodeToString(sum[:]),
		})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk discovery root: %w", walkErr)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found, nil
}

func sameChecksums(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for path, sum := range a {
		if b[path] != sum {
			return false
		}
	}
	return true
}
