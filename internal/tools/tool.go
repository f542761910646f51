// Package tools catalogs callable tools and executes them on behalf of
// the dialogue loop.
//
// The registry tracks tools by name and semantic version under provider
// labels, resolves version requests through a VersionManager, and can
// grow its catalog at runtime by discovering subprocess tools from
// manifest files. The invoker sits in front of the registry: it decides
// whether an utterance warrants a tool call (by rule or by model),
// executes the chosen tool with a timeout and panic isolation, and
// records every attempt as a ToolInvocation.
package tools

import (
	"context"
	"strings"
)

const (
	// MaxNameLength bounds tool names at registration.
	MaxNameLength = 256

	// MaxArgsSize bounds serialized invocation arguments (10MB).
	MaxArgsSize = 10 << 20
)

// Modalities a tool can declare.
const (
	ModalityText  = "text"
	ModalityImage = "image"
	ModalityAudio = "audio"
	ModalityVideo = "video"
	ModalityFile  = "file"
	ModalityMixed = "mixed"
)

// Tool is a callable capability. Args arrive as a decoded JSON bag; a
// plain string argument is passed under the "input" key. Implementations
// must be safe for concurrent use.
type Tool interface {
	// Name returns the catalog name (alphanumeric, underscores).
	Name() string

	// Description says what the tool does, for prompt listings.
	Description() string

	// Usage shows the caller how to shape arguments.
	Usage() string

	// Modalities lists the payload kinds the tool accepts.
	Modalities() []string

	// Invoke runs the tool and returns its text result.
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Versioned is implemented by tools that carry version metadata. Tools
// without it register as version 1.0.0 with no compatibility floor.
type Versioned interface {
	// Version returns the tool's semantic version (major.minor.patch).
	Version() string

	// MinCompatible returns the lowest request version this tool still
	// serves. Empty means any.
	MinCompatible() string

	// Deprecated reports whether callers should migrate away, with an
	// optional note naming the replacement.
	Deprecated() (bool, string)
}

// Migrator upgrades arguments shaped for an older version. The version
// manager calls it when resolution lands on a newer tool than requested.
type Migrator interface {
	// MigrateFrom rewrites args produced for fromVersion into the shape
	// this version accepts.
	MigrateFrom(fromVersion string, args map[string]any) (map[string]any, error)
}

// Triggerer lets a tool claim utterances for the rule-based decision
// mode. Text arrives lowercased and trimmed.
type Triggerer interface {
	Triggers(text string) bool
}

// Definition is the prompt-facing description of a registered tool.
type Definition struct {
	Name          string   `json:"name"`
	Version       string   `json:"version,omitempty"`
	MinCompatible string   `json:"min_compatible,omitempty"`
	Description   string   `json:"description,omitempty"`
	Usage         string   `json:"usage,omitempty"`
	Modalities    []string `json:"modalities,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	Status        string   `json:"status,omitempty"`
	Deprecated    bool     `json:"deprecated,omitempty"`
}

// Describe builds a Definition from a tool and its capabilities.
func Describe(t Tool) Definition {
	def := Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Usage:       t.Usage(),
		Modalities:  t.Modalities(),
	}
	if v, ok := t.(Versioned); ok {
		def.Version = v.Version()
		def.MinCompatible = v.MinCompatible()
		def.Deprecated, _ = v.Deprecated()
	}
	return def
}

// AcceptsModality reports whether the tool declared the given modality.
// Tools declaring mixed accept everything.
func AcceptsModality(t Tool, modality string) bool {
	for _, m := range t.Modalities() {
		if m == modality || m == ModalityMixed {
			return true
		}
	}
	return false
}

// NormalizeArgs folds a non-map argument payload into the conventional
// bag shape. Strings land under "input"; nil becomes an empty bag.
func NormalizeArgs(args any) map[string]any {
	switch v := args.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		if v == nil {
			return map[string]any{}
		}
		return v
	case string:
		return map[string]any{"input": v}
	default:
		return map[string]any{"input": v}
	}
}

// StringArg extracts a string field from an args bag, falling back to
// the "input" convention when the named key is absent.
func StringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if key != "input" {
		if v, ok := args["input"]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func validName(name string) bool {
	if name == "" || len(name) > MaxNameLength {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return false
		}
	}
	return true
}

func foldText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
