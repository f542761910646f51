// Package contextproc turns side-channel facts into a normalized
// context object and renders that object into the model prompt. A
// handler registry normalizes per kind; the injector places the
// rendered block according to mode and priority.
package contextproc

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Kind selects the normalization handler for a side-channel payload.
type Kind string

const (
	KindGeneral         Kind = "general"
	KindUserProfile     Kind = "user_profile"
	KindDomain          Kind = "domain"
	KindSystem          Kind = "system"
	KindDialogueHistory Kind = "dialogue_history"
	KindLocation        Kind = "location"
)

// maxHistoryTurns bounds how much dialogue history a context carries.
const maxHistoryTurns = 10

// denylist names the key fragments that never reach the prompt.
var denylist = []string{"password", "token", "secret", "credential", "auth"}

// HistoryTurn is one transcript line of normalized dialogue history.
type HistoryTurn struct {
	Speaker string
	Text    string
}

// Context is a normalized side-channel payload: scalar facts, list
// facts, and (for dialogue history) transcript turns. Redacted records
// the keys the denylist stripped.
type Context struct {
	Kind     Kind
	Fields   map[string]string
	Lists    map[string][]string
	Turns    []HistoryTurn
	Latest   string
	Redacted []string
}

// Handler normalizes raw payloads for the kinds it accepts.
type Handler interface {
	Accepts(kind Kind) bool
	Process(raw map[string]any) (*Context, error)
}

// Processor routes payloads to the handler accepting their kind. An
// unknown kind falls back to the general handler.
type Processor struct {
	mu       sync.RWMutex
	handlers []Handler
	fallback Handler
	logger   *slog.Logger
}

// NewProcessor creates a processor with the built-in handlers
// registered.
func NewProcessor(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		fallback: generalHandler{},
		logger:   logger.With("component", "contextproc"),
	}
	p.Register(userProfileHandler{})
	p.Register(domainHandler{})
	p.Register(systemHandler{})
	p.Register(dialogueHistoryHandler{})
	p.Register(locationHandler{})
	return p
}

// Register adds a handler. Later registrations win on overlap.
func (p *Processor) Register(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append([]Handler{h}, p.handlers...)
}

// Process normalizes one side-channel payload. A nil or empty payload
// yields a nil context; callers treat that as nothing to inject.
func (p *Processor) Process(raw map[string]any) (*Context, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	kind := KindGeneral
	if v, ok := raw["kind"]; ok {
		kind = Kind(strings.ToLower(strings.TrimSpace(coerce(v))))
	}

	clean, redacted := sanitize(raw)

	p.mu.RLock()
	handler := p.fallback
	for _, h := range p.handlers {
		if h.Accepts(kind) {
			handler = h
			break
		}
	}
	p.mu.RUnlock()

	ctx, err := handler.Process(clean)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		return nil, nil
	}
	if ctx.Kind == "" {
		ctx.Kind = kind
	}
	ctx.Redacted = redacted
	if len(redacted) > 0 {
		p.logger.Debug("context keys redacted", "kind", ctx.Kind, "keys", redacted)
	}
	return ctx, nil
}

// sanitize strips denylisted keys at every nesting level and reports
// which top-level names were dropped. Matching is case-insensitive on
// key fragments, so api_token and AuthHeader both disappear.
func sanitize(raw map[string]any) (map[string]any, []string) {
	clean := make(map[string]any, len(raw))
	var redacted []string
	for key, value := range raw {
		if deniedKey(key) {
			redacted = append(redacted, key)
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			sub, subRedacted := sanitize(nested)
			redacted = append(redacted, subRedacted...)
			clean[key] = sub
			continue
		}
		clean[key] = value
	}
	sort.Strings(redacted)
	return clean, redacted
}

func deniedKey(key string) bool {
	lower := strings.ToLower(key)
	for _, bad := range denylist {
		if strings.Contains(lower, bad) {
			return true
		}
	}
	return false
}

// coerce renders any value as prompt text: strings pass through
// verbatim, everything else goes through %v.
func coerce(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// coerceList flattens a value into string entries. Maps become sorted
// "key: value" lines so rendering is deterministic.
func coerceList(v any) []string {
	switch typed := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), typed...)
	case []any:
		out := make([]string, 0, len(typed))
		for _, entry := range typed {
			out = append(out, coerce(entry))
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for k := range typed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, k+": "+coerce(typed[k]))
		}
		return out
	default:
		return []string{coerce(v)}
	}
}

// sortedKeys returns the map's keys in stable order, skipping the kind
// selector.
func sortedKeys(raw map[string]any) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		if k == "kind" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
