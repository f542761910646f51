package tools

import (
	"testing"

	"github.com/haasonsaas/rapport/internal/errs"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.RegisterAll("builtin",
		&fakeTool{name: "echo", version: "1.0.0", triggers: []string{"echo"}},
		&fakeTool{name: "clock", version: "1.0.0"},
	); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}

	if got := r.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}
	if names := r.Names(); len(names) != 2 || names[0] != "clock" || names[1] != "echo" {
		t.Fatalf("Names() = %v", names)
	}
	if providers := r.Providers(); len(providers) != 1 || providers[0] != "builtin" {
		t.Fatalf("Providers() = %v", providers)
	}

	res, err := r.Resolve("echo", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Provider != "builtin" || res.Version != "1.0.0" {
		t.Fatalf("Resolve() = %+v", res)
	}

	if _, err := r.Resolve("nope", ""); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("Resolve(nope) error = %v, want not_found", err)
	}
}

func TestRegistryReplaceProvider(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register("builtin", &fakeTool{name: "echo", version: "1.0.0"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.ReplaceProvider("discovery:/tools", []Tool{
		&fakeTool{name: "weather", version: "1.0.0"},
		&fakeTool{name: "weather", version: "2.0.0"},
	}); err != nil {
		t.Fatalf("ReplaceProvider() error = %v", err)
	}
	if got := r.Count(); got != 3 {
		t.Fatalf("Count() = %d, want 3", got)
	}

	// Swapping the provider again replaces its catalog wholesale.
	if err := r.ReplaceProvider("discovery:/tools", []Tool{
		&fakeTool{name: "translate", version: "1.0.0"},
	}); err != nil {
		t.Fatalf("ReplaceProvider() error = %v", err)
	}
	if _, err := r.Resolve("weather", ""); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("Resolve(weather) error = %v, want not_found after swap", err)
	}
	if _, err := r.Resolve("translate", ""); err != nil {
		t.Fatalf("Resolve(translate) error = %v", err)
	}
	if _, err := r.Resolve("echo", ""); err != nil {
		t.Fatalf("Resolve(echo) error = %v, builtin must survive the swap", err)
	}

	// Swapping to an empty set removes the provider entirely.
	if err := r.ReplaceProvider("discovery:/tools", nil); err != nil {
		t.Fatalf("ReplaceProvider(nil) error = %v", err)
	}
	if providers := r.Providers(); len(providers) != 1 || providers[0] != "builtin" {
		t.Fatalf("Providers() = %v, want [builtin]", providers)
	}
}

func TestRegistryReplaceProviderRollback(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register("builtin", &fakeTool{name: "echo", version: "1.0.0"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.ReplaceProvider("discovery:/tools", []Tool{
		&fakeTool{name: "weather", version: "1.0.0"},
	}); err != nil {
		t.Fatalf("ReplaceProvider() error = %v", err)
	}

	// The second tool collides with builtin's echo, so the whole swap
	// must fail and the previous catalog survive.
	err := r.ReplaceProvider("discovery:/tools", []Tool{
		&fakeTool{name: "translate", version: "1.0.0"},
		&fakeTool{name: "echo", version: "1.0.0"},
	})
	if !errs.IsKind(err, errs.KindInvalidArgument) {
		t.Fatalf("ReplaceProvider() error = %v, want invalid_argument", err)
	}
	if _, err := r.Resolve("weather", ""); err != nil {
		t.Fatalf("Resolve(weather) error = %v, catalog must be restored", err)
	}
	if _, err := r.Resolve("translate", ""); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("Resolve(translate) error = %v, partial swap leaked", err)
	}
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.RegisterAll("builtin",
		&fakeTool{name: "calc", version: "1.0.0"},
		&fakeTool{name: "calc", version: "2.0.0", floor: "1.0.0"},
		&fakeTool{name: "echo", version: "1.0.0"},
	); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("Definitions() = %d entries, want one per name", len(defs))
	}
	if defs[0].Name != "calc" || defs[0].Version != "2.0.0" {
		t.Fatalf("Definitions()[0] = %+v, want calc default 2.0.0", defs[0])
	}
	if defs[1].Name != "echo" {
		t.Fatalf("Definitions()[1] = %+v", defs[1])
	}

	versions := r.Versions("calc")
	if len(versions) != 2 || versions[0].Version != "1.0.0" || versions[1].Version != "2.0.0" {
		t.Fatalf("Versions() = %+v, want ascending", versions)
	}
	if versions[1].MinCompatible != "1.0.0" || versions[1].Provider != "builtin" {
		t.Fatalf("Versions()[1] = %+v", versions[1])
	}
}

func TestRegistryTriggered(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.RegisterAll("builtin",
		&fakeTool{name: "weather", version: "1.0.0", triggers: []string{"weather", "forecast"}},
		&fakeTool{name: "calc", version: "1.0.0", triggers: []string{"calculate"}},
	); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}

	hits := r.Triggered("What is the WEATHER like tomorrow?")
	if len(hits) != 1 || hits[0] != "weather" {
		t.Fatalf("Triggered() = %v, want [weather]", hits)
	}
	if hits := r.Triggered("   "); hits != nil {
		t.Fatalf("Triggered(blank) = %v, want nil", hits)
	}
	if hits := r.Triggered("tell me a story"); len(hits) != 0 {
		t.Fatalf("Triggered() = %v, want none", hits)
	}
}
