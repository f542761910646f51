package builtin

import (
	"github.com/haasonsaas/rapport/internal/memory"
	"github.com/haasonsaas/rapport/internal/tools"
)

// ProviderName labels the builtin catalog in the registry.
const ProviderName = "builtin"

// Deps carries the services some builtins need. Nil fields disable the
// tools that require them.
type Deps struct {
	Memory *memory.Manager
}

// Register adds the builtin set to the registry. Calculator v1 stays
// registered for callers pinned to 1.x; bare requests resolve to v2.
func Register(r *tools.Registry, deps Deps) error {
	set := []tools.Tool{
		CalculatorV1{},
		CalculatorV2{},
		Clock{},
		Echo{},
		DescribeImage{},
	}
	if deps.Memory != nil {
		set = append(set, Recall{Memory: deps.Memory})
	}
	if err := r.RegisterAll(ProviderName, set...); err != nil {
		return err
	}
	return r.SetStatus("calculator", "1.0.0", tools.StatusStable)
}
