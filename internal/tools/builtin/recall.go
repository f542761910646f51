package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/rapport/internal/memory"
	"github.com/haasonsaas/rapport/internal/tools"
)

// Recall searches the long-term memory stores and renders the best
// matches for the prompt.
type Recall struct {
	Memory *memory.Manager
}

func (Recall) Name() string { return "recall" }
func (Recall) Description() string { return "Searches long-term memory for related items." }
func (Recall) Usage() string {
	return `{"query": "what to look for", "store": "optional store name", "k": 3}`
}
func (Recall) Modalities() []string { return []string{tools.ModalityText} }
func (Recall) Version() string { return "1.0.0" }
func (Recall) MinCompatible() string { return "1.0.0" }
func (Recall) Deprecated() (bool, string) { return false, "" }

func (Recall) Triggers(text string) bool {
	return matchesAny(text, []string{"remember", "recall", "what did i say", "what did we talk"})
}

func (r Recall) Invoke(ctx context.Context, args map[string]any) (string, error) {
	if r.Memory == nil {
		return "", fmt.Errorf("memory manager not configured")
	}
	query := strings.TrimSpace(tools.StringArg(args, "query"))
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	k := 3
	switch v := args["k"].(type) {
	case int:
		k = v
	case float64:
		k = int(v)
	}
	if k <= 0 {
		k = 3
	}

	storeName, _ := args["store"].(string)
	var b strings.Builder
	total := 0
	if storeName != "" {
		store, err := r.Memory.Store(storeName)
		if err != nil {
			return "", err
		}
		hits, err := store.Search(ctx, query, k)
		if err != nil {
			return "", err
		}
		for _, hit := range hits {
			total++
			fmt.Fprintf(&b, "- %s\n", hit.Item.Content)
		}
	} else {
		buckets, err := r.Memory.SearchAll(ctx, query, k)
		if err != nil {
			return "", err
		}
		for name, hits := range buckets {
			for _, hit := range hits {
				total++
				fmt.Fprintf(&b, "- [%s] %s\n", name, hit.Item.Content)
			}
		}
	}
	if total == 0 {
		return "no related memories found", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
