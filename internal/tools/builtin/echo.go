package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/rapport/internal/tools"
)

// Echo returns its input verbatim. Mostly useful for wiring checks and
// loop tests.
type Echo struct{}

func (Echo) Name() string { return "echo" }
func (Echo) Description() string { return "Returns the given text unchanged." }
func (Echo) Usage() string {
	return `{"input": "text to repeat"}`
}
func (Echo) Modalities() []string { return []string{tools.ModalityText} }
func (Echo) Version() string { return "1.0.0" }
func (Echo) MinCompatible() string { return "1.0.0" }
func (Echo) Deprecated() (bool, string) { return false, "" }

func (Echo) Triggers(text string) bool {
	return strings.Contains(text, "echo")
}

func (Echo) Invoke(ctx context.Context, args map[string]any) (string, error) {
	input := tools.StringArg(args, "input")
	if input == "" {
		return "", fmt.Errorf("input is required")
	}
	return input, nil
}
