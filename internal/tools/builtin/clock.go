package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/rapport/internal/tools"
)

// Clock reports the current time, optionally in a named zone.
type Clock struct {
	// Now is swappable for tests. Defaults to time.Now.
	Now func() time.Time
}

func (Clock) Name() string { return "clock" }
func (Clock) Description() string { return "Reports the current date and time." }
func (Clock) Usage() string {
	return `{"timezone": "Europe/Berlin"} (optional, defaults to UTC)`
}
func (Clock) Modalities() []string { return []string{tools.ModalityText} }
func (Clock) Version() string { return "1.0.0" }
func (Clock) MinCompatible() string { return "1.0.0" }
func (Clock) Deprecated() (bool, string) { return false, "" }

func (Clock) Triggers(text string) bool {
	return matchesAny(text, []string{"what time", "current time", "time is it", "today's date", "what day"})
}

func (c Clock) Invoke(ctx context.Context, args map[string]any) (string, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := time.UTC
	if tz := strings.TrimSpace(tools.StringArg(args, "timezone")); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", tz)
		}
		loc = l
	}
	t := now().In(loc)
	return t.Format("Monday, 2006-01-02 15:04:05 MST"), nil
}
