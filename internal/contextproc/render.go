package contextproc

import (
	"sort"
	"strings"
)

// Render turns a normalized context into the text block the injector
// places into the prompt. Contexts with nothing to say render empty,
// which the injector treats as a no-op.
func Render(ctx *Context) string {
	if ctx == nil {
		return ""
	}
	switch ctx.Kind {
	case KindUserProfile:
		return renderUserProfile(ctx)
	case KindDomain:
		return renderDomain(ctx)
	case KindSystem:
		return renderSystem(ctx)
	case KindDialogueHistory:
		return renderDialogueHistory(ctx)
	case KindLocation:
		return renderLocation(ctx)
	default:
		return renderGeneral(ctx)
	}
}

func renderGeneral(ctx *Context) string {
	if len(ctx.Fields) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("consider the following context:\n")
	for _, key := range sortedFieldKeys(ctx.Fields) {
		b.WriteString("- " + key + ": " + ctx.Fields[key] + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderUserProfile(ctx *Context) string {
	var b strings.Builder
	if name, ok := ctx.Fields["name"]; ok {
		b.WriteString("name: " + name + "\n")
	}
	if loc, ok := ctx.Fields["location"]; ok {
		b.WriteString("location: " + loc + "\n")
	}
	writeSection(&b, "identifiers:", ctx.Lists["identifiers"])
	writeSection(&b, "preferences:", ctx.Lists["preferences"])
	writeSection(&b, "recent actions:", ctx.Lists["recent_actions"])
	if len(ctx.Redacted) > 0 {
		b.WriteString("(redacted: " + strings.Join(ctx.Redacted, ", ") + ")\n")
	}
	if b.Len() == 0 {
		return ""
	}
	return strings.TrimRight("user profile:\n"+b.String(), "\n")
}

func renderDomain(ctx *Context) string {
	bullets := ctx.Lists["knowledge"]
	if len(bullets) == 0 {
		return ""
	}
	var b strings.Builder
	if topic := ctx.Fields["topic"]; topic != "" {
		b.WriteString("reference knowledge in domain " + topic + ":\n")
	} else {
		b.WriteString("reference knowledge:\n")
	}
	for _, bullet := range bullets {
		b.WriteString("- " + bullet + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSystem(ctx *Context) string {
	state := ctx.Lists["state"]
	features := ctx.Lists["features"]
	if len(state) == 0 && len(features) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("current system state:\n")
	for _, line := range state {
		b.WriteString("- " + line + "\n")
	}
	if len(features) > 0 {
		b.WriteString("features: " + strings.Join(features, ", ") + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderDialogueHistory(ctx *Context) string {
	if len(ctx.Turns) == 0 && ctx.Latest == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("dialogue history (pay attention to the most recent topic):\n")
	for _, turn := range ctx.Turns {
		if turn.Speaker != "" {
			b.WriteString(turn.Speaker + ": " + turn.Text + "\n")
		} else {
			b.WriteString(turn.Text + "\n")
		}
	}
	if topic, ok := DetectContinuation(ctx.Turns, ctx.Latest); ok {
		b.WriteString(ContinuationDirective(topic) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderLocation(ctx *Context) string {
	if len(ctx.Fields) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("user location:\n")
	for _, key := range []string{"city", "region", "country", "coordinates"} {
		if v, ok := ctx.Fields[key]; ok {
			b.WriteString(key + ": " + v + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, header string, entries []string) {
	if len(entries) == 0 {
		return
	}
	b.WriteString(header + "\n")
	for _, entry := range entries {
		b.WriteString("- " + entry + "\n")
	}
}

func sortedFieldKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
