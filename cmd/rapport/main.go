// Package main provides the CLI entry point for the Rapport dialogue engine.
//
// Rapport orchestrates multi-tenant dialogue sessions: turn bookkeeping,
// versioned tool execution, layered memory, and pairwise relationship
// tracking, backed by LLM providers (Anthropic, OpenAI, Gemini, Ollama).
//
// # Basic Usage
//
// Start an interactive chat:
//
//	rapport chat --config rapport.yaml
//
// Send a single utterance:
//
//	rapport chat -m "hello there"
//
// Inspect the tool catalog:
//
//	rapport tools list
//	rapport tools invoke calculator --arg expression="1+2"
//
// # Environment Variables
//
//   - RAPPORT_CONFIG: path to the configuration file (default: rapport.yaml)
//
// Config files expand ${VAR} references, so provider credentials are
// normally written as api_key: ${ANTHROPIC_API_KEY} rather than inline.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/rapport/internal/config"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

const defaultConfigName = "rapport.yaml"

func main() {
	// Logs go to stderr so they never interleave with REPL output.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rapport",
		Short: "Rapport - Dialogue orchestration engine",
		Long: `Rapport runs multi-tenant dialogue sessions with versioned tools,
layered memory, and relationship-aware context.

Supported model providers: Anthropic (Claude), OpenAI (GPT), Gemini, Ollama
Builtin tools: calculator, clock, echo, recall, describe_image`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildSessionsCmd(),
		buildToolsCmd(),
		buildMemoryCmd(),
		buildRelationshipCmd(),
		buildTasksCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}

// resolveConfigPath honors RAPPORT_CONFIG when the flag is unset or left
// at its default.
func resolveConfigPath(path string) string {
	if env := strings.TrimSpace(os.Getenv("RAPPORT_CONFIG")); env != "" {
		if strings.TrimSpace(path) == "" || path == defaultConfigName {
			return env
		}
	}
	if strings.TrimSpace(path) == "" {
		return defaultConfigName
	}
	return path
}

// loadConfig reads the file at path. A missing file is only an error
// when the caller asked for a specific one; the default name simply
// falls back to built-in defaults so first runs work out of the box.
func loadConfig(path string) (*config.Config, error) {
	path = resolveConfigPath(path)
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultConfigName {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openApp loads configuration and assembles the engine for one command
// invocation. Callers must closeApp when done.
func openApp(cmd *cobra.Command, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg)
}

func parseKeyValue(item string) (string, string, error) {
	parts := strings.SplitN(item, "=", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return "", "", fmt.Errorf("invalid arg %q, expected key=value", item)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// parseAnyArgs turns repeated key=value flags into a map, reading values
// as JSON when they parse (so --arg precision=2 carries a number).
func parseAnyArgs(items []string) (map[string]any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make(map[string]any)
	for _, item := range items {
		key, value, err := parseKeyValue(item)
		if err != nil {
			return nil, err
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			out[key] = parsed
		} else {
			out[key] = value
		}
	}
	return out, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
