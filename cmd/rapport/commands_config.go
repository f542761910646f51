package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/rapport/internal/config"
)

func buildConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create, validate, and describe configuration",
	}

	var (
		initPath     string
		initProvider string
		initForce    bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, initPath, initProvider, initForce)
		},
	}
	initCmd.Flags().StringVarP(&initPath, "config", "c", defaultConfigName, "Path to write the config file")
	initCmd.Flags().StringVar(&initProvider, "provider", "anthropic", "Model provider to preconfigure")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")

	var validatePath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, validatePath)
		},
	}
	validateCmd.Flags().StringVarP(&validatePath, "config", "c", defaultConfigName, "Path to YAML configuration file")

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	}

	configCmd.AddCommand(initCmd, validateCmd, schemaCmd)
	return configCmd
}

func runConfigInit(cmd *cobra.Command, path, provider string, force bool) error {
	path = resolveConfigPath(path)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	// Keys the loader expands from the environment stay as references so
	// the written file carries no secrets.
	starter := map[string]any{
		"dialogue": map[string]any{
			"system_prompt": "You are a warm, attentive companion. Keep replies concise.",
			"history_limit": 16,
		},
		"model": map[string]any{
			"provider": provider,
			"api_key":  "${" + providerKeyEnv(provider) + "}",
		},
		"storage": map[string]any{
			"driver": "sqlite",
			"path":   "rapport.db",
		},
		"memory": map[string]any{
			"persist_path": "memory.json",
		},
		"relationship": map[string]any{
			"persist_path": "relationships.json",
		},
		"logging": map[string]any{
			"level":  "info",
			"format": "text",
		},
	}
	data, err := yaml.Marshal(starter)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigValidate(cmd *cobra.Command, path string) error {
	path = resolveConfigPath(path)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s is valid\n", path)
	fmt.Fprintf(out, "Model: %s/%s\n", cfg.Model.Provider, cfg.Model.Name)
	fmt.Fprintf(out, "Storage: %s\n", storageSummary(cfg))
	fmt.Fprintf(out, "Tool decision mode: %s\n", cfg.Dialogue.ToolDecisionMode)
	return nil
}

func storageSummary(cfg *config.Config) string {
	if cfg.Storage.Path != "" {
		return fmt.Sprintf("%s (%s)", cfg.Storage.Driver, cfg.Storage.Path)
	}
	return cfg.Storage.Driver
}

func providerKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "google", "gemini":
		return "GEMINI_API_KEY"
	case "ollama":
		return "OLLAMA_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}
