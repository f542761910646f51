package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/rapport/internal/tools"
)

func buildToolsCmd() *cobra.Command {
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and invoke registered tools",
	}

	var listConfig string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the tool catalog (default version per name)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, listConfig)
		},
	}
	listCmd.Flags().StringVarP(&listConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")

	var showConfig string
	showCmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show every registered version of a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsShow(cmd, showConfig, args[0])
		},
	}
	showCmd.Flags().StringVarP(&showConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")

	var (
		invokeConfig  string
		invokeVersion string
		invokeArgs    []string
		invokeInput   string
	)
	invokeCmd := &cobra.Command{
		Use:   "invoke <name>",
		Short: "Invoke a tool directly",
		Long: `Invoke a tool outside any conversation.

Arguments are key=value pairs; values that parse as JSON are passed
typed. --input is shorthand for the "input" argument most tools take.

Example:
  rapport tools invoke calculator --arg expression="sqrt(144)"
  rapport tools invoke echo --input "hello"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsInvoke(cmd, invokeConfig, args[0], invokeVersion, invokeArgs, invokeInput)
		},
	}
	invokeCmd.Flags().StringVarP(&invokeConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")
	invokeCmd.Flags().StringVar(&invokeVersion, "version", "", "Requested version (empty resolves the default)")
	invokeCmd.Flags().StringArrayVar(&invokeArgs, "arg", nil, "Tool argument key=value (repeatable)")
	invokeCmd.Flags().StringVar(&invokeInput, "input", "", "Shorthand for --arg input=<text>")

	var scanConfig string
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Rescan discovery roots for external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsScan(cmd, scanConfig)
		},
	}
	scanCmd.Flags().StringVarP(&scanConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")

	toolsCmd.AddCommand(listCmd, showCmd, invokeCmd, scanCmd)
	return toolsCmd
}

func runToolsList(cmd *cobra.Command, configPath string) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	defs := a.registry.Definitions()
	if len(defs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tools registered.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tPROVIDER\tSTATUS\tDESCRIPTION")
	for _, def := range defs {
		status := def.Status
		if def.Deprecated {
			status = "deprecated"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			def.Name, def.Version, def.Provider, status, truncate(def.Description, 60))
	}
	return w.Flush()
}

func runToolsShow(cmd *cobra.Command, configPath, name string) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	versions := a.registry.Versions(name)
	if len(versions) == 0 {
		return fmt.Errorf("tool %q is not registered", name)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tool: %s\n", name)
	for _, def := range versions {
		fmt.Fprintf(out, "\nVersion: %s\n", def.Version)
		if def.Provider != "" {
			fmt.Fprintf(out, "Provider: %s\n", def.Provider)
		}
		if def.Status != "" {
			fmt.Fprintf(out, "Status: %s\n", def.Status)
		}
		if def.MinCompatible != "" {
			fmt.Fprintf(out, "Min compatible: %s\n", def.MinCompatible)
		}
		if def.Deprecated {
			fmt.Fprintln(out, "Deprecated: yes")
		}
		if len(def.Modalities) > 0 {
			fmt.Fprintf(out, "Modalities: %s\n", strings.Join(def.Modalities, ", "))
		}
		if def.Description != "" {
			fmt.Fprintf(out, "Description: %s\n", def.Description)
		}
		if def.Usage != "" {
			fmt.Fprintf(out, "Usage: %s\n", def.Usage)
		}
	}
	return nil
}

func runToolsInvoke(cmd *cobra.Command, configPath, name, version string, argSpecs []string, input string) error {
	argsMap, err := parseAnyArgs(argSpecs)
	if err != nil {
		return err
	}
	var payload any
	switch {
	case argsMap == nil && input == "":
		payload = nil
	case argsMap == nil:
		payload = input
	default:
		if input != "" {
			argsMap["input"] = input
		}
		payload = argsMap
	}

	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	outcome := a.invoker.Execute(cmd.Context(), tools.Call{
		Name:    name,
		Version: version,
		Args:    payload,
	})
	out := cmd.OutOrStdout()
	if outcome.Notice != "" {
		fmt.Fprintf(out, "warning: %s\n", outcome.Notice)
	}
	if outcome.Err != nil {
		return fmt.Errorf("invoke %s: %w", name, outcome.Err)
	}
	fmt.Fprintln(out, outcome.Text)
	return nil
}

func runToolsScan(cmd *cobra.Command, configPath string) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if a.discovery == nil {
		return fmt.Errorf("no tool discovery roots configured (tools.discovery_paths)")
	}
	n, err := a.discovery.Scan()
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Discovered %d tool(s); catalog now has %d registered version(s)\n",
		n, a.registry.Count())
	return nil
}
