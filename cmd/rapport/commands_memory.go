package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/rapport/pkg/models"
)

func buildMemoryCmd() *cobra.Command {
	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Work with the long-term memory stores",
	}

	var (
		rememberConfig string
		rememberStore  string
		rememberTags   []string
	)
	rememberCmd := &cobra.Command{
		Use:   "remember <text>",
		Short: "Store a memory item",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryRemember(cmd, rememberConfig, rememberStore, strings.Join(args, " "), rememberTags)
		},
	}
	rememberCmd.Flags().StringVarP(&rememberConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")
	rememberCmd.Flags().StringVar(&rememberStore, "store", "", "Target store (empty uses the default)")
	rememberCmd.Flags().StringArrayVar(&rememberTags, "tag", nil, "Tag key=value (repeatable)")

	var (
		searchConfig string
		searchStore  string
		searchLimit  int
		searchAll    bool
	)
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memory by similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemorySearch(cmd, searchConfig, searchStore, strings.Join(args, " "), searchLimit, searchAll)
		},
	}
	searchCmd.Flags().StringVarP(&searchConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")
	searchCmd.Flags().StringVar(&searchStore, "store", "", "Store to search (empty uses the default)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "Maximum hits per store")
	searchCmd.Flags().BoolVar(&searchAll, "all", false, "Fan out across every registered store")

	var statsConfig string
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show item counts per store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryStats(cmd, statsConfig)
		},
	}
	statsCmd.Flags().StringVarP(&statsConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")

	var (
		clearConfig string
		clearStore  string
	)
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every item from a store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryClear(cmd, clearConfig, clearStore)
		},
	}
	clearCmd.Flags().StringVarP(&clearConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")
	clearCmd.Flags().StringVar(&clearStore, "store", "", "Store to clear (empty uses the default)")

	memoryCmd.AddCommand(rememberCmd, searchCmd, statsCmd, clearCmd)
	return memoryCmd
}

func runMemoryRemember(cmd *cobra.Command, configPath, storeName, text string, tagSpecs []string) error {
	tags, err := parseAnyArgs(tagSpecs)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	store := a.memory.Default()
	if storeName != "" {
		store = a.memory.RegisterStore(storeName)
	}
	id, err := store.Add(cmd.Context(), text, tags)
	if err != nil {
		return fmt.Errorf("remember: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s in %s\n", id, store.Name())
	return nil
}

func runMemorySearch(cmd *cobra.Command, configPath, storeName, query string, limit int, all bool) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	out := cmd.OutOrStdout()
	if all {
		byStore, err := a.memory.SearchAll(cmd.Context(), query, limit)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		names := make([]string, 0, len(byStore))
		for name := range byStore {
			names = append(names, name)
		}
		sort.Strings(names)
		found := false
		for _, name := range names {
			hits := byStore[name]
			if len(hits) == 0 {
				continue
			}
			found = true
			fmt.Fprintf(out, "%s:\n", name)
			printHits(cmd, hits)
		}
		if !found {
			fmt.Fprintln(out, "No matches.")
		}
		return nil
	}

	store := a.memory.Default()
	if storeName != "" {
		store, err = a.memory.Store(storeName)
		if err != nil {
			return err
		}
	}
	hits, err := store.Search(cmd.Context(), query, limit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(hits) == 0 {
		fmt.Fprintln(out, "No matches.")
		return nil
	}
	printHits(cmd, hits)
	return nil
}

func printHits(cmd *cobra.Command, hits []*models.MemoryHit) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, h := range hits {
		content := strings.ReplaceAll(strings.TrimSpace(h.Item.Content), "\n", " ")
		fmt.Fprintf(w, "  %.3f\t%s\t%s\n", h.Similarity, h.Item.ID, truncate(content, 100))
	}
	_ = w.Flush()
}

func runMemoryStats(cmd *cobra.Command, configPath string) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STORE\tITEMS")
	for _, name := range a.memory.Names() {
		store, err := a.memory.Store(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\n", name, store.Len())
	}
	return w.Flush()
}

func runMemoryClear(cmd *cobra.Command, configPath, storeName string) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	store := a.memory.Default()
	if storeName != "" {
		store, err = a.memory.Store(storeName)
		if err != nil {
			return err
		}
	}
	n := store.Len()
	if err := store.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d item(s) from %s\n", n, store.Name())
	return nil
}
