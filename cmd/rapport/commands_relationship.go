package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func buildRelationshipCmd() *cobra.Command {
	relCmd := &cobra.Command{
		Use:     "relationship",
		Aliases: []string{"rel"},
		Short:   "Inspect pairwise relationship state",
	}

	var showConfig string
	showCmd := &cobra.Command{
		Use:   "show <a> <b>",
		Short: "Show the relationship between two participants",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelationshipShow(cmd, showConfig, args[0], args[1])
		},
	}
	showCmd.Flags().StringVarP(&showConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")

	var listConfig string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all tracked relationships",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelationshipList(cmd, listConfig)
		},
	}
	listCmd.Flags().StringVarP(&listConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")

	var disconnectConfig string
	disconnectCmd := &cobra.Command{
		Use:   "disconnect <a> <b>",
		Short: "Mark a relationship broken",
		Long: `Mark the relationship between two participants as broken.

Broken relationships stop producing context blocks and tasks, and do
not recover on their own; new interaction history is still recorded.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelationshipDisconnect(cmd, disconnectConfig, args[0], args[1])
		},
	}
	disconnectCmd.Flags().StringVarP(&disconnectConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")

	relCmd.AddCommand(showCmd, listCmd, disconnectCmd)
	return relCmd
}

func runRelationshipShow(cmd *cobra.Command, configPath, aID, bID string) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx := cmd.Context()
	rec, err := a.engine.Lookup(ctx, aID, bID)
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}
	intensity, err := a.engine.IntensityFor(ctx, aID, bID)
	if err != nil {
		return fmt.Errorf("intensity: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Relationship: %s\n", rec.ID)
	fmt.Fprintf(out, "Pair: %s (%s) <-> %s (%s)\n", rec.AID, rec.AKind, rec.BID, rec.BKind)
	fmt.Fprintf(out, "Status: %s\n", rec.Status)
	fmt.Fprintf(out, "First seen: %s\n", rec.FirstSeenAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Last active: %s\n", rec.LastActiveAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Rounds: %d across %d active day(s)\n", rec.TotalRounds, rec.ActiveDays)
	fmt.Fprintf(out, "Resonance: %d  Diary: %d  Co-creation: %d  Gifts: %d\n",
		rec.ResonanceCount, rec.DiaryCount, rec.CoCreationCount, rec.GiftCount)
	fmt.Fprintf(out, "Affection: %.2f  Recognition: %.2f\n", rec.Affection, rec.Recognition)
	fmt.Fprintf(out, "Intensity: %.3f (%s)  interaction=%.3f emotional=%.3f collaboration=%.3f\n",
		intensity.Score, intensity.Level,
		intensity.Interaction, intensity.Emotional, intensity.Collaboration)

	if block := a.engine.ContextFor(ctx, aID, bID); block != "" {
		fmt.Fprintf(out, "\n%s\n", block)
	}
	return nil
}

func runRelationshipList(cmd *cobra.Command, configPath string) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	recs, err := a.engine.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No relationships found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "A\tB\tSTATUS\tROUNDS\tDAYS\tSCORE\tLEVEL\tLAST ACTIVE")
	for _, rec := range recs {
		score, level := "-", "-"
		if in, err := a.engine.Intensity(cmd.Context(), rec.ID); err == nil {
			score = fmt.Sprintf("%.3f", in.Score)
			level = string(in.Level)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			rec.AID, rec.BID, rec.Status, rec.TotalRounds, rec.ActiveDays,
			score, level, rec.LastActiveAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runRelationshipDisconnect(cmd *cobra.Command, configPath, aID, bID string) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.engine.Disconnect(cmd.Context(), aID, bID); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Disconnected %s and %s\n", aID, bID)
	return nil
}
