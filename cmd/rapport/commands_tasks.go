package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/rapport/pkg/models"
)

func buildTasksCmd() *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage relationship maintenance tasks",
	}

	var (
		listConfig string
		listRel    string
		listLimit  int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List executable tasks, or every task of one relationship",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksList(cmd, listConfig, listRel, listLimit)
		},
	}
	listCmd.Flags().StringVarP(&listConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")
	listCmd.Flags().StringVar(&listRel, "relationship", "", "List all tasks for this relationship id")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum executable tasks to return")

	var sweepConfig string
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Materialize due tasks from the templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksSweep(cmd, sweepConfig)
		},
	}
	sweepCmd.Flags().StringVarP(&sweepConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")

	var (
		runConfig string
		runLimit  int
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Claim and execute due tasks once",
		Long: `Claim executable tasks and run them through the same executor the
background scheduler uses, then report per-task results. Useful when
the scheduler is disabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksRun(cmd, runConfig, runLimit)
		},
	}
	runCmd.Flags().StringVarP(&runConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")
	runCmd.Flags().IntVar(&runLimit, "limit", 5, "Maximum tasks to execute")

	var (
		completeConfig string
		completeStatus string
		completeNote   string
	)
	completeCmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Finish a claimed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksComplete(cmd, completeConfig, args[0], completeStatus, completeNote)
		},
	}
	completeCmd.Flags().StringVarP(&completeConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")
	completeCmd.Flags().StringVar(&completeStatus, "status", string(models.TaskCompleted), "Terminal status: completed, cancelled, or failed")
	completeCmd.Flags().StringVar(&completeNote, "note", "", "Optional completion note")

	var (
		reclaimConfig string
		reclaimAge    time.Duration
	)
	reclaimCmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Return stale in-progress tasks to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksReclaim(cmd, reclaimConfig, reclaimAge)
		},
	}
	reclaimCmd.Flags().StringVarP(&reclaimConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")
	reclaimCmd.Flags().DurationVar(&reclaimAge, "age", 30*time.Minute, "Claims older than this are reclaimed")

	tasksCmd.AddCommand(listCmd, sweepCmd, runCmd, completeCmd, reclaimCmd)
	return tasksCmd
}

func runTasksList(cmd *cobra.Command, configPath, relationshipID string, limit int) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	var tasks []*models.RelationshipTask
	if relationshipID != "" {
		tasks, err = a.engine.ListTasks(cmd.Context(), relationshipID)
	} else {
		tasks, err = a.engine.ExecutableTasks(cmd.Context(), limit)
	}
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTEMPLATE\tPRIORITY\tSTATUS\tDUE\tTITLE")
	for _, t := range tasks {
		due := "-"
		if t.DueAt != nil {
			due = t.DueAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			t.ID, t.Template, t.Priority, t.Status, due, truncate(t.Title, 40))
	}
	return w.Flush()
}

func runTasksSweep(cmd *cobra.Command, configPath string) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	n, err := a.engine.Sweep(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Materialized %d task(s)\n", n)
	return nil
}

func runTasksRun(cmd *cobra.Command, configPath string, limit int) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx := cmd.Context()
	due, err := a.engine.ExecutableTasks(ctx, limit)
	if err != nil {
		return fmt.Errorf("executable tasks: %w", err)
	}
	if len(due) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks due.")
		return nil
	}

	exec := a.taskExecutor()
	out := cmd.OutOrStdout()
	failed := 0
	for _, t := range due {
		task, err := a.engine.ClaimTask(ctx, t.ID)
		if err != nil {
			// Raced by a concurrent scheduler; skip quietly.
			continue
		}
		rel, err := a.engine.Get(ctx, task.RelationshipID)
		if err == nil {
			err = exec(ctx, task, rel)
		}
		if err != nil {
			failed++
			_ = a.engine.CompleteTask(ctx, task.ID, models.TaskFailed, err.Error())
			fmt.Fprintf(out, "%s %s: %v\n", task.ID, task.Template, err)
			continue
		}
		if err := a.engine.CompleteTask(ctx, task.ID, models.TaskCompleted, ""); err != nil {
			return fmt.Errorf("complete task %s: %w", task.ID, err)
		}
		fmt.Fprintf(out, "%s %s: done\n", task.ID, task.Template)
	}
	if failed > 0 {
		return fmt.Errorf("%d task(s) failed", failed)
	}
	return nil
}

func runTasksComplete(cmd *cobra.Command, configPath, taskID, status, note string) error {
	var terminal models.TaskStatus
	switch models.TaskStatus(status) {
	case models.TaskCompleted, models.TaskCancelled, models.TaskFailed:
		terminal = models.TaskStatus(status)
	default:
		return fmt.Errorf("invalid status %q (want completed, cancelled, or failed)", status)
	}

	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.engine.CompleteTask(cmd.Context(), taskID, terminal, note); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s marked %s\n", taskID, terminal)
	return nil
}

func runTasksReclaim(cmd *cobra.Command, configPath string, age time.Duration) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	n, err := a.engine.ReclaimStale(cmd.Context(), age)
	if err != nil {
		return fmt.Errorf("reclaim: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d task(s)\n", n)
	return nil
}
