package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/rapport/internal/dialogue"
	"github.com/haasonsaas/rapport/pkg/models"
)

func buildSessionsCmd() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage conversation sessions",
	}

	var (
		listConfig string
		listOwner  string
		listLimit  int
		listOffset int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, listConfig, listOwner, listLimit, listOffset)
		},
	}
	listCmd.Flags().StringVarP(&listConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")
	listCmd.Flags().StringVarP(&listOwner, "user", "u", "", "Filter by owner (empty lists all)")
	listCmd.Flags().IntVar(&listLimit, "limit", 10, "Maximum sessions to return (1-100)")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Sessions to skip")

	var showConfig string
	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, showConfig, args[0])
		},
	}
	showCmd.Flags().StringVarP(&showConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")

	var (
		newConfig string
		newOwner  string
		newKind   string
		newWith   []string
	)
	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Create a session with an explicit kind and participant set",
		Long: `Create a session without sending a message.

Chat bootstraps human_ai_private sessions on its own; this command is
for the other kinds. Participants default to the owner plus the
assistant; --with replaces that set (bare ids are human, id=ai marks
an AI party).

Example:
  rapport sessions new -u alice --kind human_human_private --with alice --with bob`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsNew(cmd, newConfig, newOwner, newKind, newWith)
		},
	}
	newCmd.Flags().StringVarP(&newConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")
	newCmd.Flags().StringVarP(&newOwner, "user", "u", "user", "Owner participant id")
	newCmd.Flags().StringVar(&newKind, "kind", string(models.DialogueHumanAIPrivate), "Dialogue kind")
	newCmd.Flags().StringArrayVar(&newWith, "with", nil, "Participant spec id or id=kind (repeatable)")

	var deleteConfig string
	deleteCmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(cmd, deleteConfig, args[0])
		},
	}
	deleteCmd.Flags().StringVarP(&deleteConfig, "config", "c", defaultConfigName, "Path to YAML configuration file")

	sessionsCmd.AddCommand(listCmd, showCmd, newCmd, deleteCmd)
	return sessionsCmd
}

func runSessionsList(cmd *cobra.Command, configPath, ownerID string, limit, offset int) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	sessions, total, err := a.stores.Sessions.List(cmd.Context(), ownerID, limit, offset)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tOWNER\tPARTICIPANTS\tLAST ACTIVITY")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Kind, s.OwnerID, participantList(s.Participants),
			s.LastActivityAt.Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d session(s)\n", len(sessions), total)
	return nil
}

func runSessionsShow(cmd *cobra.Command, configPath, sessionID string) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	session, err := a.stores.Sessions.Get(cmd.Context(), sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	turns, err := a.stores.Turns.ListBySession(cmd.Context(), sessionID)
	if err != nil {
		return fmt.Errorf("list turns: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session: %s\n", session.ID)
	fmt.Fprintf(out, "Kind: %s\n", session.Kind)
	fmt.Fprintf(out, "Owner: %s\n", session.OwnerID)
	fmt.Fprintf(out, "Participants: %s\n", participantList(session.Participants))
	fmt.Fprintf(out, "Created: %s\n", session.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Last activity: %s\n", session.LastActivityAt.Format(time.RFC3339))
	if len(turns) == 0 {
		fmt.Fprintln(out, "No turns yet.")
		return nil
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDINAL\tSTATUS\tTOOLS\tREQUEST\tRESPONSE")
	for _, t := range turns {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
			t.Ordinal, t.Status, len(t.Invocations),
			messageExcerpt(t.Requests), messageExcerpt(t.Responses))
	}
	return w.Flush()
}

func runSessionsNew(cmd *cobra.Command, configPath, ownerID, kind string, withSpecs []string) error {
	dk := models.DialogueKind(strings.TrimSpace(kind))
	if !dk.Valid() {
		return fmt.Errorf("unknown dialogue kind %q", kind)
	}
	participants, err := parseParticipants(ownerID, withSpecs)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	now := time.Now()
	session := &models.Session{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Kind:           dk,
		Participants:   participants,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := a.stores.Sessions.Create(cmd.Context(), session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created session %s (%s)\n", session.ID, session.Kind)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, configPath, sessionID string) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.stores.Sessions.Delete(cmd.Context(), sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", sessionID)
	return nil
}

// parseParticipants builds the participant set for a new session. Specs
// replace the default owner+assistant pair; a bare id is human.
func parseParticipants(ownerID string, specs []string) ([]models.Participant, error) {
	if len(specs) == 0 {
		return []models.Participant{
			{ID: ownerID, Kind: models.ParticipantHuman},
			{ID: dialogue.DefaultAssistantID, Kind: models.ParticipantAI},
		}, nil
	}
	out := make([]models.Participant, 0, len(specs))
	for _, spec := range specs {
		id, kind := spec, models.ParticipantHuman
		if i := strings.IndexByte(spec, '='); i >= 0 {
			id = spec[:i]
			switch strings.ToLower(strings.TrimSpace(spec[i+1:])) {
			case "human":
				kind = models.ParticipantHuman
			case "ai":
				kind = models.ParticipantAI
			default:
				return nil, fmt.Errorf("unknown participant kind in %q (want human or ai)", spec)
			}
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("empty participant id in %q", spec)
		}
		out = append(out, models.Participant{ID: id, Kind: kind})
	}
	return out, nil
}

func participantList(parts []models.Participant) string {
	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = p.ID
		if p.Kind == models.ParticipantAI {
			names[i] += " (ai)"
		}
	}
	return strings.Join(names, ", ")
}

func messageExcerpt(msgs []models.Message) string {
	for _, m := range msgs {
		if s := strings.TrimSpace(m.Content); s != "" {
			return truncate(strings.ReplaceAll(s, "\n", " "), 60)
		}
	}
	return "-"
}
