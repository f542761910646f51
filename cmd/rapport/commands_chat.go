package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/rapport/internal/dialogue"
	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/internal/observability"
	"github.com/haasonsaas/rapport/pkg/models"
)

// buildChatCmd creates the "chat" command: an interactive REPL against
// the dialogue engine, or a single turn with -m.
func buildChatCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		sessionID  string
		message    string
		sideArgs   []string
		timeline   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the engine (REPL or one-shot)",
		Long: `Open an interactive chat session, or send one utterance with -m.

Each line becomes a turn: memory and relationship state accumulate
across turns, and tools run when the decision layer calls for them.

REPL commands:
  /session       print the current session id
  /relationship  print the relationship context block for this pair
  /timeline      print the event timeline of the last turn
  /quit          exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer closeApp(a)

			side, err := parseAnyArgs(sideArgs)
			if err != nil {
				return err
			}
			chat := &chatLoop{
				app:       a,
				out:       cmd.OutOrStdout(),
				userID:    userID,
				sessionID: sessionID,
				kind:      models.DialogueHumanAIPrivate,
				side:      side,
				timeline:  timeline,
			}
			if sessionID != "" {
				sess, err := a.stores.Sessions.Get(cmd.Context(), sessionID)
				if err != nil {
					return err
				}
				chat.kind = sess.Kind
			}

			if strings.TrimSpace(message) != "" {
				return chat.turn(cmd.Context(), message)
			}
			return chat.repl(cmd.Context(), cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().StringVarP(&userID, "user", "u", "user", "Participant id for the human side")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Resume an existing session")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Send one utterance and exit")
	cmd.Flags().StringArrayVar(&sideArgs, "side", nil, "Side-channel context (key=value, repeatable)")
	cmd.Flags().BoolVar(&timeline, "timeline", false, "Print the event timeline after each turn")
	return cmd
}

// chatLoop carries the REPL state between turns.
type chatLoop struct {
	app       *app
	out       io.Writer
	userID    string
	sessionID string
	kind      models.DialogueKind
	side      map[string]any
	timeline  bool
	lastTurn  string
}

func (c *chatLoop) repl(ctx context.Context, in io.Reader) error {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	if interactive {
		fmt.Fprintln(c.out, "rapport chat. /quit to exit.")
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for {
		if interactive {
			fmt.Fprintf(c.out, "%s> ", c.userID)
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if c.command(ctx, line) {
				return nil
			}
			continue
		}
		if err := c.turn(ctx, line); err != nil {
			// REPL turns degrade to an error line; the session stays usable.
			fmt.Fprintf(c.out, "error: %s\n", errs.Summary(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// command handles a slash command and reports whether the loop should exit.
func (c *chatLoop) command(ctx context.Context, line string) bool {
	switch strings.ToLower(line) {
	case "/quit", "/exit":
		return true
	case "/session":
		if c.sessionID == "" {
			fmt.Fprintln(c.out, "no session yet; say something first")
		} else {
			fmt.Fprintln(c.out, c.sessionID)
		}
	case "/relationship":
		block := c.app.engine.ContextFor(ctx, c.userID, dialogue.DefaultAssistantID)
		if block == "" {
			fmt.Fprintln(c.out, "no relationship yet")
		} else {
			fmt.Fprintln(c.out, block)
		}
	case "/timeline":
		c.printTimeline()
	default:
		fmt.Fprintf(c.out, "unknown command %s\n", line)
	}
	return false
}

func (c *chatLoop) turn(ctx context.Context, content string) error {
	ctx, span := c.app.tracer.TraceTurn(ctx, string(c.kind), c.sessionID)
	defer span.End()
	started := time.Now()

	res, err := c.app.dialogue.Process(ctx, dialogue.ProcessRequest{
		SessionID:   c.sessionID,
		UserID:      c.userID,
		Content:     content,
		ContentKind: models.MessageText,
		SideChannel: c.side,
	})
	if err != nil {
		c.app.tracer.RecordError(span, err)
		ectx := observability.WithSessionID(ctx, c.sessionID)
		_ = c.app.record.RecordTurnEnd(ectx, time.Since(started), err)
		return err
	}

	bootstrap := c.sessionID == ""
	c.sessionID = res.SessionID
	c.lastTurn = res.TurnID
	if bootstrap {
		fmt.Fprintf(c.out, "[session %s]\n", res.SessionID)
	}

	// The manager does not emit events itself, so the loop reconstructs
	// the turn on the recorder once the identifiers are known.
	ectx := observability.WithSessionID(ctx, res.SessionID)
	_ = c.app.record.RecordTurnStart(ectx, res.TurnID, map[string]any{"user": c.userID})
	ectx = observability.WithTurnID(ectx, res.TurnID)
	for _, tr := range res.ToolResults {
		var terr error
		if tr.Error != "" {
			terr = errors.New(tr.Error)
		}
		_ = c.app.record.RecordToolEnd(ectx, tr.Tool, 0, tr.Result, terr)
	}
	_ = c.app.record.RecordTurnEnd(ectx, time.Since(started), nil)

	for _, tr := range res.ToolResults {
		detail := strings.ReplaceAll(firstNonEmpty(tr.Result, tr.Error), "\n", " ")
		fmt.Fprintf(c.out, "  [%s %s %s] %s\n", tr.Tool, tr.Version, tr.Status, truncate(detail, 160))
	}
	if res.ReplyText != "" {
		fmt.Fprintln(c.out, res.ReplyText)
	}
	if c.timeline {
		c.printTimeline()
	}
	return nil
}

func (c *chatLoop) printTimeline() {
	if c.lastTurn == "" {
		fmt.Fprintln(c.out, "no turn yet")
		return
	}
	events, err := c.app.events.GetByTurnID(c.lastTurn)
	if err != nil || len(events) == 0 {
		fmt.Fprintln(c.out, "no events recorded")
		return
	}
	fmt.Fprintln(c.out, observability.FormatTimeline(observability.BuildTimeline(events)))
}

// closeApp tears the app down on a fresh deadline so a cancelled chat
// context cannot block the snapshot writes.
func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
