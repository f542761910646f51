package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/rapport/internal/contextproc"
	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/internal/llm"
	"github.com/haasonsaas/rapport/internal/memory"
	"github.com/haasonsaas/rapport/internal/observability"
	"github.com/haasonsaas/rapport/internal/relationship"
	"github.com/haasonsaas/rapport/internal/retry"
	"github.com/haasonsaas/rapport/internal/storage"
	"github.com/haasonsaas/rapport/internal/tools"
	"github.com/haasonsaas/rapport/pkg/models"
)

// Deps are the collaborators the manager drives. Sessions, turns, and
// the model client are required; every other field may be nil, in which
// case the corresponding pipeline stage is skipped.
type Deps struct {
	Sessions      storage.SessionStore
	Turns         storage.TurnStore
	Client        llm.Client
	Decider       tools.Decider
	Invoker       *tools.Invoker
	Processor     *contextproc.Processor
	Injector      *contextproc.Injector
	Relationships *relationship.Engine
	Conversations *memory.ConversationBuffer
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// Manager implements the dialogue control flow.
type Manager struct {
	cfg     Config
	deps    Deps
	locks   *sessionLocks
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewManager wires a dialogue manager.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	const op = "dialogue.NewManager"
	if deps.Sessions == nil || deps.Turns == nil {
		return nil, errs.E(errs.KindInvalidArgument, op, "session and turn stores are required")
	}
	if deps.Client == nil {
		return nil, errs.E(errs.KindInvalidArgument, op, "model client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     sanitizeConfig(cfg),
		deps:    deps,
		locks:   newSessionLocks(),
		logger:  logger.With("component", "dialogue"),
		nowFunc: time.Now,
	}, nil
}

// SetNowFunc overrides the manager clock.
func (m *Manager) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		m.nowFunc = fn
	}
}

// Process handles one inbound utterance end to end and returns the
// reply. Failures before a turn exists return the typed error alone;
// once a turn exists, a failure also persists it as failed with a
// response message carrying a user-facing summary.
func (m *Manager) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	const op = "dialogue.Process"
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCancelled, op, err)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, errs.E(errs.KindInvalidArgument, op, "user id is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, errs.E(errs.KindInvalidArgument, op, "content is empty")
	}

	started := m.nowFunc()

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		created, err := m.createSession(ctx, req)
		if err != nil {
			return nil, err
		}
		sessionID = created.ID
	}

	release, err := m.locks.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := m.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	session.Touch(m.nowFunc())
	if err := m.deps.Sessions.Update(ctx, session); err != nil {
		return nil, storeErr(op, err)
	}

	if m.deps.Metrics != nil {
		m.deps.Metrics.SessionStarted(string(session.Kind))
		defer m.deps.Metrics.SessionEnded(string(session.Kind))
	}

	prior, err := m.deps.Turns.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, storeErr(op, err)
	}

	turn, err := m.startTurn(ctx, session, req, prior)
	if err != nil {
		return nil, err
	}
	if m.deps.Conversations != nil {
		m.deps.Conversations.Append(session.ID, turn.Requests[0])
	}

	pol := policyFor(session.Kind)
	if !pol.generate {
		return m.transcribe(ctx, session, turn, started)
	}

	genReq := m.assembleRequest(ctx, turn, historyMessages(prior, m.cfg.HistoryLimit), req, pol)

	var outcomes []*tools.Outcome
	if pol.tools && m.deps.Decider != nil && m.deps.Invoker != nil {
		outcomes, err = m.runToolLoop(ctx, turn, genReq, req)
		if err != nil {
			m.failTurn(ctx, session, turn, started, err)
			return nil, err
		}
	}

	result, err := m.generate(ctx, genReq)
	if err != nil {
		m.failTurn(ctx, session, turn, started, err)
		return nil, err
	}

	now := m.nowFunc()
	reply := models.Message{
		ID:         uuid.NewString(),
		TurnID:     turn.ID,
		Content:    result.Text,
		Kind:       models.MessageText,
		SenderID:   turn.ResponderID,
		SenderKind: turn.ResponderKind,
		CreatedAt:  now,
	}
	turn.Responses = append(turn.Responses, reply)
	turn.Status = models.TurnCompleted
	turn.EndedAt = &now
	if err := m.deps.Turns.Update(ctx, turn); err != nil {
		m.logger.Error("turn finalization not persisted", "turn", turn.ID, "error", err)
		return nil, storeErr(op, err)
	}
	if m.deps.Conversations != nil {
		m.deps.Conversations.Append(session.ID, reply)
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordTurn(string(session.Kind), string(models.TurnCompleted),
			m.nowFunc().Sub(started).Seconds())
	}

	var rec *models.Relationship
	if pol.relationships {
		rec = m.notifyRelationship(ctx, session, turn, result.Text, outcomes)
	}

	results := toolResults(outcomes)
	return &ProcessResult{
		SessionID:   session.ID,
		TurnID:      turn.ID,
		ReplyText:   result.Text,
		ReplyTags:   m.replyTags(ctx, started, turn, &result.Usage, results, rec),
		ToolResults: results,
	}, nil
}

// createSession makes the implicit human to assistant private session.
func (m *Manager) createSession(ctx context.Context, req ProcessRequest) (*models.Session, error) {
	const op = "dialogue.createSession"
	now := m.nowFunc()
	session := &models.Session{
		ID:      uuid.NewString(),
		OwnerID: req.UserID,
		Kind:    models.DialogueHumanAIPrivate,
		Participants: []models.Participant{
			{ID: req.UserID, Kind: models.ParticipantHuman},
			{ID: m.cfg.AssistantID, Kind: models.ParticipantAI},
		},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.deps.Sessions.Create(ctx, session); err != nil {
		return nil, storeErr(op, err)
	}
	m.logger.Info("session created",
		"session", session.ID,
		"owner", req.UserID,
		"kind", string(session.Kind))
	return session, nil
}

// startTurn allocates the next turn with the inbound message attached
// and moves it to in_progress. Both states are persisted so a crash
// mid-turn leaves an inspectable record.
func (m *Manager) startTurn(ctx context.Context, session *models.Session, req ProcessRequest, prior []*models.Turn) (*models.Turn, error) {
	const op = "dialogue.startTurn"
	ordinal := 0
	for _, t := range prior {
		if t.Ordinal >= ordinal {
			ordinal = t.Ordinal + 1
		}
	}

	initiatorKind := models.ParticipantHuman
	if p, ok := session.Participant(req.UserID); ok {
		initiatorKind = p.Kind
	}
	responderID, responderKind := m.counterpart(session, req.UserID)

	contentKind := req.ContentKind
	if contentKind == "" {
		contentKind = models.MessageText
	}

	now := m.nowFunc()
	id := uuid.NewString()
	turn := &models.Turn{
		ID:            id,
		SessionID:     session.ID,
		Ordinal:       ordinal,
		InitiatorID:   req.UserID,
		InitiatorKind: initiatorKind,
		ResponderID:   responderID,
		ResponderKind: responderKind,
		Status:        models.TurnPending,
		StartedAt:     now,
		Requests: []models.Message{{
			ID:         uuid.NewString(),
			TurnID:     id,
			Content:    req.Content,
			Kind:       contentKind,
			SenderID:   req.UserID,
			SenderKind: initiatorKind,
			CreatedAt:  now,
		}},
	}
	if err := m.deps.Turns.Create(ctx, turn); err != nil {
		return nil, storeErr(op, err)
	}
	turn.Status = models.TurnInProgress
	if err := m.deps.Turns.Update(ctx, turn); err != nil {
		return nil, storeErr(op, err)
	}
	return turn, nil
}

// counterpart picks who answers the initiator: the first AI participant
// when one exists, otherwise the first other participant, otherwise the
// configured assistant.
func (m *Manager) counterpart(session *models.Session, initiatorID string) (string, models.ParticipantKind) {
	var otherID string
	var otherKind models.ParticipantKind
	for _, p := range session.Participants {
		if p.ID == initiatorID {
			continue
		}
		if p.Kind == models.ParticipantAI {
			return p.ID, p.Kind
		}
		if otherID == "" {
			otherID = p.ID
			otherKind = p.Kind
		}
	}
	if otherID != "" {
		return otherID, otherKind
	}
	return m.cfg.AssistantID, models.ParticipantAI
}

// assembleRequest builds the model request: the system head (base
// prompt, relationship block, continuation directive), the trimmed
// history, the new utterance, and any injected side-channel context.
func (m *Manager) assembleRequest(ctx context.Context, turn *models.Turn, history []models.Message, req ProcessRequest, pol policy) *llm.GenerateRequest {
	system := m.cfg.SystemPrompt

	if pol.relationships && m.deps.Relationships != nil {
		if block := m.deps.Relationships.ContextFor(ctx, turn.InitiatorID, turn.ResponderID); block != "" {
			system = joinBlocks(system, block)
		}
	}

	histTurns := make([]contextproc.HistoryTurn, 0, len(history))
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, msg := range history {
		histTurns = append(histTurns, contextproc.HistoryTurn{
			Speaker: speakerFor(msg.SenderKind),
			Text:    msg.Content,
		})
		msgs = append(msgs, llm.Message{Role: roleFor(msg.SenderKind), Content: msg.Content})
	}
	if topic, ok := contextproc.DetectContinuation(histTurns, req.Content); ok {
		system = joinBlocks(system, contextproc.ContinuationDirective(topic))
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Content})

	genReq := &llm.GenerateRequest{
		Model:       m.cfg.Model,
		System:      system,
		Messages:    msgs,
		Temperature: m.cfg.Temperature,
		MaxTokens:   m.cfg.MaxTokens,
	}
	m.injectContext(genReq, req.SideChannel)
	return genReq
}

// injectContext renders the side channel and places it per the
// configured mode. Injection is best effort: a rejected side channel
// logs and the turn proceeds without it.
func (m *Manager) injectContext(genReq *llm.GenerateRequest, side map[string]any) {
	if m.deps.Processor == nil || m.deps.Injector == nil || len(side) == 0 {
		return
	}
	cctx, err := m.deps.Processor.Process(stripHints(side))
	if err != nil {
		m.logger.Warn("side channel rejected", "error", err)
		if m.deps.Metrics != nil {
			m.deps.Metrics.RecordError("dialogue", string(errs.KindOf(err)))
		}
		return
	}
	prefix := contextproc.Render(cctx)
	if prefix == "" {
		return
	}
	if m.deps.Injector.Inject(genReq, m.cfg.InjectMode, prefix) && m.deps.Metrics != nil {
		m.deps.Metrics.RecordContextInjection(string(cctx.Kind))
	}
}

// runToolLoop drives the decide/execute cycle. The first decision reads
// the inbound utterance with the side-channel hints; each following
// decision reads the synthetic block just appended, so a tool result
// that asks for more work keeps the loop going until the per-turn cap.
// Tool timeouts and internal tool bugs record a failed invocation and
// the turn continues; any other failure aborts it. Every iteration
// persists the turn so invocation records survive a later crash.
func (m *Manager) runToolLoop(ctx context.Context, turn *models.Turn, genReq *llm.GenerateRequest, req ProcessRequest) ([]*tools.Outcome, error) {
	const op = "dialogue.toolLoop"

	decision, err := m.deps.Decider.Decide(ctx, req.Content, req.SideChannel)
	if err != nil {
		return nil, errs.Wrap(errs.Classify(err), op, err)
	}

	var outcomes []*tools.Outcome
	for decision != nil && decision.UseTool && len(outcomes) < m.cfg.MaxToolCalls {
		if err := ctx.Err(); err != nil {
			return outcomes, errs.Wrap(errs.KindCancelled, op, err)
		}

		outcome := m.deps.Invoker.Execute(ctx, tools.Call{
			TurnID:  turn.ID,
			Name:    decision.Tool,
			Version: decision.Version,
			Args:    decision.Args,
		})
		outcomes = append(outcomes, outcome)
		turn.Invocations = append(turn.Invocations, *outcome.Invocation)
		if err := m.deps.Turns.Update(ctx, turn); err != nil {
			return outcomes, storeErr(op, err)
		}

		block := outcome.Block()
		genReq.Messages = append(genReq.Messages, llm.Message{Role: llm.RoleUser, Content: block})

		if !outcome.Succeeded() {
			switch errs.KindOf(outcome.Err) {
			case errs.KindTimeout, errs.KindInternal:
				// Recoverable locally; the model sees the error block.
			default:
				return outcomes, outcome.Err
			}
		}

		decision, err = m.deps.Decider.Decide(ctx, block, nil)
		if err != nil {
			return outcomes, errs.Wrap(errs.Classify(err), op, err)
		}
	}
	return outcomes, nil
}

// generate calls the model with bounded retries for transient failures.
func (m *Manager) generate(ctx context.Context, genReq *llm.GenerateRequest) (*llm.GenerateResult, error) {
	const op = "dialogue.generate"
	start := m.nowFunc()
	result, res := retry.DoWithValue(ctx, retry.Config{MaxAttempts: m.cfg.RetryAttempts + 1},
		func() (*llm.GenerateResult, error) {
			r, err := m.deps.Client.Generate(ctx, genReq)
			if err != nil {
				return nil, errs.Wrap(errs.Classify(err), op, err)
			}
			return r, nil
		})
	elapsed := m.nowFunc().Sub(start).Seconds()

	if res.Err != nil {
		if m.deps.Metrics != nil {
			m.deps.Metrics.RecordModelRequest(m.deps.Client.Name(), genReq.Model, "error", elapsed, 0, 0)
		}
		if res.Attempts > 1 {
			m.logger.Warn("model call failed after retries",
				"attempts", res.Attempts,
				"error", res.Err)
		}
		return nil, res.Err
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordModelRequest(m.deps.Client.Name(), genReq.Model, "ok", elapsed,
			result.Usage.InputTokens, result.Usage.OutputTokens)
	}
	return result, nil
}

// transcribe completes a turn for kinds that never call the model: the
// utterance stands recorded and a system receipt closes the turn so
// completed turns always carry a response.
func (m *Manager) transcribe(ctx context.Context, session *models.Session, turn *models.Turn, started time.Time) (*ProcessResult, error) {
	const op = "dialogue.transcribe"
	now := m.nowFunc()
	turn.Responses = append(turn.Responses, models.Message{
		ID:         uuid.NewString(),
		TurnID:     turn.ID,
		Kind:       models.MessageText,
		SenderID:   "system",
		SenderKind: models.ParticipantSystem,
		Tags:       map[string]any{"transcribed": true},
		CreatedAt:  now,
	})
	turn.Status = models.TurnCompleted
	turn.EndedAt = &now
	if err := m.deps.Turns.Update(ctx, turn); err != nil {
		return nil, storeErr(op, err)
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordTurn(string(session.Kind), string(models.TurnCompleted),
			m.nowFunc().Sub(started).Seconds())
	}

	rec := m.notifyRelationship(ctx, session, turn, "", nil)
	return &ProcessResult{
		SessionID: session.ID,
		TurnID:    turn.ID,
		ReplyTags: m.replyTags(ctx, started, turn, nil, nil, rec),
	}, nil
}

// failTurn persists a failed turn with a user-facing error summary as
// its response message; in-flight invocations read as cancelled. The
// write survives caller cancellation.
func (m *Manager) failTurn(ctx context.Context, session *models.Session, turn *models.Turn, started time.Time, cause error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	now := m.nowFunc()
	for i := range turn.Invocations {
		if !turn.Invocations[i].Status.Terminal() {
			turn.Invocations[i].Status = models.InvocationCancelled
			turn.Invocations[i].CompletedAt = &now
		}
	}
	turn.Responses = append(turn.Responses, models.Message{
		ID:         uuid.NewString(),
		TurnID:     turn.ID,
		Content:    errs.Summary(cause),
		Kind:       models.MessageText,
		SenderID:   turn.ResponderID,
		SenderKind: turn.ResponderKind,
		Tags:       map[string]any{"error": true},
		CreatedAt:  now,
	})
	turn.Status = models.TurnFailed
	turn.EndedAt = &now
	if err := m.deps.Turns.Update(pctx, turn); err != nil {
		m.logger.Error("failed turn not persisted", "turn", turn.ID, "error", err)
	}

	kind := errs.KindOf(cause)
	m.logger.Warn("turn failed",
		"session", session.ID,
		"turn", turn.ID,
		"kind", string(kind),
		"error", cause)
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordTurn(string(session.Kind), string(models.TurnFailed),
			m.nowFunc().Sub(started).Seconds())
		m.deps.Metrics.RecordError("dialogue", string(kind))
	}
}

// notifyRelationship reports the exchange to the relationship engine
// with rounds=1, resonance from the affect-token scan of the reply, and
// collaboration hints folded out of tool results. Failures log and
// never block the reply.
func (m *Manager) notifyRelationship(ctx context.Context, session *models.Session, turn *models.Turn, reply string, outcomes []*tools.Outcome) *models.Relationship {
	if m.deps.Relationships == nil {
		return nil
	}
	tags := map[string]any{"rounds": 1}
	if reply != "" && containsAffectiveToken(reply, m.cfg.AffectiveTokens) {
		tags["emotional_resonance"] = true
	}
	if collab := collaborationHints(outcomes); len(collab) > 0 {
		tags["collaboration"] = collab
	}

	rec, err := m.deps.Relationships.Update(ctx,
		relationship.Party{ID: turn.InitiatorID, Kind: turn.InitiatorKind},
		relationship.Party{ID: turn.ResponderID, Kind: turn.ResponderKind},
		tags)
	if err != nil {
		m.logger.Warn("relationship update failed",
			"session", session.ID,
			"error", err)
		if m.deps.Metrics != nil {
			m.deps.Metrics.RecordError("dialogue", string(errs.KindOf(err)))
		}
		return nil
	}
	return rec
}

// replyTags assembles the reply metadata: processing time, token
// counters, invocation summaries, and the relationship snapshot.
func (m *Manager) replyTags(ctx context.Context, started time.Time, turn *models.Turn, usage *llm.Usage, results []ToolResult, rec *models.Relationship) map[string]any {
	tags := map[string]any{
		"processing_ms": m.nowFunc().Sub(started).Milliseconds(),
		"turn_ordinal":  turn.Ordinal,
	}
	if usage != nil {
		tags["input_tokens"] = usage.InputTokens
		tags["output_tokens"] = usage.OutputTokens
	}
	if len(results) > 0 {
		tags["tools"] = results
	}
	if rec != nil {
		snap := map[string]any{
			"id":           rec.ID,
			"status":       string(rec.Status),
			"total_rounds": rec.TotalRounds,
			"active_days":  rec.ActiveDays,
		}
		if intensity, err := m.deps.Relationships.Intensity(ctx, rec.ID); err == nil {
			snap["score"] = intensity.Score
			snap["level"] = string(intensity.Level)
		}
		tags["relationship"] = snap
	}
	return tags
}

// historyMessages flattens prior turns into chronological messages and
// keeps the last limit entries.
func historyMessages(prior []*models.Turn, limit int) []models.Message {
	var history []models.Message
	for _, t := range prior {
		history = append(history, t.Requests...)
		history = append(history, t.Responses...)
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

// toolResults summarizes outcomes for the caller.
func toolResults(outcomes []*tools.Outcome) []ToolResult {
	if len(outcomes) == 0 {
		return nil
	}
	results := make([]ToolResult, 0, len(outcomes))
	for _, o := range outcomes {
		inv := o.Invocation
		results = append(results, ToolResult{
			Tool:    inv.ToolName,
			Version: inv.ToolVersion,
			Status:  string(inv.Status),
			Result:  inv.Result,
			Error:   inv.Error,
		})
	}
	return results
}

// containsAffectiveToken reports whether the reply carries any of the
// configured warmth markers, case-insensitively.
func containsAffectiveToken(reply string, tokens []string) bool {
	folded := strings.ToLower(reply)
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if strings.Contains(folded, strings.ToLower(tok)) {
			return true
		}
	}
	return false
}

// collaborationHints folds collaboration counters out of successful
// tool results. A tool reports collaboration by returning JSON with a
// top-level "collaboration" object, e.g. {"collaboration":{"diary":1}}.
func collaborationHints(outcomes []*tools.Outcome) map[string]any {
	var totals map[string]any
	for _, o := range outcomes {
		if !o.Succeeded() {
			continue
		}
		var payload struct {
			Collaboration map[string]float64 `json:"collaboration"`
		}
		if err := json.Unmarshal([]byte(o.Text), &payload); err != nil {
			continue
		}
		for key, v := range payload.Collaboration {
			n := int(v)
			if n <= 0 {
				continue
			}
			if totals == nil {
				totals = make(map[string]any, 3)
			}
			if prev, ok := totals[key].(int); ok {
				totals[key] = prev + n
			} else {
				totals[key] = n
			}
		}
	}
	return totals
}

// hintKeys are the side-channel keys reserved for tool forcing; they
// never render as context.
var hintKeys = map[string]struct{}{
	"tool":         {},
	"tool_version": {},
	"tool_args":    {},
}

func stripHints(side map[string]any) map[string]any {
	out := make(map[string]any, len(side))
	for k, v := range side {
		if _, reserved := hintKeys[k]; reserved {
			continue
		}
		out[k] = v
	}
	return out
}

func roleFor(kind models.ParticipantKind) llm.Role {
	switch kind {
	case models.ParticipantAI:
		return llm.RoleAssistant
	case models.ParticipantSystem:
		return llm.RoleSystem
	default:
		return llm.RoleUser
	}
}

func speakerFor(kind models.ParticipantKind) string {
	if kind == models.ParticipantAI {
		return "assistant"
	}
	return "user"
}

func joinBlocks(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "\n\n" + b
}

// storeErr maps storage failures onto the taxonomy.
func storeErr(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errs.Wrap(errs.KindNotFound, op, err)
	}
	return errs.Wrap(errs.KindUnavailable, op, err)
}
