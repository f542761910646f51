package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/internal/media"
	"github.com/haasonsaas/rapport/internal/observability"
	"github.com/haasonsaas/rapport/pkg/models"
)

// Call describes one requested tool execution.
type Call struct {
	TurnID string
	Name   string
	// Version is the requested version; empty resolves the default.
	Version string
	// Args is the raw argument payload: a map, or a bare value that
	// gets folded under the "input" key. Bare payloads for migrating
	// tools are treated as legacy-shaped and upgraded.
	Args any
}

// Outcome bundles the invocation record with everything the dialogue
// loop needs to continue: the result text (or error descriptor), the
// raw error for policy decisions, and any deprecation notice.
type Outcome struct {
	Invocation *models.ToolInvocation
	Text       string
	Err        error
	Notice     string
}

// Succeeded reports whether the invocation completed.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Invocation != nil && o.Invocation.Status == models.InvocationCompleted
}

// Block renders the synthetic tool-result block appended to the model
// context.
func (o *Outcome) Block() string {
	name := o.Invocation.ToolName
	if v := o.Invocation.ToolVersion; v != "" {
		name = fmt.Sprintf("%s v%s", name, v)
	}
	if o.Succeeded() {
		return fmt.Sprintf("tool result (%s): %s", name, o.Text)
	}
	return fmt.Sprintf("tool result (%s): error: %s", name, o.Invocation.Error)
}

// InvokerConfig bounds tool execution.
type InvokerConfig struct {
	// Timeout is the per-call deadline. Defaults to 30s.
	Timeout time.Duration
	// MaxConcurrent bounds simultaneous executions. Defaults to 8.
	MaxConcurrent int
}

func sanitizeInvokerConfig(cfg InvokerConfig) InvokerConfig {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	return cfg
}

// Invoker executes tools resolved through the registry, recording every
// attempt as a ToolInvocation. Executions run on a bounded pool with a
// per-call timeout and panic isolation; multimodal payload references
// are materialized to temp artifacts and cleaned up on every exit path.
type Invoker struct {
	registry *Registry
	media    *media.Materializer
	metrics  *observability.Metrics
	logger   *slog.Logger
	cfg      InvokerConfig
	sem      chan struct{}
	nowFn    func() time.Time
}

// NewInvoker builds an invoker. The materializer and metrics may be nil
// when multimodal dispatch or instrumentation is not needed.
func NewInvoker(registry *Registry, materializer *media.Materializer, cfg InvokerConfig, logger *slog.Logger, metrics *observability.Metrics) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = sanitizeInvokerConfig(cfg)
	return &Invoker{
		registry: registry,
		media:    materializer,
		metrics:  metrics,
		logger:   logger.With("component", "tools"),
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		nowFn:    time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (inv *Invoker) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		inv.nowFn = fn
	}
}

// Execute resolves and runs one tool call. It never returns a Go error:
// resolution and execution failures land in the outcome's invocation
// record so the turn can continue, with Err carrying the typed cause.
func (inv *Invoker) Execute(ctx context.Context, call Call) *Outcome {
	const op = "tools.Invoker.Execute"
	started := inv.nowFn()
	invocation := &models.ToolInvocation{
		ID:        uuid.NewString(),
		TurnID:    call.TurnID,
		ToolName:  strings.TrimSpace(call.Name),
		Status:    models.InvocationPending,
		CreatedAt: started,
	}
	outcome := &Outcome{Invocation: invocation}

	fail := func(err error) *Outcome {
		outcome.Err = err
		invocation.Error = err.Error()
		if errs.IsKind(err, errs.KindCancelled) {
			invocation.Status = models.InvocationCancelled
		} else {
			invocation.Status = models.InvocationFailed
		}
		done := inv.nowFn()
		invocation.CompletedAt = &done
		inv.record(invocation, done.Sub(started))
		return outcome
	}

	if invocation.ToolName == "" {
		return fail(errs.E(errs.KindInvalidArgument, op, "tool name is empty"))
	}

	res, err := inv.registry.Resolve(invocation.ToolName, call.Version)
	if err != nil {
		return fail(err)
	}
	invocation.ToolVersion = res.Version
	outcome.Notice = res.Notice
	if res.Deprecated {
		inv.logger.Warn("invoking deprecated tool version",
			"tool", res.Name,
			"version", res.Version,
			"notice", res.Notice)
	}

	args, bare := normalizeCallArgs(call.Args)
	if err := checkArgsSize(args); err != nil {
		return fail(errs.Wrap(errs.KindInvalidArgument, op, err))
	}
	args, err = inv.migrate(res, call.Version, bare, args)
	if err != nil {
		return fail(err)
	}
	invocation.Args = args

	args, artifact, err := inv.materialize(ctx, res.Tool, args)
	if err != nil {
		return fail(errs.Wrap(errs.KindInvalidArgument, op, err))
	}
	if artifact != nil {
		defer func() {
			if cerr := artifact.Cleanup(); cerr != nil {
				inv.logger.Warn("artifact cleanup failed",
					"path", artifact.Path,
					"error", cerr)
			}
		}()
	}

	invocation.Status = models.InvocationRunning
	text, err := inv.run(ctx, res.Tool, args)
	if err != nil {
		return fail(err)
	}

	invocation.Status = models.InvocationCompleted
	invocation.Result = text
	outcome.Text = text
	done := inv.nowFn()
	invocation.CompletedAt = &done
	inv.record(invocation, done.Sub(started))
	return outcome
}

// migrate upgrades arguments when the resolved version differs from the
// requested one, or when a bare payload hit a tool that knows how to
// lift legacy argument shapes.
func (inv *Invoker) migrate(res *Resolution, requested string, bare bool, args map[string]any) (map[string]any, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" && requested != res.Version {
		return MigrateArgs(res, requested, args)
	}
	if bare {
		if _, ok := res.Tool.(Migrator); ok {
			return MigrateArgs(res, Series(res.MinCompatible), args)
		}
	}
	return args, nil
}

// materialize resolves a payload reference for tools that declared a
// binary modality: the reference is fetched or decoded into a temp
// artifact and the args are rewritten to {path, media_type, source}.
func (inv *Invoker) materialize(ctx context.Context, t Tool, args map[string]any) (map[string]any, *media.Artifact, error) {
	if inv.media == nil || !hasBinaryModality(t) {
		return args, nil, nil
	}
	key, ref := payloadRef(args)
	if ref == "" {
		return args, nil, nil
	}
	artifact, err := inv.media.Materialize(ctx, ref, "")
	if err != nil {
		return nil, nil, err
	}
	out := make(map[string]any, len(args)+3)
	for k, v := range args {
		if k == key {
			continue
		}
		out[k] = v
	}
	out["path"] = artifact.Path
	out["media_type"] = artifact.MediaType
	out["source"] = string(artifact.Source)
	return out, artifact, nil
}

// run executes the tool body on the bounded pool with the per-call
// timeout. Panics become Internal errors instead of taking the process
// down.
func (inv *Invoker) run(ctx context.Context, t Tool, args map[string]any) (string, error) {
	const op = "tools.Invoker.run"
	select {
	case inv.sem <- struct{}{}:
		defer func() { <-inv.sem }()
	case <-ctx.Done():
		return "", errs.Wrap(errs.KindCancelled, op, ctx.Err())
	}

	cctx, cancel := context.WithTimeout(ctx, inv.cfg.Timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- result{err: errs.Errorf(errs.KindInternal, op, "tool panicked: %v", r)}
			}
		}()
		text, err := t.Invoke(cctx, args)
		resultCh <- result{text: text, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return "", errs.Wrap(errs.Classify(r.err), op, r.err)
		}
		return r.text, nil
	case <-cctx.Done():
		// Timeout and caller cancellation both land here; Wrap keeps
		// the canonical kind for each.
		return "", errs.Wrap(errs.KindTimeout, op, cctx.Err())
	}
}

func (inv *Invoker) record(invocation *models.ToolInvocation, elapsed time.Duration) {
	if inv.metrics != nil {
		inv.metrics.RecordToolInvocation(invocation.ToolName, string(invocation.Status), elapsed.Seconds())
	}
	inv.logger.Debug("tool invocation finished",
		"tool", invocation.ToolName,
		"version", invocation.ToolVersion,
		"status", string(invocation.Status),
		"elapsed_ms", elapsed.Milliseconds())
}

// normalizeCallArgs folds the raw payload into a bag and reports
// whether it arrived bare (non-map).
func normalizeCallArgs(raw any) (map[string]any, bool) {
	if raw == nil {
		return map[string]any{}, false
	}
	if m, ok := raw.(map[string]any); ok {
		if m == nil {
			return map[string]any{}, false
		}
		return m, false
	}
	return NormalizeArgs(raw), true
}

func checkArgsSize(args map[string]any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("args not serializable: %w", err)
	}
	if len(data) > MaxArgsSize {
		return fmt.Errorf("args too large: %d bytes (max %d)", len(data), MaxArgsSize)
	}
	return nil
}

func hasBinaryModality(t Tool) bool {
	for _, m := range t.Modalities() {
		switch m {
		case ModalityImage, ModalityAudio, ModalityVideo, ModalityFile, ModalityMixed:
			return true
		}
	}
	return false
}

// payloadRef finds the first argument that looks like a payload
// reference, checking the conventional keys in order.
func payloadRef(args map[string]any) (string, string) {
	for _, key := range []string{"payload", "ref", "url", "image", "input"} {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok && looksLikeRef(s) {
				return key, s
			}
		}
	}
	return "", ""
}

func looksLikeRef(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "data:") {
		return true
	}
	// Long unbroken strings are likely raw base64 payloads.
	return len(s) >= 64 && !strings.ContainsAny(s, " \t\n")
}
