package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/haasonsaas/rapport/pkg/toolsdk"
)

// runnerFunc executes a tool command and returns its stdout. Swappable
// for tests.
type runnerFunc func(ctx context.Context, argv []string, dir string) ([]byte, error)

func defaultRunner(ctx context.Context, argv []string, dir string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// The protocol reports failures as JSON on stdout with a
		// nonzero exit; pass stdout through when it holds a payload.
		if stdout.Len() > 0 {
			return stdout.Bytes(), nil
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s: %w", argv[0], err)
		}
		return nil, fmt.Errorf("%s: %w: %s", argv[0], err, msg)
	}
	return stdout.Bytes(), nil
}

// SubprocessTool runs a manifest-declared executable per invocation,
// speaking the toolsdk JSON-over-stdio protocol. The subprocess never
// shares the engine's address space, so a crashing tool costs one
// invocation, not the process.
type SubprocessTool struct {
	manifest *Manifest
	dir      string
	timeout  time.Duration
	run      runnerFunc
}

// NewSubprocessTool wraps a manifest. The command runs with the
// manifest's directory as working directory so relative paths resolve.
func NewSubprocessTool(m *Manifest, dir string) *SubprocessTool {
	timeout := time.Duration(m.TimeoutMS) * time.Millisecond
	return &SubprocessTool{
		manifest: m,
		dir:      dir,
		timeout:  timeout,
		run:      defaultRunner,
	}
}

func (t *SubprocessTool) Name() string        { return t.manifest.Name }
func (t *SubprocessTool) Description() string { return t.manifest.Description }
func (t *SubprocessTool) Usage() string       { return t.manifest.Usage }

func (t *SubprocessTool) Modalities() []string {
	if len(t.manifest.Modalities) == 0 {
		return []string{ModalityText}
	}
	return t.manifest.Modalities
}

func (t *SubprocessTool) Version() string       { return t.manifest.Version }
func (t *SubprocessTool) MinCompatible() string { return t.manifest.MinCompatible }

func (t *SubprocessTool) Deprecated() (bool, string) {
	if t.manifest.Status == string(StatusDeprecated) {
		return true, fmt.Sprintf("%s %s is deprecated", t.manifest.Name, t.manifest.Version)
	}
	return false, ""
}

// Triggers matches the manifest's trigger substrings against the folded
// utterance.
func (t *SubprocessTool) Triggers(text string) bool {
	for _, trig := range t.manifest.Triggers {
		trig = foldText(trig)
		if trig != "" && strings.Contains(text, trig) {
			return true
		}
	}
	return false
}

// Invoke shells out one protocol call and decodes the response.
func (t *SubprocessTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args: %w", err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	argv := append(append([]string(nil), t.manifest.Command...),
		"invoke",
		"-tool", t.manifest.Name,
		"-version", t.manifest.Version,
		"-args", string(payload),
	)
	out, err := t.run(ctx, argv, t.dir)
	if err != nil {
		return "", err
	}

	var resp toolsdk.InvokeResponse
	if err := json.Unmarshal(bytes.TrimSpace(out), &resp); err != nil {
		return "", fmt.Errorf("decode tool response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%s", resp.Error)
	}
	if resp.Result == nil {
		return "", fmt.Errorf("tool response missing result")
	}
	if resp.Result.IsError {
		return "", fmt.Errorf("%s", resp.Result.Content)
	}
	return resp.Result.Content, nil
}

// DescribeCommand queries the executable's own catalog. Used by the CLI
// to inspect what a manifest's binary actually serves.
func (t *SubprocessTool) DescribeCommand(ctx context.Context) ([]toolsdk.Definition, error) {
	argv := append(append([]string(nil), t.manifest.Command...), "describe")
	out, err := t.run(ctx, argv, t.dir)
	if err != nil {
		return nil, err
	}
	var resp toolsdk.DescribeResponse
	if err := json.Unmarshal(bytes.TrimSpace(out), &resp); err != nil {
		return nil, fmt.Errorf("decode describe response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp.Tools, nil
}
