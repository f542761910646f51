// Package toolsdk is the SDK for out-of-process tools.
//
// A tool binary registers its definitions and handlers on a Runtime and
// hands control to Main, which speaks the engine's JSON-over-stdio
// protocol: `describe` prints the tool catalog, `invoke -tool NAME`
// reads JSON arguments and prints the result. The engine discovers such
// binaries through *.tool.yaml manifests and shells out per call, so
// foreign code never shares the engine's address space.
package toolsdk

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Definition describes one tool a binary serves.
type Definition struct {
	Name          string   `json:"name"`
	Version       string   `json:"version,omitempty"`
	MinCompatible string   `json:"min_compatible,omitempty"`
	Description   string   `json:"description,omitempty"`
	Usage         string   `json:"usage,omitempty"`
	Modalities    []string `json:"modalities,omitempty"`
	// Triggers lists lowercase substrings that suggest this tool for an
	// utterance. Used by the engine's rule-based decision mode.
	Triggers []string `json:"triggers,omitempty"`
	// Schema optionally constrains the invoke arguments (JSON Schema).
	Schema json.RawMessage `json:"schema,omitempty"`
}

// Result is the outcome of one tool invocation. Tool-level failures
// travel as IsError=true so the engine can surface them without losing
// the turn.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Handler executes a tool with raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (*Result, error)

// DescribeResponse is the payload printed by the describe command.
type DescribeResponse struct {
	Tools []Definition `json:"tools"`
	Error string       `json:"error,omitempty"`
}

// InvokeResponse is the payload printed by the invoke command.
type InvokeResponse struct {
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Runtime hosts tool registrations and serves the stdio protocol.
type Runtime struct {
	defs     []Definition
	handlers map[string]Handler

	// Out receives protocol responses. Defaults to os.Stdout.
	Out io.Writer
	// Errout receives usage and diagnostics. Defaults to os.Stderr.
	Errout io.Writer
}

// NewRuntime returns an empty runtime writing to stdout/stderr.
func NewRuntime() *Runtime {
	return &Runtime{
		handlers: make(map[string]Handler),
		Out:      os.Stdout,
		Errout:   os.Stderr,
	}
}

// Register adds a tool. Names are required and unique per version.
func (r *Runtime) Register(def Definition, handler Handler) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %q: handler is required", name)
	}
	def.Name = name
	key := registrationKey(name, def.Version)
	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("tool %q version %q already registered", name, def.Version)
	}
	r.defs = append(r.defs, def)
	r.handlers[key] = handler
	return nil
}

// Definitions returns the registered catalog in registration order.
func (r *Runtime) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Invoke runs the named tool. An empty version matches the first
// registration for the name.
func (r *Runtime) Invoke(ctx context.Context, name, version string, args json.RawMessage) (*Result, error) {
	handler, ok := r.handlers[registrationKey(name, version)]
	if !ok && version == "" {
		for _, def := range r.defs {
			if def.Name == name {
				handler = r.handlers[registrationKey(name, def.Version)]
				ok = true
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("tool %q not registered", name)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	return handler(ctx, args)
}

// Main dispatches the protocol subcommand in args and returns the
// process exit code. Tool binaries call os.Exit(rt.Main(os.Args[1:])).
func (r *Runtime) Main(args []string) int {
	if len(args) == 0 {
		r.usage()
		return 2
	}
	switch args[0] {
	case "describe":
		return r.runDescribe()
	case "invoke":
		return r.runInvoke(args[1:])
	default:
		r.usage()
		return 2
	}
}

func (r *Runtime) usage() {
	fmt.Fprintln(r.Errout, "Usage: <tool-binary> <describe|invoke> [options]")
}

func (r *Runtime) runDescribe() int {
	return r.writeJSON(DescribeResponse{Tools: r.Definitions()})
}

func (r *Runtime) runInvoke(args []string) int {
	flags := flag.NewFlagSet("invoke", flag.ContinueOnError)
	flags.SetOutput(r.Errout)
	toolName := flags.String("tool", "", "Tool name")
	toolVersion := flags.String("version", "", "Tool version")
	argsJSON := flags.String("args", "", "Tool args JSON")
	argsFile := flags.String("args-file", "", "Tool args file")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if strings.TrimSpace(*toolName) == "" {
		return r.writeInvokeError(fmt.Errorf("tool name is required"))
	}
	payload, err := loadArgs(*argsJSON, *argsFile)
	if err != nil {
		return r.writeInvokeError(err)
	}

	result, err := r.Invoke(context.Background(), strings.TrimSpace(*toolName), strings.TrimSpace(*toolVersion), payload)
	if err != nil {
		return r.writeInvokeError(err)
	}
	return r.writeJSON(InvokeResponse{Result: result})
}

// loadArgs resolves a raw JSON string or file path into bytes. Empty
// inputs yield an empty object; setting both is an error.
func loadArgs(raw, file string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	file = strings.TrimSpace(file)
	if raw != "" && file != "" {
		return nil, fmt.Errorf("args and args-file are mutually exclusive")
	}
	var data []byte
	switch {
	case raw != "":
		data = []byte(raw)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		data = b
	default:
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("args must be valid JSON")
	}
	return json.RawMessage(data), nil
}

func (r *Runtime) writeInvokeError(err error) int {
	r.writeJSON(InvokeResponse{Error: err.Error()})
	return 1
}

func (r *Runtime) writeJSON(payload any) int {
	enc := json.NewEncoder(r.Out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		fmt.Fprintln(r.Errout, err.Error())
		return 1
	}
	return 0
}

func registrationKey(name, version string) string {
	if version == "" {
		return name
	}
	return name + "@" + version
}
