// Package builtin ships the tools every deployment gets without any
// discovery configuration: arithmetic, clock, echo, memory recall, and
// image description.
package builtin

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/haasonsaas/rapport/internal/tools"
)

var calculatorTriggers = []string{"calculate", "compute", "how much is", "what is"}

func matchesAny(text string, triggers []string) bool {
	for _, t := range triggers {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// CalculatorV1 evaluates an arithmetic expression given as a raw
// string. Superseded by CalculatorV2, which adds precision control.
type CalculatorV1 struct{}

func (CalculatorV1) Name() string { return "calculator" }
func (CalculatorV1) Description() string { return "Evaluates an arithmetic expression." }
func (CalculatorV1) Usage() string {
	return `a raw expression string, e.g. "12*(3+4)"`
}
func (CalculatorV1) Modalities() []string { return []string{tools.ModalityText} }
func (CalculatorV1) Version() string { return "1.0.0" }
func (CalculatorV1) MinCompatible() string { return "1.0.0" }
func (CalculatorV1) Deprecated() (bool, string) { return false, "" }

func (CalculatorV1) Triggers(text string) bool {
	return matchesAny(text, calculatorTriggers)
}

func (CalculatorV1) Invoke(ctx context.Context, args map[string]any) (string, error) {
	expr := tools.StringArg(args, "expression")
	if expr == "" {
		return "", fmt.Errorf("expression is required")
	}
	v, err := evalExpression(expr)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

// CalculatorV2 adds a precision argument and lifts v1's raw-string
// arguments via migration.
type CalculatorV2 struct{}

func (CalculatorV2) Name() string { return "calculator" }
func (CalculatorV2) Description() string { return "Evaluates an arithmetic expression with fixed precision." }
func (CalculatorV2) Usage() string {
	return `{"expression": "12*(3+4)", "precision": 2}`
}
func (CalculatorV2) Modalities() []string { return []string{tools.ModalityText} }
func (CalculatorV2) Version() string { return "2.0.0" }
func (CalculatorV2) MinCompatible() string { return "1.0.0" }
func (CalculatorV2) Deprecated() (bool, string) { return false, "" }

func (CalculatorV2) Triggers(text string) bool {
	return matchesAny(text, calculatorTriggers)
}

// MigrateFrom lifts 1.x arguments: a raw expression string becomes
// {expression, precision: 2}.
func (CalculatorV2) MigrateFrom(fromVersion string, args map[string]any) (map[string]any, error) {
	expr := tools.StringArg(args, "expression")
	if expr == "" {
		return nil, fmt.Errorf("cannot migrate args from %s: no expression", fromVersion)
	}
	return map[string]any{"expression": expr, "precision": 2}, nil
}

func (CalculatorV2) Invoke(ctx context.Context, args map[string]any) (string, error) {
	expr := tools.StringArg(args, "expression")
	if expr == "" {
		return "", fmt.Errorf("expression is required")
	}
	precision := 2
	switch p := args["precision"].(type) {
	case int:
		precision = p
	case float64:
		precision = int(p)
	}
	if precision < 0 || precision > 12 {
		return "", fmt.Errorf("precision must be in 0..12")
	}
	v, err := evalExpression(expr)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(v, 'f', precision, 64), nil
}

// evalExpression parses and evaluates + - * / with parentheses and
// unary minus, by recursive descent.
func evalExpression(input string) (float64, error) {
	p := &exprParser{input: input}
	v, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected %q at offset %d", p.input[p.pos], p.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("expression result is not finite")
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) peek() (byte, bool) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

func (p *exprParser) parseSum() (float64, error) {
	v, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '+' && c != '-') {
			return v, nil
		}
		p.pos++
		rhs, err := p.parseProduct()
		if err != nil {
			return 0, err
		}
		if c == '+' {
			v += rhs
		} else {
			v -= rhs
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	v, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '*' && c != '/') {
			return v, nil
		}
		p.pos++
		rhs, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if c == '*' {
			v *= rhs
		} else {
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			v /= rhs
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	c, ok := p.peek()
	if ok && c == '-' {
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	}
	return p.parseAtom()
}

func (p *exprParser) parseAtom() (float64, error) {
	c, ok := p.peek()
	if !ok {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	if c == '(' {
		p.pos++
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		c, ok = p.peek()
		if !ok || c != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			p.pos++
			continue
		}
		break
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected a number at offset %d", start)
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", p.input[start:p.pos])
	}
	return v, nil
}
