// Package expressions evaluates JMESPath expressions against routed events. Automation
// rules use it to pull customer identifiers out of provider payloads and to render
// task text.
package expressions

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// Evaluator compiles expressions once and reuses them
type Evaluator struct {
	mu       sync.RWMutex
	compiled map[string]*jmespath.JMESPath
}

func NewEvaluator() *Evaluator {
	return &Evaluator{compiled: make(map[string]*jmespath.JMESPath)}
}

// Evaluate runs expression against data
func (e *Evaluator) Evaluate(expression string, data any) (any, error) {
	compiled, err := e.compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

// EvaluateString renders the result as text. Null is the empty string; whole numbers
// have no decimal point.
func (e *Evaluator) EvaluateString(expression string, data any) (string, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return "", err
	}
	return toString(result), nil
}

// EvaluateStrings flattens the result into non-empty strings. A scalar becomes a
// one-element slice.
func (e *Evaluator) EvaluateStrings(expression string, data any) ([]string, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return nil, err
	}
	var out []string
	collect(result, &out)
	return out, nil
}

// Validate compiles expression without running it
func (e *Evaluator) Validate(expression string) error {
	_, err := e.compile(expression)
	return err
}

func (e *Evaluator) compile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	compiled, ok := e.compiled[expression]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.compiled[expression] = compiled
	e.mu.Unlock()
	return compiled, nil
}

func collect(v any, out *[]string) {
	switch t := v.(type) {
	case nil:
	case []any:
		for _, item := range t {
			collect(item, out)
		}
	default:
		if s := strings.TrimSpace(toString(t)); s != "" {
			*out = append(*out, s)
		}
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
