package expressions

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// segment is either literal text or an expression to evaluate
type segment struct {
	text string
	expr string
}

func split(template string) []segment {
	var segments []segment
	last := 0
	for _, loc := range placeholder.FindAllStringSubmatchIndex(template, -1) {
		if loc[0] > last {
			segments = append(segments, segment{text: template[last:loc[0]]})
		}
		segments = append(segments, segment{text: template[loc[0]:loc[1]], expr: strings.TrimSpace(template[loc[2]:loc[3]])})
		last = loc[1]
	}
	if last < len(template) {
		segments = append(segments, segment{text: template[last:]})
	}
	return segments
}

// Template renders {{ expression }} placeholders against an event document.
type Template struct {
	evaluator *Evaluator
}

func NewTemplate(evaluator *Evaluator) *Template {
	return &Template{evaluator: evaluator}
}

// Render substitutes every placeholder. A placeholder that fails to evaluate is
// kept verbatim and its error joined into the returned error.
func (t *Template) Render(template string, data any) (string, error) {
	var (
		out  strings.Builder
		errs []error
	)
	for _, seg := range split(template) {
		if seg.expr == "" {
			out.WriteString(seg.text)
			continue
		}
		value, err := t.evaluator.EvaluateString(seg.expr, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("render %q: %w", seg.expr, err))
			out.WriteString(seg.text)
			continue
		}
		out.WriteString(value)
	}
	return out.String(), errors.Join(errs...)
}

func (t *Template) Validate(template string) error {
	for _, expr := range ExtractExpressions(template) {
		if err := t.evaluator.Validate(expr); err != nil {
			return fmt.Errorf("invalid expression %q: %w", expr, err)
		}
	}
	return nil
}

func ExtractExpressions(template string) []string {
	var exprs []string
	for _, seg := range split(template) {
		if seg.expr != "" {
			exprs = append(exprs, seg.expr)
		}
	}
	return exprs
}
