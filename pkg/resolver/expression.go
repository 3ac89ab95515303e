// Package resolver expands placeholder expressions in step parameters against accumulated flow state.
package resolver

import (
	"fmt"
	"strconv"
	"strings"
)

// Family is the address space a placeholder expression reads from.
type Family string

const (
	FamilySteps     Family = "steps"
	FamilyContext   Family = "context"
	FamilyUserInput Family = "user_input"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Expr is one parsed placeholder, e.g. steps.1.result.data.id.
type Expr struct {
	Family   Family
	Position int // steps family only
	Path     []string
}

// String renders the expression in canonical form.
func (e *Expr) String() string {
	var b strings.Builder

	b.WriteString(string(e.Family))

	if e.Family == FamilySteps {
		b.WriteString(".")
		b.WriteString(strconv.Itoa(e.Position))
		b.WriteString(".result")
	}

	for _, segment := range e.Path {
		b.WriteString(".")
		b.WriteString(segment)
	}

	return b.String()
}

// Part is either literal text or a placeholder.
type Part struct {
	Literal string
	Expr    *Expr
}

// Template is a parsed param_mappings value.
type Template struct {
	Parts []Part
}

// Parse splits s into literal text and placeholder expressions.
func Parse(s string) (*Template, error) {
	template := &Template{}
	rest := s

	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			if rest != "" {
				template.Parts = append(template.Parts, Part{Literal: rest})
			}

			return template, nil
		}

		if start > 0 {
			template.Parts = append(template.Parts, Part{Literal: rest[:start]})
		}

		end := strings.Index(rest[start:], closeDelim)
		if end < 0 {
			return nil, fmt.Errorf("unterminated placeholder in %q", s)
		}

		expr, err := ParseExpr(rest[start+len(openDelim) : start+end])
		if err != nil {
			return nil, err
		}

		template.Parts = append(template.Parts, Part{Expr: expr})
		rest = rest[start+end+len(closeDelim):]
	}
}

// ParseExpr parses the inside of one placeholder.
func ParseExpr(raw string) (*Expr, error) {
	segments, err := splitPath(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}

	switch Family(segments[0]) {
	case FamilySteps:
		if len(segments) < 3 || segments[2] != "result" {
			return nil, fmt.Errorf("invalid step reference %q: expected steps.<position>.result[.<path>]", raw)
		}

		position, err := strconv.Atoi(segments[1])
		if err != nil || position < 1 {
			return nil, fmt.Errorf("invalid step position in %q", raw)
		}

		return &Expr{Family: FamilySteps, Position: position, Path: segments[3:]}, nil
	case FamilyContext:
		if len(segments) < 2 {
			return nil, fmt.Errorf("invalid context reference %q: a path is required", raw)
		}

		return &Expr{Family: FamilyContext, Path: segments[1:]}, nil
	case FamilyUserInput:
		return &Expr{Family: FamilyUserInput, Path: segments[1:]}, nil
	default:
		return nil, fmt.Errorf("unknown placeholder family in %q", raw)
	}
}

// splitPath splits a dotted path, turning bracket indexes (items[0]) into plain segments.
func splitPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty placeholder")
	}

	normalized := strings.NewReplacer("[", ".", "]", "").Replace(raw)
	segments := strings.Split(normalized, ".")

	for _, segment := range segments {
		if segment == "" {
			return nil, fmt.Errorf("empty path segment in %q", raw)
		}
	}

	return segments, nil
}

// Single returns the expression when the template is exactly one placeholder.
func (t *Template) Single() *Expr {
	if len(t.Parts) == 1 && t.Parts[0].Expr != nil {
		return t.Parts[0].Expr
	}

	return nil
}

// Exprs returns every placeholder in the template.
func (t *Template) Exprs() []*Expr {
	exprs := make([]*Expr, 0, len(t.Parts))

	for _, part := range t.Parts {
		if part.Expr != nil {
			exprs = append(exprs, part.Expr)
		}
	}

	return exprs
}

// String renders the template back to its textual form.
func (t *Template) String() string {
	var b strings.Builder

	for _, part := range t.Parts {
		if part.Expr == nil {
			b.WriteString(part.Literal)

			continue
		}

		b.WriteString(openDelim)
		b.WriteString(part.Expr.String())
		b.WriteString(closeDelim)
	}

	return b.String()
}
