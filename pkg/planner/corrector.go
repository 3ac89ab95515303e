package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/resolver"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrMissingRequired = errors.New("required parameters could not be resolved")
	ErrSchemaViolation = errors.New("parameters do not match the capability schema")
)

// CorrectionKind names the rule that changed a generated parameter.
type CorrectionKind string

const (
	CorrectionAlias   CorrectionKind = "alias"
	CorrectionFold    CorrectionKind = "case_fold"
	CorrectionPartial CorrectionKind = "partial_match"
	CorrectionEnum    CorrectionKind = "enum"
	CorrectionDefault CorrectionKind = "default"
	CorrectionMoved   CorrectionKind = "moved_to_mapping"
	CorrectionDropped CorrectionKind = "dropped"
)

// Correction records one change made to a generated step's parameters.
type Correction struct {
	Kind   CorrectionKind `json:"kind"`
	Param  string         `json:"param"`
	Target string         `json:"target,omitempty"`
	From   any            `json:"from,omitempty"`
	To     any            `json:"to,omitempty"`
}

func (c Correction) String() string {
	switch c.Kind {
	case CorrectionDropped:
		return fmt.Sprintf("dropped unknown parameter %q", c.Param)
	case CorrectionEnum:
		return fmt.Sprintf("coerced %s value %v to %v", c.Param, c.From, c.To)
	case CorrectionDefault:
		return fmt.Sprintf("filled %s with its default %v", c.Param, c.To)
	case CorrectionMoved:
		return fmt.Sprintf("moved placeholder parameter %q to param_mappings", c.Param)
	default:
		return fmt.Sprintf("renamed %q to %q (%s)", c.Param, c.Target, c.Kind)
	}
}

// Corrected is a step's parameter set after correction.
type Corrected struct {
	InputParams   map[string]any
	ParamMappings map[string]string
	Corrections   []Correction
}

// fixedAliases lists generated names accepted for common required properties.
var fixedAliases = map[string][]string{
	"search":      {"title", "query", "q", "name", "term", "text"},
	"query":       {"search", "q", "title", "name", "term", "text"},
	"title":       {"name", "subject", "summary"},
	"body":        {"content", "text", "message", "comment"},
	"description": {"details", "body", "content"},
}

// Corrector repairs generated parameter names and values against a capability schema.
type Corrector struct {
	aliases map[string][]string
}

func NewCorrector() *Corrector {
	return &Corrector{aliases: fixedAliases}
}

// Correct renames, coerces and validates params and mappings. The returned Corrected is
// always usable for logging; the error reports parameters that could not be repaired.
func (c *Corrector) Correct(schema *models.JSONSchema, params map[string]any, mappings map[string]string) (*Corrected, error) {
	out := &Corrected{
		InputParams:   make(map[string]any, len(params)),
		ParamMappings: make(map[string]string, len(mappings)),
	}

	maps.Copy(out.ParamMappings, mappings)

	for _, name := range slices.Sorted(maps.Keys(params)) {
		if s, ok := params[name].(string); ok && hasPlaceholder(s) {
			if _, exists := out.ParamMappings[name]; !exists {
				out.ParamMappings[name] = s
				out.Corrections = append(out.Corrections, Correction{Kind: CorrectionMoved, Param: name})

				continue
			}
		}

		out.InputParams[name] = params[name]
	}

	if schema == nil || len(schema.Properties) == 0 {
		return out, nil
	}

	out.InputParams = c.rename(schema, out.InputParams, &out.Corrections)

	renamed := c.rename(schema, toAny(out.ParamMappings), &out.Corrections)
	out.ParamMappings = make(map[string]string, len(renamed))

	for name, value := range renamed {
		out.ParamMappings[name] = value.(string)
	}

	for _, name := range slices.Sorted(maps.Keys(out.InputParams)) {
		property := schema.Property(name)
		if property == nil || len(property.Enum) == 0 {
			continue
		}

		value := out.InputParams[name]
		if member, ok := matchEnum(property.Enum, value); ok && fmt.Sprint(member) != fmt.Sprint(value) {
			out.Corrections = append(out.Corrections, Correction{Kind: CorrectionEnum, Param: name, From: value, To: member})
			out.InputParams[name] = member
		}
	}

	var missing []string

	for _, name := range schema.Required {
		_, literal := out.InputParams[name]
		_, mapped := out.ParamMappings[name]

		if literal || mapped {
			continue
		}

		if property := schema.Property(name); property != nil && property.Default != nil {
			out.InputParams[name] = property.Default
			out.Corrections = append(out.Corrections, Correction{Kind: CorrectionDefault, Param: name, To: property.Default})

			continue
		}

		missing = append(missing, name)
	}

	if len(missing) > 0 {
		return out, fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}

	err := validate(schema, out.InputParams, out.ParamMappings)
	if err != nil {
		return out, err
	}

	return out, nil
}

// rename moves every parameter onto a schema property. Exact names are claimed first so a
// fuzzy match never displaces them.
func (c *Corrector) rename(schema *models.JSONSchema, params map[string]any, corrections *[]Correction) map[string]any {
	out := make(map[string]any, len(params))
	names := slices.Sorted(maps.Keys(params))

	for _, name := range names {
		if schema.Property(name) != nil {
			out[name] = params[name]
		}
	}

	for _, name := range names {
		if schema.Property(name) != nil {
			continue
		}

		target, kind := c.match(schema, name, out)
		if target == "" {
			*corrections = append(*corrections, Correction{Kind: CorrectionDropped, Param: name, From: params[name]})

			continue
		}

		out[target] = params[name]
		*corrections = append(*corrections, Correction{Kind: kind, Param: name, Target: target})
	}

	return out
}

func (c *Corrector) match(schema *models.JSONSchema, name string, taken map[string]any) (string, CorrectionKind) {
	var free []string

	for _, property := range slices.Sorted(maps.Keys(schema.Properties)) {
		if _, used := taken[property]; !used {
			free = append(free, property)
		}
	}

	for _, property := range free {
		if containsFold(schema.Properties[property].Aliases, name) {
			return property, CorrectionAlias
		}
	}

	if target, ok := unique(free, func(property string) bool {
		return schema.IsRequired(property) && containsFold(c.aliases[property], name)
	}); ok {
		return target, CorrectionAlias
	}

	folded := fold(name)

	for _, property := range free {
		if fold(property) == folded {
			return property, CorrectionFold
		}
	}

	if len(folded) < 2 {
		return "", CorrectionDropped
	}

	if target, ok := unique(free, func(property string) bool {
		return partialMatch(fold(property), folded)
	}); ok {
		return target, CorrectionPartial
	}

	return "", CorrectionDropped
}

func matchEnum(enum []any, value any) (any, bool) {
	for _, member := range enum {
		if fmt.Sprint(member) == fmt.Sprint(value) {
			return member, true
		}
	}

	s, ok := value.(string)
	if !ok {
		return nil, false
	}

	for _, member := range enum {
		if strings.EqualFold(fmt.Sprint(member), strings.TrimSpace(s)) {
			return member, true
		}
	}

	folded := fold(s)
	if folded == "" {
		return nil, false
	}

	var found []any

	for _, member := range enum {
		if partialMatch(fold(fmt.Sprint(member)), folded) {
			found = append(found, member)
		}
	}

	if len(found) == 1 {
		return found[0], true
	}

	return nil, false
}

// validate checks literal params against the schema. Properties supplied by mappings are only
// known at execution time, so they are not required here.
func validate(schema *models.JSONSchema, params map[string]any, mappings map[string]string) error {
	document, err := schemaDocument(schema)
	if err != nil {
		return err
	}

	required := make([]any, 0, len(schema.Required))

	for _, name := range schema.Required {
		if _, mapped := mappings[name]; !mapped {
			required = append(required, name)
		}
	}

	document["required"] = required
	if len(required) == 0 {
		delete(document, "required")
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(document), gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaViolation, err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(problems, "; "))
	}

	return nil
}

// schemaDocument converts the schema to a plain JSON Schema document, dropping the planner-only
// aliases keyword and empty types.
func schemaDocument(schema *models.JSONSchema) (map[string]any, error) {
	body, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	var document map[string]any

	err = json.Unmarshal(body, &document)
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	clean(document)

	if _, ok := document["type"]; !ok {
		document["type"] = "object"
	}

	return document, nil
}

func clean(node map[string]any) {
	delete(node, "aliases")

	if t, ok := node["type"].(string); ok && t == "" {
		delete(node, "type")
	}

	if properties, ok := node["properties"].(map[string]any); ok {
		for _, property := range properties {
			if child, ok := property.(map[string]any); ok {
				clean(child)
			}
		}
	}

	if items, ok := node["items"].(map[string]any); ok {
		clean(items)
	}
}

func hasPlaceholder(s string) bool {
	template, err := resolver.Parse(s)

	return err == nil && len(template.Exprs()) > 0
}

func fold(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '.':
			return -1
		}

		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}

func partialMatch(a, b string) bool {
	return strings.HasPrefix(a, b) || strings.HasSuffix(a, b) || strings.HasPrefix(b, a) || strings.HasSuffix(b, a)
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(item string) bool { return strings.EqualFold(item, s) })
}

func unique(candidates []string, keep func(string) bool) (string, bool) {
	found := ""

	for _, candidate := range candidates {
		if !keep(candidate) {
			continue
		}

		if found != "" {
			return "", false
		}

		found = candidate
	}

	return found, found != ""
}

func toAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}
