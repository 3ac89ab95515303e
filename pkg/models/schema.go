package models

import "slices"

// JSONSchema represents the input contract of a capability.
type JSONSchema struct {
	Type        string               `json:"type"                  yaml:"type"`
	Properties  map[string]*Property `json:"properties,omitempty"  yaml:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"    yaml:"required,omitempty"`
	Title       string               `json:"title,omitempty"       yaml:"title,omitempty"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
}

// Property represents a JSON Schema property.
// Aliases lists alternative parameter names the planner accepts for this property.
type Property struct {
	Type        string               `json:"type"                  yaml:"type"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Enum        []any                `json:"enum,omitempty"        yaml:"enum,omitempty"`
	Default     any                  `json:"default,omitempty"     yaml:"default,omitempty"`
	Format      string               `json:"format,omitempty"      yaml:"format,omitempty"`
	MinLength   *int                 `json:"minLength,omitempty"   yaml:"minLength,omitempty"`
	MaxLength   *int                 `json:"maxLength,omitempty"   yaml:"maxLength,omitempty"`
	Pattern     string               `json:"pattern,omitempty"     yaml:"pattern,omitempty"`
	Items       *Property            `json:"items,omitempty"       yaml:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"  yaml:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"    yaml:"required,omitempty"`
	Aliases     []string             `json:"aliases,omitempty"     yaml:"aliases,omitempty"`
}

// IsRequired reports whether name is listed as required.
func (s *JSONSchema) IsRequired(name string) bool {
	if s == nil {
		return false
	}

	return slices.Contains(s.Required, name)
}

// Property returns the named property, or nil.
func (s *JSONSchema) Property(name string) *Property {
	if s == nil || s.Properties == nil {
		return nil
	}

	return s.Properties[name]
}
