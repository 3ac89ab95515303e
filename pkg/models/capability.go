package models

import (
	"errors"
	"fmt"
)

// CapabilityType is the closed set of back-ends a capability can dispatch to.
type CapabilityType string

const (
	CapabilityTypeDirect       CapabilityType = "direct"
	CapabilityTypeOutboundCall CapabilityType = "outbound_call"
	CapabilityTypeComposite    CapabilityType = "composite"
	CapabilityTypeNotification CapabilityType = "notification"
)

var (
	ErrCapabilitySlugRequired = errors.New("capability slug is required")
	ErrCapabilityType         = errors.New("unknown capability type")
	ErrCapabilityConfig       = errors.New("invalid capability configuration")
)

// Capability is a named, schema-described unit of invocable functionality.
// Exactly one of the variant configs is set, matching Type.
type Capability struct {
	Slug        string         `json:"slug"                   yaml:"slug"`
	Name        string         `json:"name"                   yaml:"name"`
	Description string         `json:"description,omitempty"  yaml:"description,omitempty"`
	Type        CapabilityType `json:"type"                   yaml:"type"`
	InputSchema *JSONSchema    `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`

	Direct       *DirectConfig       `json:"direct,omitempty"        yaml:"direct,omitempty"`
	OutboundCall *OutboundCallConfig `json:"outbound_call,omitempty" yaml:"outbound_call,omitempty"`
	Composite    *CompositeConfig    `json:"composite,omitempty"     yaml:"composite,omitempty"`
	Notification *NotificationConfig `json:"notification,omitempty"  yaml:"notification,omitempty"`
}

// DirectConfig routes to an internal handler. Handler defaults to the capability slug.
type DirectConfig struct {
	Handler string `json:"handler,omitempty" yaml:"handler,omitempty"`
}

// OutboundCallConfig describes a templated HTTP request.
type OutboundCallConfig struct {
	Method         string            `json:"method"                    yaml:"method"`
	URL            string            `json:"url"                       yaml:"url"`
	Headers        map[string]string `json:"headers,omitempty"         yaml:"headers,omitempty"`
	Body           string            `json:"body,omitempty"            yaml:"body,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	// Entity names the record type a write call creates or updates, for side-effect reporting.
	Entity string `json:"entity,omitempty" yaml:"entity,omitempty"`
}

// CompositeConfig chains other capabilities.
type CompositeConfig struct {
	Hops []CompositeHop `json:"hops" yaml:"hops"`
}

// CompositeHop is one link of a composite chain.
type CompositeHop struct {
	Capability  string         `json:"capability"              yaml:"capability"`
	Params      map[string]any `json:"params,omitempty"        yaml:"params,omitempty"`
	PassOutput  bool           `json:"pass_output,omitempty"   yaml:"pass_output,omitempty"`
	StopOnError bool           `json:"stop_on_error,omitempty" yaml:"stop_on_error,omitempty"`
}

// NotificationConfig describes a fire-and-forget webhook.
type NotificationConfig struct {
	URL            string            `json:"url"                       yaml:"url"`
	Headers        map[string]string `json:"headers,omitempty"         yaml:"headers,omitempty"`
	Source         string            `json:"source,omitempty"          yaml:"source,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// HandlerName returns the direct handler key for the capability.
func (c *Capability) HandlerName() string {
	if c.Direct != nil && c.Direct.Handler != "" {
		return c.Direct.Handler
	}

	return c.Slug
}

// Validate checks that the variant config matches the declared type.
func (c *Capability) Validate() error {
	if c.Slug == "" {
		return ErrCapabilitySlugRequired
	}

	set := 0

	for _, present := range []bool{c.Direct != nil, c.OutboundCall != nil, c.Composite != nil, c.Notification != nil} {
		if present {
			set++
		}
	}

	switch c.Type {
	case CapabilityTypeDirect:
		if c.OutboundCall != nil || c.Composite != nil || c.Notification != nil {
			return fmt.Errorf("%w: %s: direct capability carries another variant config", ErrCapabilityConfig, c.Slug)
		}

		return nil
	case CapabilityTypeOutboundCall:
		if c.OutboundCall == nil || set != 1 {
			return fmt.Errorf("%w: %s: outbound_call requires exactly the outbound_call config", ErrCapabilityConfig, c.Slug)
		}

		if c.OutboundCall.URL == "" {
			return fmt.Errorf("%w: %s: url is required", ErrCapabilityConfig, c.Slug)
		}
	case CapabilityTypeComposite:
		if c.Composite == nil || set != 1 {
			return fmt.Errorf("%w: %s: composite requires exactly the composite config", ErrCapabilityConfig, c.Slug)
		}

		if len(c.Composite.Hops) == 0 {
			return fmt.Errorf("%w: %s: composite needs at least one hop", ErrCapabilityConfig, c.Slug)
		}
	case CapabilityTypeNotification:
		if c.Notification == nil || set != 1 {
			return fmt.Errorf("%w: %s: notification requires exactly the notification config", ErrCapabilityConfig, c.Slug)
		}

		if c.Notification.URL == "" {
			return fmt.Errorf("%w: %s: url is required", ErrCapabilityConfig, c.Slug)
		}
	default:
		return fmt.Errorf("%w: %q", ErrCapabilityType, c.Type)
	}

	return nil
}
