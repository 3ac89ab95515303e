// Package template renders text/template strings for outbound capability requests.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Data is what an outbound request template can see.
type Data struct {
	Params   map[string]any
	Secrets  map[string]string
	TenantID string
	UserID   string
	FlowID   string
	StepID   string
}

func (d Data) toMap() map[string]any {
	return map[string]any{
		"params":    d.Params,
		"secrets":   d.Secrets,
		"tenant_id": d.TenantID,
		"user_id":   d.UserID,
		"flow_id":   d.FlowID,
		"step_id":   d.StepID,
	}
}

// RenderWithContext renders input as text against the request data.
func RenderWithContext(input string, data Data) (string, error) {
	return RenderString(input, data.toMap())
}

// RenderString executes the template and returns the raw text. Referencing a key the data
// does not hold is an error rather than "<no value>".
func RenderString(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("transform").
		Option("missingkey=error").
		Funcs(funcs()).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"rand": func(max int) int {
			if max <= 0 {
				return 0
			}

			num := make([]byte, 1)

			_, err := rand.Read(num)
			if err != nil {
				return 0
			}

			return int(num[0]) % max
		},
		"json": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}

			return string(encoded), nil
		},
	}
}
