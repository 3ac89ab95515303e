package router

import (
	"context"
	"os"
	"strings"
)

// SecretStore yields the secrets a tenant's outbound templates may reference as {{.secrets.NAME}}.
type SecretStore interface {
	Secrets(ctx context.Context, tenantID string) (map[string]string, error)
}

// StaticSecrets is a fixed tenant → name → value table.
type StaticSecrets map[string]map[string]string

func (s StaticSecrets) Secrets(_ context.Context, tenantID string) (map[string]string, error) {
	out := make(map[string]string, len(s[tenantID]))
	for k, v := range s[tenantID] {
		out[k] = v
	}

	return out, nil
}

// EnvSecretsPrefix starts every environment secret name.
const EnvSecretsPrefix = "FLOWPILOT_SECRET_"

// EnvSecrets reads FLOWPILOT_SECRET_<TENANT>_<NAME> variables. Names are exposed lower-cased.
type EnvSecrets struct {
	Environ func() []string
}

func (e EnvSecrets) Secrets(_ context.Context, tenantID string) (map[string]string, error) {
	environ := e.Environ
	if environ == nil {
		environ = os.Environ
	}

	prefix := EnvSecretsPrefix + envKey(tenantID) + "_"
	out := map[string]string{}

	for _, kv := range environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}

		out[strings.ToLower(strings.TrimPrefix(key, prefix))] = value
	}

	return out, nil
}

func envKey(tenantID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, tenantID)
}
