package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "bare", input: `{"a":1}`, want: `{"a":1}`},
		{name: "json fence", input: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "plain fence", input: "```\n{\"a\":{\"b\":2}}\n```", want: `{"a":{"b":2}}`},
		{name: "prose around", input: "Here is the plan:\n{\"title\":\"x\"}\nThanks", want: `{"title":"x"}`},
		{name: "no object", input: "sorry, I can't", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoJSON)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewProvider_Unsupported(t *testing.T) {
	_, err := NewProvider(Config{Provider: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}
