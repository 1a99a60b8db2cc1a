package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentActivityURI(t *testing.T) {
	tests := []struct {
		name      string
		uri       string
		want      string
		wantError bool
	}{
		{name: "simple name", uri: "mc://agent/digest-bot/activity", want: "digest-bot"},
		{name: "encoded space", uri: "mc://agent/Sophia%20CSM/activity", want: "Sophia CSM"},
		{name: "empty name", uri: "mc://agent//activity", wantError: true},
		{name: "wrong prefix", uri: "other://agent/x/activity", wantError: true},
		{name: "missing suffix", uri: "mc://agent/x", wantError: true},
		{name: "bad escape", uri: "mc://agent/%zz/activity", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAgentActivityURI(tt.uri)
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
