package domain_test

import (
	"testing"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/stretchr/testify/require"
)

func TestNormalizeScopes(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{name: "empty grants all", raw: "", want: domain.SupportedScopes},
		{name: "whitespace grants all", raw: "   ", want: domain.SupportedScopes},
		{name: "subset in canonical order", raw: "tasks:write projects:read", want: []string{"projects:read", "tasks:write"}},
		{name: "duplicates dropped", raw: "tasks:read tasks:read", want: []string{"tasks:read"}},
		{name: "unknown rejected", raw: "tasks:read admin", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := domain.NormalizeScopes(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrUnknownScope)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeScopesReturnsCopy(t *testing.T) {
	got, err := domain.NormalizeScopes("")
	require.NoError(t, err)
	got[0] = "mutated"
	require.Equal(t, "projects:read", domain.SupportedScopes[0])
}
