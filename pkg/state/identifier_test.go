package state_test

import (
	"testing"

	"github.com/goliatone/go-nodetree/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		ref     state.Ref
		want    string
		wantErr bool
	}{
		{name: "domain and name", ref: state.Ref{Domain: "lab", Name: "fridge-2"}, want: "lab/fridge-2"},
		{name: "trims whitespace", ref: state.Ref{Domain: " lab ", Name: "fridge-2 "}, want: "lab/fridge-2"},
		{name: "missing domain", ref: state.Ref{Name: "fridge-2"}, wantErr: true},
		{name: "missing name", ref: state.Ref{Domain: "lab"}, wantErr: true},
		{name: "slash in name", ref: state.Ref{Domain: "lab", Name: "a/b"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.ref.Identifier()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, state.ErrInvalidRef)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
