package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUniversalOptions(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantAddrs []string
		wantDB    int
		wantPass  string
		wantErr   bool
	}{
		{
			name:      "single url",
			raw:       "redis://:secret@localhost:6379/2",
			wantAddrs: []string{"localhost:6379"},
			wantDB:    2,
			wantPass:  "secret",
		},
		{
			name:      "bare addresses",
			raw:       "node-a:6379, node-b:6379",
			wantAddrs: []string{"node-a:6379", "node-b:6379"},
		},
		{
			name:      "mixed with first settings kept",
			raw:       "redis://:first@a:6379/1,redis://:second@b:6380/3",
			wantAddrs: []string{"a:6379", "b:6380"},
			wantDB:    1,
			wantPass:  "first",
		},
		{
			name:    "empty",
			raw:     " , ",
			wantErr: true,
		},
		{
			name:    "bad scheme",
			raw:     "http://localhost:6379",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := buildUniversalOptions(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddrs, opts.Addrs)
			assert.Equal(t, tt.wantDB, opts.DB)
			assert.Equal(t, tt.wantPass, opts.Password)
		})
	}
}

func TestReservationKeys(t *testing.T) {
	assert.Equal(t, "catalog:reservations:Person", reservationKey("Person"))
	assert.Equal(t, "42", member(42))
}
