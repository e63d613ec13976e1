package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"30m", 30 * time.Minute},
		{"2H", 2 * time.Hour},
		{"1d12h", 36 * time.Hour},
		{" 1w ", 7 * 24 * time.Hour},
		{"90s", 90 * time.Second},
		{"permanent", 0},
		{"Forever", 0},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestParseDurationRejects(t *testing.T) {
	for _, raw := range []string{"", "10", "h", "2x", "0m", "a while", "1h30", "99999999999w", "15000w15000w"} {
		_, err := ParseDuration(raw)
		assert.ErrorIs(t, err, ErrBadDuration, raw)
	}
}
