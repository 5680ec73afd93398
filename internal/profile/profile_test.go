package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

func TestStatic(t *testing.T) {
	s := NewStatic(stance.ViewerProfile{Vector: stance.Vector{Social: 0.1}})
	s.Profiles["bob"] = stance.ViewerProfile{Vector: stance.Vector{Economic: -0.5}}

	p, err := s.Profile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ViewerID)
	assert.Equal(t, 0.1, p.Vector.Social)

	p, err = s.Profile(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", p.ViewerID)
	assert.Equal(t, -0.5, p.Vector.Economic)
}

func TestParseFields(t *testing.T) {
	t.Run("vector only", func(t *testing.T) {
		p, err := parseFields(map[string]string{"social": "0.25", "economic": "-1", "populist": "0"})
		require.NoError(t, err)
		assert.Equal(t, stance.Vector{Social: 0.25, Economic: -1}, p.Vector)
		assert.Nil(t, p.Thresholds)
		assert.Nil(t, p.Cooldown)
	})

	t.Run("overrides", func(t *testing.T) {
		p, err := parseFields(map[string]string{"social": "0", "echo": "0.1", "cooldown_ms": "1500"})
		require.NoError(t, err)
		require.NotNil(t, p.Thresholds)
		assert.Equal(t, 0.1, p.Thresholds.EchoChamberMaxDistance)
		assert.Equal(t, 0.4, p.Thresholds.MildBiasMaxDistance)
		require.NotNil(t, p.Cooldown)
		assert.Equal(t, 1500*time.Millisecond, *p.Cooldown)
	})

	invalid := map[string]map[string]string{
		"non-numeric axis":    {"social": "left"},
		"inverted bands":      {"echo": "0.5", "mild": "0.3"},
		"negative cooldown":   {"cooldown_ms": "-5"},
		"fractional cooldown": {"cooldown_ms": "1.5"},
		"nan axis":            {"social": "NaN"},
		"infinite axis":       {"populist": "-Inf"},
		"infinite threshold":  {"echo": "+Inf"},
	}
	for name, fields := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := parseFields(fields)
			assert.Error(t, err)
		})
	}
}
