package resiliency

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/config"
)

func testBreakerCfg() config.BreakerConfig {
	return config.BreakerConfig{
		Window:            10,
		FailureRate:       0.5,
		MinVolume:         4,
		CoolDown:          50 * time.Millisecond,
		HalfOpenSuccesses: 2,
	}
}

var errProvider = errors.New("provider down")

func TestBreakerOpensOnFailureRate(t *testing.T) {
	s := NewBreakerSet(testBreakerCfg(), zap.NewNop())
	cb := s.For("sim-registry")

	for i := 0; i < 4; i++ {
		_, err := cb.Execute(func() (any, error) { return nil, errProvider })
		require.ErrorIs(t, err, errProvider)
	}
	assert.True(t, s.Open("sim-registry"))

	_, err := cb.Execute(func() (any, error) { return nil, nil })
	assert.Error(t, err)
}

func TestBreakerBelowMinVolumeStaysClosed(t *testing.T) {
	s := NewBreakerSet(testBreakerCfg(), zap.NewNop())
	cb := s.For("sim-registry")

	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, errProvider })
	}
	assert.False(t, s.Open("sim-registry"))
}

func TestBreakerWindowAgesOutOldFailures(t *testing.T) {
	cfg := testBreakerCfg()
	cfg.Window = 4
	s := NewBreakerSet(cfg, zap.NewNop())
	cb := s.For("sim-registry")

	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, errProvider })
	}
	for i := 0; i < 4; i++ {
		_, err := cb.Execute(func() (any, error) { return nil, nil })
		require.NoError(t, err)
	}

	// Cumulatively 4 of 8 calls have failed, but the early failures
	// aged out of the window: only 1 of the last 4 counts.
	_, _ = cb.Execute(func() (any, error) { return nil, errProvider })
	assert.False(t, s.Open("sim-registry"))

	// A second recent failure puts the window at the threshold.
	_, _ = cb.Execute(func() (any, error) { return nil, errProvider })
	assert.True(t, s.Open("sim-registry"))
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	s := NewBreakerSet(testBreakerCfg(), zap.NewNop())
	cb := s.For("sim-registry")

	for i := 0; i < 4; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, errProvider })
	}
	require.True(t, s.Open("sim-registry"))

	// Past the cool-down the breaker admits probes; two successes close it.
	time.Sleep(60 * time.Millisecond)
	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (any, error) { return nil, nil })
		require.NoError(t, err)
	}
	assert.False(t, s.Open("sim-registry"))
}

func TestForReturnsSameBreaker(t *testing.T) {
	s := NewBreakerSet(testBreakerCfg(), zap.NewNop())
	assert.Same(t, s.For("sim-registry"), s.For("sim-registry"))
}
