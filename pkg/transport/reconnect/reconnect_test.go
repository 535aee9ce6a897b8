package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStartsIdle(t *testing.T) {
	m := New(DefaultConfig())
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, 0, m.Attempt())
}

func TestNextDelayGrowsWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	m := New(cfg)

	var prev time.Duration
	for i := 0; i < cfg.MaxAttempts; i++ {
		delay, ok := m.NextDelay()
		require.True(t, ok)
		assert.Equal(t, Reconnecting, m.State())
		// allow for jitter (+-10%) but the delay must stay below the cap
		assert.LessOrEqual(t, delay, time.Duration(float64(cfg.Max)*1.11))
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		prev = delay
	}
	_ = prev
}

func TestNextDelayTransitionsToFailedAfterMaxAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	m := New(cfg)

	for i := 0; i < cfg.MaxAttempts; i++ {
		_, ok := m.NextDelay()
		require.True(t, ok)
	}

	delay, ok := m.NextDelay()
	assert.False(t, ok)
	assert.Equal(t, time.Duration(0), delay)
	assert.Equal(t, Failed, m.State())
}

func TestForceReconnectRecoversFromFailed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	m := New(cfg)

	_, _ = m.NextDelay()
	_, ok := m.NextDelay()
	require.False(t, ok)
	require.Equal(t, Failed, m.State())

	m.ForceReconnect()
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, 0, m.Attempt())

	_, ok = m.NextDelay()
	assert.True(t, ok)
}

func TestConnectedResetsAttemptCounter(t *testing.T) {
	m := New(DefaultConfig())
	_, _ = m.NextDelay()
	_, _ = m.NextDelay()
	assert.Equal(t, 2, m.Attempt())

	m.Connected()
	assert.Equal(t, Connected, m.State())
	assert.Equal(t, 0, m.Attempt())
}

func TestHeartbeatExpiresAfterTimeout(t *testing.T) {
	hb := NewHeartbeat(30*time.Second, 5*time.Second)
	base := time.Now()

	hb.Sent(base)
	assert.False(t, hb.Expired(base.Add(1*time.Second)))
	assert.True(t, hb.Expired(base.Add(6*time.Second)))
}

func TestHeartbeatPongClearsInFlight(t *testing.T) {
	hb := NewHeartbeat(30*time.Second, 5*time.Second)
	base := time.Now()

	hb.Sent(base)
	hb.Received(base.Add(1 * time.Second))
	assert.False(t, hb.Expired(base.Add(10*time.Second)))
}
