package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestCheckLimit_FixedWindow drives spec §8's rate-limit scenario
// directly: max=2 admissions per window, a third attempt within the
// window fails, and a fourth attempt after the window rolls over
// succeeds again.
func TestCheckLimit_FixedWindow(t *testing.T) {
	l := New(2, 50*time.Millisecond)
	defer l.Stop()

	require.True(t, l.CheckLimit("1.2.3.4"))
	require.True(t, l.CheckLimit("1.2.3.4"))
	require.False(t, l.CheckLimit("1.2.3.4"))

	time.Sleep(60 * time.Millisecond)
	require.True(t, l.CheckLimit("1.2.3.4"))
}

func TestCheckLimit_IndependentPerIP(t *testing.T) {
	l := New(1, time.Minute)
	defer l.Stop()

	require.True(t, l.CheckLimit("1.1.1.1"))
	require.False(t, l.CheckLimit("1.1.1.1"))
	require.True(t, l.CheckLimit("2.2.2.2"))
}

func TestSweep_RemovesExpiredEntries(t *testing.T) {
	l := New(1, 10*time.Millisecond)
	defer l.Stop()

	require.True(t, l.CheckLimit("9.9.9.9"))
	time.Sleep(20 * time.Millisecond)
	l.sweep()

	l.mu.Lock()
	_, present := l.entries["9.9.9.9"]
	l.mu.Unlock()
	require.False(t, present)
}

func TestStop_IsIdempotent(t *testing.T) {
	l := New(1, time.Minute)
	l.Stop()
	require.NotPanics(t, func() { l.Stop() })
}
