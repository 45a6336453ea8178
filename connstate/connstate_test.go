package connstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_StartsAdmitted(t *testing.T) {
	m := New("AAAA1111", "peer-a", nil)
	require.Equal(t, Admitted, m.Phase())
	require.False(t, m.IsReady())
	require.Equal(t, "admitted", m.Phase().String())
}

func TestAdvance_ReadyThenClosing(t *testing.T) {
	m := New("AAAA1111", "peer-a", nil)

	m.Advance(Ready)
	require.Equal(t, Ready, m.Phase())
	require.True(t, m.IsReady())
	require.Equal(t, "ready", m.Phase().String())

	m.Advance(Closing)
	require.Equal(t, Closing, m.Phase())
	require.False(t, m.IsReady())
	require.Equal(t, "closing", m.Phase().String())
}

func TestPhase_StringUnknown(t *testing.T) {
	var p Phase = 99
	require.Equal(t, "unknown", p.String())
}
