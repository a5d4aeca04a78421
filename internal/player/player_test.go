package player_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonos-bridge-go/internal/player"
	"github.com/strefethen/sonos-bridge-go/internal/player/playertest"
)

func TestSetReplaceDropsStaleHandles(t *testing.T) {
	set := player.NewSet()
	set.Replace([]player.Player{playertest.New("B", "Den", "10.0.0.3"), playertest.New("A", "Kitchen", "10.0.0.2")})
	require.Equal(t, 2, set.Len())
	assert.Equal(t, "A", set.All()[0].UID())

	set.Replace([]player.Player{playertest.New("A", "Kitchen", "10.0.0.9")})
	_, ok := set.Get("B")
	assert.False(t, ok)
	a, ok := set.Get("A")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9", a.Address())
}

func TestSetVisible(t *testing.T) {
	sub := playertest.New("S", "Sub", "10.0.0.4")
	sub.Invisible = true
	set := player.NewSet()
	set.Replace([]player.Player{sub, playertest.New("A", "Kitchen", "10.0.0.2")})

	visible := set.Visible()
	require.Len(t, visible, 1)
	assert.Equal(t, "A", visible[0].UID())
}
