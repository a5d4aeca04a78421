package resolver

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
	"github.com/strefethen/sonos-bridge-go/internal/player"
	"github.com/strefethen/sonos-bridge-go/internal/player/playertest"
	"github.com/strefethen/sonos-bridge-go/internal/state"
	"github.com/strefethen/sonos-bridge-go/internal/topology"
)

type fixture struct {
	store   *state.Store
	tracker *topology.Tracker
	players *player.Set
	a, b    *playertest.Fake
}

// newFixture groups B under coordinator A.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	a := playertest.New("RINCON_A", "Kitchen", "10.0.0.2")
	b := playertest.New("RINCON_B", "Den", "10.0.0.3")
	group := topology.Group{ID: "RINCON_A:1", Coordinator: "RINCON_A", Members: []string{"RINCON_A", "RINCON_B"}}
	a.Group = group
	b.Group = group

	f := &fixture{
		store:   state.NewStore(),
		tracker: topology.NewTracker(log.New(io.Discard, "", 0)),
		players: player.NewSet(),
		a:       a,
		b:       b,
	}
	f.players.Replace([]player.Player{a, b})
	for _, p := range []*playertest.Fake{a, b} {
		_, err := f.tracker.Refresh(context.Background(), p)
		require.NoError(t, err)
		f.store.Ingest("player/"+p.ID+"/group", group.ToMap(), true)
	}
	return f
}

func (f *fixture) resolver() *Resolver {
	return New(f.store, f.tracker, f.players)
}

func TestFollowerResolvesToCoordinator(t *testing.T) {
	f := newFixture(t)
	target, err := f.resolver().ResolveTarget("RINCON_B", false)
	require.NoError(t, err)
	assert.Equal(t, "RINCON_A", target.UID())
}

func TestDirectOnlyStillUsesCoordinator(t *testing.T) {
	f := newFixture(t)
	target, err := f.resolver().ResolveTarget("RINCON_B", true)
	require.NoError(t, err)
	assert.Equal(t, "RINCON_A", target.UID())
}

func TestDirectOnlyIgnoresLinkedInput(t *testing.T) {
	f := newFixture(t)
	c := playertest.New("RINCON_C", "Office", "10.0.0.4")
	f.players.Replace([]player.Player{f.a, f.b, c})
	_, err := f.tracker.Refresh(context.Background(), c)
	require.NoError(t, err)
	f.store.Ingest("player/RINCON_C/group", c.Group.ToMap(), true)
	f.store.Ingest("player/RINCON_C/group/coordinator", "RINCON_A", true)

	target, err := f.resolver().ResolveTarget("RINCON_C", true)
	require.NoError(t, err)
	assert.Equal(t, "RINCON_C", target.UID())

	target, err = f.resolver().ResolveTarget("RINCON_C", false)
	require.NoError(t, err)
	assert.Equal(t, "RINCON_A", target.UID())
}

func TestUnknownDevice(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver().ResolveTarget("RINCON_Z", false)
	assert.True(t, errors.Is(err, apperrors.ErrDeviceNotFound))
}

func TestKnownDeviceWithoutHandle(t *testing.T) {
	f := newFixture(t)
	f.players.Replace([]player.Player{f.b})
	_, err := f.resolver().ResolveTarget("RINCON_B", false)
	assert.True(t, errors.Is(err, apperrors.ErrDeviceUnavailable))
}

func TestSelfLinkUsesTrackedCoordinator(t *testing.T) {
	f := newFixture(t)
	f.store.Ingest("player/RINCON_B/group/coordinator", "RINCON_B", true)

	target, err := f.resolver().ResolveTarget("RINCON_B", false)
	require.NoError(t, err)
	assert.Equal(t, "RINCON_A", target.UID())
}

func TestMutualLinksTerminate(t *testing.T) {
	f := newFixture(t)
	f.store.Ingest("player/RINCON_A/group/coordinator", "RINCON_B", true)

	target, err := f.resolver().ResolveTarget("RINCON_A", false)
	require.NoError(t, err)
	assert.Equal(t, "RINCON_A", target.UID())
}
