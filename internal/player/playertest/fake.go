// Package playertest provides an in-memory player.Player for tests.
package playertest

import (
	"context"
	"sync"

	"github.com/strefethen/sonos-bridge-go/internal/player"
	"github.com/strefethen/sonos-bridge-go/internal/topology"
)

// Fake is a scriptable player.Player that records every command it receives.
type Fake struct {
	ID        string
	Room      string
	IP        string
	Invisible bool

	Speaker   map[string]any
	Track     map[string]any
	TrackErr  error
	Group     topology.Group
	GroupErr  error
	Actions   []string
	ActionErr error
	Favs      []player.Favorite
	// CommandErr is returned by every command primitive when set.
	CommandErr error

	mu    sync.Mutex
	calls []string
}

// New returns a visible fake that is the coordinator of its own group and
// accepts every transport action.
func New(uid, name, ip string) *Fake {
	return &Fake{
		ID:      uid,
		Room:    name,
		IP:      ip,
		Speaker: map[string]any{"zone_name": name, "uid": uid},
		Track:   map[string]any{},
		Group:   topology.Group{ID: uid + ":1", Coordinator: uid, Members: []string{uid}},
		Actions: []string{"Play", "Pause", "Stop", "Next", "Previous"},
	}
}

// Calls returns the recorded commands in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.CommandErr
}

func (f *Fake) UID() string     { return f.ID }
func (f *Fake) Name() string    { return f.Room }
func (f *Fake) Address() string { return f.IP }
func (f *Fake) Visible() bool   { return !f.Invisible }

func (f *Fake) SpeakerInfo(ctx context.Context) (map[string]any, error) {
	return f.Speaker, nil
}

func (f *Fake) CurrentTrack(ctx context.Context) (map[string]any, error) {
	if f.TrackErr != nil {
		return nil, f.TrackErr
	}
	track := make(map[string]any, len(f.Track))
	for k, v := range f.Track {
		track[k] = v
	}
	return track, nil
}

func (f *Fake) GroupInfo(ctx context.Context) (topology.Group, error) {
	return f.Group, f.GroupErr
}

func (f *Fake) AvailableActions(ctx context.Context) ([]string, error) {
	return f.Actions, f.ActionErr
}

func (f *Fake) Favorites(ctx context.Context) ([]player.Favorite, error) {
	return f.Favs, nil
}

func (f *Fake) Play(ctx context.Context) error     { return f.record("Play") }
func (f *Fake) Pause(ctx context.Context) error    { return f.record("Pause") }
func (f *Fake) Stop(ctx context.Context) error     { return f.record("Stop") }
func (f *Fake) Next(ctx context.Context) error     { return f.record("Next") }
func (f *Fake) Previous(ctx context.Context) error { return f.record("Previous") }
func (f *Fake) Unjoin(ctx context.Context) error   { return f.record("Unjoin") }

func (f *Fake) Join(ctx context.Context, coordinator player.Player) error {
	return f.record("Join:" + coordinator.UID())
}

func (f *Fake) SetVolume(ctx context.Context, level int) error {
	return f.record("SetVolume")
}

func (f *Fake) SetMute(ctx context.Context, muted bool) error {
	return f.record("SetMute")
}

func (f *Fake) PlayURI(ctx context.Context, uri, metadata string) error {
	return f.record("PlayURI:" + uri)
}
