// Package resolver maps a device UID to the live handle that must execute a
// command for it.
package resolver

import (
	"fmt"

	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
	"github.com/strefethen/sonos-bridge-go/internal/player"
	"github.com/strefethen/sonos-bridge-go/internal/state"
	"github.com/strefethen/sonos-bridge-go/internal/topology"
)

// Resolver routes commands to group coordinators.
type Resolver struct {
	store   *state.Store
	tracker *topology.Tracker
	players *player.Set
}

// New creates a Resolver.
func New(store *state.Store, tracker *topology.Tracker, players *player.Set) *Resolver {
	return &Resolver{store: store, tracker: tracker, players: players}
}

// ResolveTarget returns the handle that should execute a command addressed
// to uid. Unless directOnly is set, the device's linked input (its recorded
// group coordinator) is followed once. The tracked coordinator of the result
// is always substituted, so the walk takes at most two hops.
func (r *Resolver) ResolveTarget(uid string, directOnly bool) (player.Player, error) {
	if !r.store.Has("player/" + uid) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDeviceNotFound, uid)
	}

	target := uid
	if !directOnly {
		value, _ := r.store.Get("player/" + uid + "/group/coordinator")
		if linked, ok := value.(string); ok && linked != "" && linked != uid {
			target = linked
		}
	}
	if coordinator := r.tracker.Coordinator(target); coordinator != "" && coordinator != target {
		target = coordinator
	}

	handle, ok := r.players.Get(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDeviceUnavailable, target)
	}
	return handle, nil
}
