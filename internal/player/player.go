// Package player defines the handle the bridge uses to talk to one zone
// player and the set of handles from the latest discovery.
package player

import (
	"context"
	"sort"
	"sync"

	"github.com/strefethen/sonos-bridge-go/internal/topology"
)

// Favorite is one entry of the household's Sonos favorites.
type Favorite struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	AlbumArtURI string `json:"album_art_uri,omitempty"`
	URI         string `json:"uri"`
	Metadata    string `json:"resource_meta_data,omitempty"`
}

// ToMap returns the representation stored under the favorite path.
func (f Favorite) ToMap() map[string]any {
	return map[string]any{
		"item_id":            f.ID,
		"title":              f.Title,
		"description":        f.Description,
		"type":               f.Type,
		"album_art_uri":      f.AlbumArtURI,
		"uri":                f.URI,
		"resource_meta_data": f.Metadata,
	}
}

// Player is a live handle to one zone player. Handles are replaced on every
// successful discovery.
type Player interface {
	UID() string
	Name() string
	Address() string
	Visible() bool

	SpeakerInfo(ctx context.Context) (map[string]any, error)
	CurrentTrack(ctx context.Context) (map[string]any, error)
	GroupInfo(ctx context.Context) (topology.Group, error)
	AvailableActions(ctx context.Context) ([]string, error)
	Favorites(ctx context.Context) ([]Favorite, error)

	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Join(ctx context.Context, coordinator Player) error
	Unjoin(ctx context.Context) error
	SetVolume(ctx context.Context, level int) error
	SetMute(ctx context.Context, muted bool) error
	PlayURI(ctx context.Context, uri, metadata string) error
}

// Set holds the handles from the most recent discovery, keyed by UID.
type Set struct {
	mu      sync.RWMutex
	players map[string]Player
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{players: make(map[string]Player)}
}

// Replace swaps in a new discovery result.
func (s *Set) Replace(players []Player) {
	next := make(map[string]Player, len(players))
	for _, p := range players {
		next[p.UID()] = p
	}
	s.mu.Lock()
	s.players = next
	s.mu.Unlock()
}

// Get returns the handle for uid.
func (s *Set) Get(uid string) (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[uid]
	return p, ok
}

// All returns every handle sorted by UID.
func (s *Set) All() []Player {
	s.mu.RLock()
	result := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		result = append(result, p)
	}
	s.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].UID() < result[j].UID() })
	return result
}

// Visible returns the handles that represent user-facing rooms.
func (s *Set) Visible() []Player {
	all := s.All()
	visible := make([]Player, 0, len(all))
	for _, p := range all {
		if p.Visible() {
			visible = append(visible, p)
		}
	}
	return visible
}

// Len returns the number of handles.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}
