// Package bridge runs the poll loop that keeps the state tree in sync with
// the zone players: discovery with backoff, one event subscription per
// player and service, and routing of drained events into the store.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
	"github.com/strefethen/sonos-bridge-go/internal/artcache"
	"github.com/strefethen/sonos-bridge-go/internal/directory"
	"github.com/strefethen/sonos-bridge-go/internal/metrics"
	"github.com/strefethen/sonos-bridge-go/internal/normalize"
	"github.com/strefethen/sonos-bridge-go/internal/player"
	"github.com/strefethen/sonos-bridge-go/internal/sonos/events"
	"github.com/strefethen/sonos-bridge-go/internal/state"
	"github.com/strefethen/sonos-bridge-go/internal/topology"
)

// Library is the vendor layer the manager drives.
type Library interface {
	Discover(ctx context.Context) ([]player.Player, error)
	Subscribe(ctx context.Context, p player.Player, service events.ServiceType, timeout time.Duration, autoRenew bool) (events.Handle, error)
}

// ArtQueue accepts art refresh requests without blocking.
type ArtQueue interface {
	Enqueue(req artcache.Request) bool
}

// KnownPlayers persists players seen by discovery.
type KnownPlayers interface {
	RecordPlayer(ctx context.Context, uid, name, address string, visible bool) error
	RecordConnection(ctx context.Context, players, subscriptions int) error
}

// Options tunes the poll loop.
type Options struct {
	MinInterval         time.Duration
	MaxInterval         time.Duration
	SubscriptionTimeout time.Duration
}

// Deps are the collaborators of a Manager. Art, Known and Metrics are
// optional.
type Deps struct {
	Library    Library
	Store      *state.Store
	Tracker    *topology.Tracker
	Players    *player.Set
	Normalizer *normalize.Normalizer
	Directory  *directory.Directory
	Art        ArtQueue
	Known      KnownPlayers
	Metrics    *metrics.Metrics
}

type subscription struct {
	player player.Player
	handle events.Handle
}

// Manager owns the connection lifecycle. Only its goroutine writes to the
// state store.
type Manager struct {
	deps   Deps
	opts   Options
	logger *log.Logger

	reconnect        atomic.Bool
	favoritesPending atomic.Bool

	mu        sync.RWMutex
	subs      []subscription
	interval  time.Duration
	connected bool
	lastError string
}

// NewManager creates a Manager that starts disconnected.
func NewManager(deps Deps, opts Options, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = 100 * time.Millisecond
	}
	if opts.MaxInterval < opts.MinInterval {
		opts.MaxInterval = 5 * time.Second
	}
	if opts.SubscriptionTimeout <= 0 {
		opts.SubscriptionTimeout = 180 * time.Second
	}
	m := &Manager{
		deps:     deps,
		opts:     opts,
		logger:   logger,
		interval: opts.MinInterval,
	}
	m.reconnect.Store(true)
	return m
}

// Run loops until ctx is cancelled, then closes every subscription.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Printf("BRIDGE: starting poll loop")
	defer m.closeSubscriptions()

	for {
		if err := ctx.Err(); err != nil {
			m.logger.Printf("BRIDGE: poll loop stopped")
			return err
		}
		m.Step(ctx)

		timer := time.NewTimer(m.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Step runs one cycle: reconnect when needed, then drain at most one event
// from each subscription.
func (m *Manager) Step(ctx context.Context) {
	if m.reconnect.Load() {
		m.ensureConnected(ctx)
	}
	if m.Connected() {
		m.tick(ctx)
		if m.favoritesPending.Swap(false) {
			m.refreshFavorites(ctx)
		}
	}
	m.deps.Metrics.Connection(m.Connected(), m.Subscriptions(), m.Interval().Seconds())
}

// MarkReconnect asks the loop to rediscover and resubscribe on its next
// cycle.
func (m *Manager) MarkReconnect(reason string) {
	if !m.reconnect.Swap(true) {
		m.logger.Printf("BRIDGE: reconnect needed: %s", reason)
		m.deps.Metrics.Reconnect(reason)
	}
	m.mu.Lock()
	m.connected = false
	m.lastError = reason
	m.mu.Unlock()
}

// RequestFavoritesRefresh schedules a favorites reload on the loop
// goroutine.
func (m *Manager) RequestFavoritesRefresh() {
	m.favoritesPending.Store(true)
}

// ReconnectNeeded reports whether the next cycle will reconnect.
func (m *Manager) ReconnectNeeded() bool {
	return m.reconnect.Load()
}

// Connected reports whether every subscription was live after the last
// cycle.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Interval returns the current poll interval.
func (m *Manager) Interval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interval
}

// Subscriptions returns the number of live subscriptions.
func (m *Manager) Subscriptions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Status summarizes the loop for health reporting.
type Status struct {
	Connected       bool          `json:"connected"`
	ReconnectNeeded bool          `json:"reconnect_needed"`
	Players         int           `json:"players"`
	Subscriptions   int           `json:"subscriptions"`
	Interval        time.Duration `json:"interval_ns"`
	LastError       string        `json:"last_error,omitempty"`
}

// Status returns the current loop status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Connected:       m.connected,
		ReconnectNeeded: m.reconnect.Load(),
		Players:         m.deps.Players.Len(),
		Subscriptions:   len(m.subs),
		Interval:        m.interval,
		LastError:       m.lastError,
	}
}

func (m *Manager) ensureConnected(ctx context.Context) {
	m.closeSubscriptions()

	started := time.Now()
	players, err := m.deps.Library.Discover(ctx)
	if err != nil {
		m.logger.Printf("BRIDGE: discovery failed: %v", err)
	}
	if len(players) == 0 {
		if ctx.Err() != nil {
			return
		}
		m.backoff()
		m.logger.Printf("BRIDGE: no players discovered, retrying in %s", m.Interval())
		return
	}
	m.deps.Metrics.Discovery(time.Since(started).Seconds(), len(players))

	subs, err := m.subscribeAll(ctx, players)
	if err != nil {
		m.logger.Printf("BRIDGE: subscription failed, will retry: %v", err)
		m.mu.Lock()
		m.lastError = err.Error()
		m.mu.Unlock()
		return
	}

	m.deps.Players.Replace(players)
	m.deps.Store.Reset()
	m.deps.Tracker.Reset()
	m.deps.Directory.Reset()

	m.mu.Lock()
	m.subs = subs
	m.interval = m.opts.MinInterval
	m.connected = true
	m.lastError = ""
	m.mu.Unlock()
	m.reconnect.Store(false)
	m.logger.Printf("BRIDGE: connected to %d players with %d subscriptions", len(players), len(subs))

	for _, p := range players {
		m.ingestPlayer(ctx, p)
	}
	m.refreshFavorites(ctx)

	if m.deps.Known != nil {
		if err := m.deps.Known.RecordConnection(ctx, len(players), len(subs)); err != nil {
			m.logger.Printf("BRIDGE: %v", err)
		}
	}
}

// subscribeAll opens every service on every player. The batch is
// all-or-nothing: on the first failure the opened subscriptions are closed.
func (m *Manager) subscribeAll(ctx context.Context, players []player.Player) ([]subscription, error) {
	subs := make([]subscription, 0, len(players)*len(events.Services))
	for _, p := range players {
		for _, service := range events.Services {
			handle, err := m.deps.Library.Subscribe(ctx, p, service, m.opts.SubscriptionTimeout, true)
			if err != nil {
				for _, opened := range subs {
					_ = opened.handle.Unsubscribe(ctx)
				}
				return nil, fmt.Errorf("subscribe %s/%s: %w", p.Name(), service, err)
			}
			m.logger.Printf("BRIDGE: subscribed %s/%s", p.Name(), service)
			subs = append(subs, subscription{player: p, handle: handle})
		}
	}
	return subs, nil
}

func (m *Manager) backoff() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval *= 2
	if m.interval > m.opts.MaxInterval {
		m.interval = m.opts.MaxInterval
	}
}

func (m *Manager) closeSubscriptions() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.connected = false
	m.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, sub := range subs {
		if err := sub.handle.Unsubscribe(ctx); err != nil {
			m.logger.Printf("BRIDGE: unsubscribe %s/%s: %v", sub.player.UID(), sub.handle.ServiceType(), err)
		}
	}
}

// ingestPlayer records the descriptive fields and live group of p.
func (m *Manager) ingestPlayer(ctx context.Context, p player.Player) {
	record := map[string]any{
		"name":       p.Name(),
		"ip_address": p.Address(),
		"visible":    p.Visible(),
	}
	if info, err := p.SpeakerInfo(ctx); err != nil {
		m.logger.Printf("BRIDGE: speaker info for %s: %v", p.UID(), err)
	} else {
		record["speaker"] = info
	}
	m.deps.Store.Ingest("player/"+p.UID(), record, false)
	m.refreshGroup(ctx, p)

	if m.deps.Known != nil {
		if err := m.deps.Known.RecordPlayer(ctx, p.UID(), p.Name(), p.Address(), p.Visible()); err != nil {
			m.logger.Printf("BRIDGE: record known player %s: %v", p.UID(), err)
		}
	}
}

func (m *Manager) refreshGroup(ctx context.Context, p player.Player) {
	group, err := m.deps.Tracker.Refresh(ctx, p)
	if err != nil {
		m.logger.Printf("BRIDGE: group refresh for %s: %v", p.UID(), err)
		if errors.Is(err, apperrors.ErrConnection) {
			m.MarkReconnect("group refresh failed")
		}
		return
	}
	m.deps.Store.Ingest("player/"+p.UID()+"/group", group.ToMap(), true)
}

func (m *Manager) refreshFavorites(ctx context.Context) {
	var source player.Player
	for _, p := range m.deps.Players.All() {
		if p.Visible() {
			source = p
			break
		}
	}
	if source == nil {
		return
	}

	favorites, err := source.Favorites(ctx)
	if err != nil {
		m.logger.Printf("BRIDGE: favorites from %s: %v", source.Name(), err)
		if errors.Is(err, apperrors.ErrConnection) {
			m.MarkReconnect("favorites refresh failed")
		}
		return
	}
	sort.SliceStable(favorites, func(i, j int) bool { return favorites[i].Title < favorites[j].Title })
	list := make([]any, 0, len(favorites))
	for _, fav := range favorites {
		list = append(list, fav.ToMap())
	}
	m.deps.Store.Ingest("favorite", list, true)
	m.logger.Printf("BRIDGE: loaded %d favorites", len(list))
}

func (m *Manager) tick(ctx context.Context) {
	m.mu.RLock()
	subs := append([]subscription(nil), m.subs...)
	m.mu.RUnlock()

	live := subs[:0]
	dropped := 0
	for _, sub := range subs {
		if !sub.handle.IsSubscribed() {
			m.logger.Printf("BRIDGE: subscription ended: %s/%s", sub.player.Name(), sub.handle.ServiceType())
			dropped++
			continue
		}
		live = append(live, sub)

		event, ok := sub.handle.Poll()
		if !ok {
			continue
		}
		m.route(ctx, sub.player, event)
	}

	if dropped > 0 {
		m.mu.Lock()
		m.subs = live
		m.mu.Unlock()
		m.MarkReconnect("subscription ended")
	}
}

// route applies one event to the store.
func (m *Manager) route(ctx context.Context, p player.Player, event events.Event) {
	uid := event.DeviceUID
	if uid == "" {
		uid = p.UID()
	}
	service := string(event.Service)
	update := m.deps.Normalizer.Event(event)

	switch event.Service {
	case events.ServiceAVTransport:
		if !m.mergeCurrentTrack(ctx, p, update) {
			m.deps.Metrics.EventSkipped(service)
			return
		}
		m.deps.Store.Ingest("player/"+uid+"/AVTransport", update, false)
		m.requestArt(uid, p.Address(), update)

	case events.ServiceZoneGroupTopology:
		for _, member := range m.deps.Players.All() {
			m.refreshGroup(ctx, member)
		}
		groups, ok := state.Lookup(update, "zone_group_state/ZoneGroupState/ZoneGroups/ZoneGroup")
		if ok {
			m.deps.Store.Ingest("player/"+uid+"/ZoneGroupTopology/zone_group_state/ZoneGroupState/ZoneGroups/ZoneGroup", groups, true)
		}

	default:
		m.deps.Store.Ingest("player/"+uid+"/"+service, update, false)
	}

	m.deps.Metrics.EventProcessed(service)
	m.register(uid)
}

// mergeCurrentTrack queries the player directly because transport events
// omit details for some sources such as radio streams. It reports false
// when the event should be skipped.
func (m *Manager) mergeCurrentTrack(ctx context.Context, p player.Player, update map[string]any) bool {
	track, err := p.CurrentTrack(ctx)
	if err != nil {
		m.logger.Printf("BRIDGE: current track for %s: %v", p.UID(), err)
		if errors.Is(err, apperrors.ErrConnection) {
			m.MarkReconnect("current track query failed")
		}
		return false
	}
	delete(track, "metadata")

	current, present := update["current_track_meta_data"]
	if !present {
		return true
	}
	merged, ok := current.(map[string]any)
	if !ok {
		merged = make(map[string]any)
	}
	for key, value := range track {
		merged[key] = value
	}
	update["current_track_meta_data"] = merged
	return true
}

func (m *Manager) requestArt(uid, address string, update map[string]any) {
	if m.deps.Art == nil {
		return
	}
	for _, field := range []string{"current_track_meta_data", "enqueued_transport_uri_meta_data"} {
		meta, ok := update[field].(map[string]any)
		if !ok {
			continue
		}
		source, _ := meta["album_art_uri"].(string)
		if source == "" {
			continue
		}
		album, _ := meta["album"].(string)
		if album == "" {
			album, _ = meta["title"].(string)
		}
		req := artcache.Request{
			Path:          "player/" + uid + "/AVTransport/" + field + "/album_art_uri",
			Album:         album,
			SourceURL:     source,
			DeviceAddress: address,
		}
		if m.deps.Art.Enqueue(req) {
			m.deps.Metrics.ArtRequest("queued")
		} else {
			m.deps.Metrics.ArtRequest("dropped")
		}
	}
}

// register adds uid to the directory once its state carries both transport
// and volume topics. Satellites and other invisible players are never
// registered.
func (m *Manager) register(uid string) {
	if m.deps.Directory.Registered(uid) {
		return
	}
	if !m.deps.Store.Has("player/"+uid+"/AVTransport") || !m.deps.Store.Has("player/"+uid+"/RenderingControl") {
		return
	}
	handle, ok := m.deps.Players.Get(uid)
	if !ok || !handle.Visible() {
		return
	}
	m.deps.Directory.Register(directory.Endpoint{
		UID:          uid,
		FriendlyName: handle.Name(),
		Description:  "Sonos player " + handle.Name(),
		Manufacturer: "Sonos",
		Category:     directory.CategorySpeaker,
		Address:      handle.Address(),
		Capabilities: directory.SpeakerCapabilities,
	})
	m.deps.Metrics.Endpoints(m.deps.Directory.Len())
}
