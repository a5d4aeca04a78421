package sonos

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
	"github.com/strefethen/sonos-bridge-go/internal/discovery"
	"github.com/strefethen/sonos-bridge-go/internal/player"
	"github.com/strefethen/sonos-bridge-go/internal/sonos/events"
	"github.com/strefethen/sonos-bridge-go/internal/sonos/soap"
	"github.com/strefethen/sonos-bridge-go/internal/topology"
)

// Device is a player.Player backed by SOAP calls to one zone player.
type Device struct {
	uid     string
	name    string
	address string
	visible bool

	client     *soap.Client
	httpClient *http.Client
	timeout    time.Duration

	mu  sync.Mutex
	raw *discovery.RawDevice
}

var _ player.Player = (*Device)(nil)

func (d *Device) UID() string     { return d.uid }
func (d *Device) Name() string    { return d.name }
func (d *Device) Address() string { return d.address }
func (d *Device) Visible() bool   { return d.visible }

func (d *Device) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

// SpeakerInfo returns the device description fields. Players found only
// through the group view are probed on first use.
func (d *Device) SpeakerInfo(ctx context.Context) (map[string]any, error) {
	d.mu.Lock()
	raw := d.raw
	d.mu.Unlock()

	if raw == nil {
		ctx, cancel := d.call(ctx)
		defer cancel()
		probed, err := discovery.ProbeDevice(ctx, d.httpClient, d.address)
		if err != nil {
			return nil, soap.Classify(&soap.SonosUnreachableError{Action: "device_description", Err: err})
		}
		if probed == nil {
			return nil, fmt.Errorf("%s is not a zone player", d.address)
		}
		d.mu.Lock()
		d.raw = probed
		d.mu.Unlock()
		raw = probed
	}

	info := raw.SpeakerInfo()
	info["player_name"] = d.name
	return info, nil
}

func (d *Device) CurrentTrack(ctx context.Context) (map[string]any, error) {
	ctx, cancel := d.call(ctx)
	defer cancel()
	position, err := d.client.GetPositionInfo(ctx, d.address)
	if err != nil {
		return nil, soap.Classify(err)
	}
	return trackInfo(position, d.address), nil
}

// GroupInfo asks this device for the live zone group state and returns the
// group it belongs to. Home theater satellites are not group members.
func (d *Device) GroupInfo(ctx context.Context) (topology.Group, error) {
	ctx, cancel := d.call(ctx)
	defer cancel()
	state, err := d.client.GetZoneGroupState(ctx, d.address)
	if err != nil {
		return topology.Group{}, soap.Classify(err)
	}

	zoneGroup, ok := state.GroupFor(d.uid)
	if !ok {
		return topology.Group{ID: d.uid, Coordinator: d.uid, Members: []string{d.uid}}, nil
	}

	group := topology.Group{ID: zoneGroup.ID, Coordinator: zoneGroup.Coordinator}
	for _, member := range zoneGroup.Members {
		if member.IsSatellite || member.IsSubwoofer {
			continue
		}
		group.Members = append(group.Members, member.UUID)
	}
	return group.Normalize(), nil
}

func (d *Device) AvailableActions(ctx context.Context) ([]string, error) {
	ctx, cancel := d.call(ctx)
	defer cancel()
	actions, err := d.client.GetCurrentTransportActions(ctx, d.address)
	if err != nil {
		return nil, soap.Classify(err)
	}
	return actions, nil
}

const favoritesPageSize = 100

// Favorites reads the whole favorites container, one Browse page at a time.
func (d *Device) Favorites(ctx context.Context) ([]player.Favorite, error) {
	ctx, cancel := d.call(ctx)
	defer cancel()

	favorites := make([]player.Favorite, 0)
	for {
		page, err := d.client.Browse(ctx, d.address, soap.FavoritesContainer, len(favorites), favoritesPageSize)
		if err != nil {
			return nil, soap.Classify(err)
		}
		if page.NumberReturned == 0 || page.Result == "" {
			return favorites, nil
		}
		objects, err := events.ParseDIDL(page.Result)
		if err != nil {
			return nil, fmt.Errorf("%w: favorites: %v", apperrors.ErrDecodeFault, err)
		}
		for _, obj := range objects {
			favorites = append(favorites, d.favorite(obj))
		}
		if len(favorites) >= page.TotalMatches || len(objects) == 0 {
			return favorites, nil
		}
	}
}

func (d *Device) favorite(obj events.DidlObject) player.Favorite {
	fav := player.Favorite{
		ID:          obj.ItemID,
		Title:       obj.Title,
		Description: obj.Metadata["description"],
		Type:        obj.Metadata["type"],
		AlbumArtURI: absoluteArtURL(obj.Metadata["album_art_uri"], d.address),
		Metadata:    obj.Desc,
	}
	if len(obj.Resources) > 0 {
		fav.URI = obj.Resources[0].URI
	}
	if resMD := obj.Metadata["res_md"]; resMD != "" {
		fav.Metadata = resMD
	}
	return fav
}

func (d *Device) Play(ctx context.Context) error {
	ctx, cancel := d.call(ctx)
	defer cancel()
	return soap.Classify(d.client.Play(ctx, d.address))
}

func (d *Device) Pause(ctx context.Context) error {
	ctx, cancel := d.call(ctx)
	defer cancel()
	return soap.Classify(d.client.Pause(ctx, d.address))
}

func (d *Device) Stop(ctx context.Context) error {
	ctx, cancel := d.call(ctx)
	defer cancel()
	return soap.Classify(d.client.Stop(ctx, d.address))
}

func (d *Device) Next(ctx context.Context) error {
	ctx, cancel := d.call(ctx)
	defer cancel()
	return soap.Classify(d.client.Next(ctx, d.address))
}

func (d *Device) Previous(ctx context.Context) error {
	ctx, cancel := d.call(ctx)
	defer cancel()
	return soap.Classify(d.client.Previous(ctx, d.address))
}

func (d *Device) Join(ctx context.Context, coordinator player.Player) error {
	ctx, cancel := d.call(ctx)
	defer cancel()
	return soap.Classify(d.client.JoinGroup(ctx, d.address, coordinator.UID()))
}

func (d *Device) Unjoin(ctx context.Context) error {
	ctx, cancel := d.call(ctx)
	defer cancel()
	return soap.Classify(d.client.BecomeCoordinatorOfStandaloneGroup(ctx, d.address))
}

func (d *Device) SetVolume(ctx context.Context, level int) error {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	ctx, cancel := d.call(ctx)
	defer cancel()
	return soap.Classify(d.client.SetVolume(ctx, d.address, level))
}

func (d *Device) SetMute(ctx context.Context, muted bool) error {
	ctx, cancel := d.call(ctx)
	defer cancel()
	return soap.Classify(d.client.SetMute(ctx, d.address, muted))
}

// PlayURI loads uri as the transport source and starts playback.
func (d *Device) PlayURI(ctx context.Context, uri, metadata string) error {
	ctx, cancel := d.call(ctx)
	defer cancel()
	if err := d.client.SetAVTransportURI(ctx, d.address, uri, metadata); err != nil {
		return soap.Classify(err)
	}
	return soap.Classify(d.client.Play(ctx, d.address))
}
