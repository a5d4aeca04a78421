package sonos

import (
	"context"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/strefethen/sonos-bridge-go/internal/discovery"
	"github.com/strefethen/sonos-bridge-go/internal/player"
	"github.com/strefethen/sonos-bridge-go/internal/sonos/events"
	"github.com/strefethen/sonos-bridge-go/internal/sonos/soap"
)

// LibraryOptions configures a Library.
type LibraryOptions struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	// Fallback returns the addresses probed when SSDP finds nothing.
	Fallback func(ctx context.Context) []string
}

// Library finds zone players and opens event subscriptions on them.
type Library struct {
	client     *soap.Client
	discovery  *discovery.Service
	listener   *events.Listener
	httpClient *http.Client
	timeout    time.Duration
	fallback   func(ctx context.Context) []string
	logger     *log.Logger
}

// NewLibrary creates a Library.
func NewLibrary(client *soap.Client, disc *discovery.Service, listener *events.Listener, opts LibraryOptions, logger *log.Logger) *Library {
	if logger == nil {
		logger = log.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Library{
		client:     client,
		discovery:  disc,
		listener:   listener,
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
		fallback:   opts.Fallback,
		logger:     logger,
	}
}

// Discover returns a handle for every player in the household, including
// invisible ones such as home theater satellites. The zone group state of the
// first responsive player enumerates the household; probed players missing
// from it are appended as visible rooms.
func (l *Library) Discover(ctx context.Context) ([]player.Player, error) {
	var fallback []string
	if l.fallback != nil {
		fallback = l.fallback(ctx)
	}

	probed, err := l.discovery.DiscoverDevices(ctx, fallback)
	if err != nil {
		return nil, err
	}
	if len(probed) == 0 {
		return nil, nil
	}

	byUID := make(map[string]*discovery.RawDevice, len(probed))
	for _, raw := range probed {
		byUID[raw.UDN] = raw
	}

	devices := make(map[string]*Device)
	if state, ok := l.householdState(ctx, probed); ok {
		for _, group := range state.Groups {
			for _, member := range group.Members {
				address := discovery.AddressFromLocation(member.Location)
				raw := byUID[member.UUID]
				if raw != nil {
					address = raw.IP
				}
				if address == "" {
					continue
				}
				devices[member.UUID] = l.newDevice(member.UUID, member.ZoneName, address, member.IsVisible, raw)
			}
		}
	}

	for _, raw := range probed {
		if _, ok := devices[raw.UDN]; ok {
			continue
		}
		devices[raw.UDN] = l.newDevice(raw.UDN, raw.RoomName, raw.IP, true, raw)
	}

	result := make([]player.Player, 0, len(devices))
	for _, device := range devices {
		result = append(result, device)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UID() < result[j].UID() })
	l.logger.Printf("DISCOVERY: %d players in household (%d probed)", len(result), len(probed))
	return result, nil
}

func (l *Library) householdState(ctx context.Context, probed []*discovery.RawDevice) (soap.ZoneGroupState, bool) {
	for _, raw := range probed {
		callCtx, cancel := context.WithTimeout(ctx, l.timeout)
		state, err := l.client.GetZoneGroupState(callCtx, raw.IP)
		cancel()
		if err != nil {
			l.logger.Printf("DISCOVERY: zone group state from %s failed: %v", raw.IP, err)
			continue
		}
		return state, true
	}
	return soap.ZoneGroupState{}, false
}

func (l *Library) newDevice(uid, name, address string, visible bool, raw *discovery.RawDevice) *Device {
	if name == "" && raw != nil {
		name = raw.RoomName
	}
	return &Device{
		uid:        uid,
		name:       name,
		address:    address,
		visible:    visible,
		client:     l.client,
		httpClient: l.httpClient,
		timeout:    l.timeout,
		raw:        raw,
	}
}

// Subscribe opens an event subscription for service on p.
func (l *Library) Subscribe(ctx context.Context, p player.Player, service events.ServiceType, timeout time.Duration, autoRenew bool) (events.Handle, error) {
	sub, err := l.listener.Subscribe(ctx, p.Address(), p.UID(), service, timeout, autoRenew)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
