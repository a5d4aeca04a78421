// Package directory keeps the endpoints the bridge exposes to its host, one
// per zone player that reports both transport and volume state.
package directory

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// EndpointPrefix is prepended to a player UID to form its endpoint ID.
const EndpointPrefix = "sonos:player:"

// Category values.
const (
	CategorySpeaker = "SPEAKER"
)

// Capability interface names reported for speakers.
var SpeakerCapabilities = []string{
	"EndpointHealth",
	"InputController",
	"MusicController",
	"SpeakerController",
}

// Endpoint is a registered device.
type Endpoint struct {
	ID           string
	UID          string
	FriendlyName string
	Description  string
	Manufacturer string
	Category     string
	Address      string
	Capabilities []string
	RegisteredAt time.Time
}

// EndpointID returns the endpoint ID for a player UID.
func EndpointID(uid string) string {
	return EndpointPrefix + uid
}

// UIDFromEndpoint strips the endpoint prefix. Plain UIDs are returned as is.
func UIDFromEndpoint(id string) string {
	return strings.TrimPrefix(id, EndpointPrefix)
}

// Directory is the set of registered endpoints.
type Directory struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
	logger    *log.Logger
	now       func() time.Time
}

// New creates an empty directory.
func New(logger *log.Logger) *Directory {
	if logger == nil {
		logger = log.Default()
	}
	return &Directory{
		endpoints: make(map[string]Endpoint),
		logger:    logger,
		now:       time.Now,
	}
}

// Register adds or refreshes an endpoint. It reports true when the endpoint
// was not registered before.
func (d *Directory) Register(endpoint Endpoint) bool {
	if endpoint.ID == "" {
		endpoint.ID = EndpointID(endpoint.UID)
	}
	if endpoint.Category == "" {
		endpoint.Category = CategorySpeaker
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.endpoints[endpoint.ID]
	if ok {
		endpoint.RegisteredAt = existing.RegisteredAt
	} else {
		endpoint.RegisteredAt = d.now()
	}
	endpoint.Capabilities = append([]string(nil), endpoint.Capabilities...)
	d.endpoints[endpoint.ID] = endpoint
	if !ok {
		d.logger.Printf("BRIDGE: registered endpoint %s (%s)", endpoint.ID, endpoint.FriendlyName)
	}
	return !ok
}

// Registered reports whether uid has an endpoint.
func (d *Directory) Registered(uid string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.endpoints[EndpointID(uid)]
	return ok
}

// Find looks up an endpoint by endpoint ID, UID, or friendly name
// (case-insensitive), in that order.
func (d *Directory) Find(identifier string) (Endpoint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if endpoint, ok := d.endpoints[identifier]; ok {
		return endpoint, true
	}
	if endpoint, ok := d.endpoints[EndpointID(identifier)]; ok {
		return endpoint, true
	}
	for _, endpoint := range d.endpoints {
		if strings.EqualFold(endpoint.FriendlyName, identifier) {
			d.logger.Printf("BRIDGE: endpoint found by name fallback: requested=%s found=%s", identifier, endpoint.ID)
			return endpoint, true
		}
	}
	return Endpoint{}, false
}

// List returns every endpoint sorted by friendly name.
func (d *Directory) List() []Endpoint {
	d.mu.RLock()
	result := make([]Endpoint, 0, len(d.endpoints))
	for _, endpoint := range d.endpoints {
		result = append(result, endpoint)
	}
	d.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		if result[i].FriendlyName == result[j].FriendlyName {
			return result[i].ID < result[j].ID
		}
		return result[i].FriendlyName < result[j].FriendlyName
	})
	return result
}

// Len returns the number of endpoints.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.endpoints)
}

// Reset removes every endpoint.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints = make(map[string]Endpoint)
}
