// Package publish mirrors each registered player's projections to an MQTT
// broker as retained JSON documents.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"log"

	"github.com/strefethen/sonos-bridge-go/internal/directory"
	"github.com/strefethen/sonos-bridge-go/internal/projection"
	"github.com/strefethen/sonos-bridge-go/internal/state"
)

// Sink accepts a payload for a topic.
type Sink interface {
	Publish(topic string, payload []byte) error
}

// Document is the payload published per player.
type Document struct {
	EndpointID   string         `json:"endpoint_id"`
	FriendlyName string         `json:"friendly_name"`
	Capabilities map[string]any `json:"capabilities"`
}

// StatePublisher republishes projections when the state tree changes. A
// player is only republished when its document differs from the last one
// sent.
type StatePublisher struct {
	store     *state.Store
	directory *directory.Directory
	sink      Sink
	prefix    string
	logger    *log.Logger

	last map[string][]byte
}

// NewStatePublisher creates a StatePublisher writing below prefix.
func NewStatePublisher(store *state.Store, dir *directory.Directory, sink Sink, prefix string, logger *log.Logger) *StatePublisher {
	if logger == nil {
		logger = log.Default()
	}
	if prefix == "" {
		prefix = "sonos"
	}
	return &StatePublisher{
		store:     store,
		directory: dir,
		sink:      sink,
		prefix:    prefix,
		logger:    logger,
		last:      make(map[string][]byte),
	}
}

// Topic returns the state topic of uid.
func (p *StatePublisher) Topic(uid string) string {
	return p.prefix + "/player/" + uid + "/state"
}

// Run publishes on every change notification until ctx is done.
func (p *StatePublisher) Run(ctx context.Context) {
	changes, cancel := p.store.Subscribe(64)
	defer cancel()

	p.PublishAll()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			p.drain(changes)
			p.PublishAll()
		}
	}
}

// drain discards queued notifications; one pass covers all of them.
func (p *StatePublisher) drain(changes <-chan state.Change) {
	for {
		select {
		case <-changes:
		default:
			return
		}
	}
}

// PublishAll publishes every registered player whose document changed and
// returns how many were sent.
func (p *StatePublisher) PublishAll() int {
	tree := p.store.Snapshot()
	sent := 0
	for _, endpoint := range p.directory.List() {
		doc := Document{
			EndpointID:   endpoint.ID,
			FriendlyName: endpoint.FriendlyName,
			Capabilities: projection.All(tree, endpoint.UID, p.directory.Registered),
		}
		payload, err := json.Marshal(doc)
		if err != nil {
			p.logger.Printf("MQTT: encode %s: %v", endpoint.UID, err)
			continue
		}
		if bytes.Equal(p.last[endpoint.UID], payload) {
			continue
		}
		if err := p.sink.Publish(p.Topic(endpoint.UID), payload); err != nil {
			p.logger.Printf("MQTT: publish %s: %v", endpoint.UID, err)
			continue
		}
		p.last[endpoint.UID] = payload
		sent++
	}
	return sent
}
