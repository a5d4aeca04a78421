package events

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// DefaultCallbackPath is the route prefix NOTIFY requests are sent to. The
// service is appended as the last path segment.
const DefaultCallbackPath = "/upnp/notify"

// maxPendingSIDs bounds how many unknown SIDs are remembered while waiting
// for their SUBSCRIBE response.
const maxPendingSIDs = 64

// ListenerConfig holds configuration for the event listener.
type ListenerConfig struct {
	// CallbackHost is the address devices use to reach us. When empty the
	// outbound interface address is used.
	CallbackHost string
	CallbackPort int
	CallbackPath string
	// RequestTimeout bounds SUBSCRIBE/UNSUBSCRIBE requests.
	RequestTimeout time.Duration
}

// Listener owns the GENA subscriptions for all devices and dispatches
// incoming NOTIFY requests to them.
type Listener struct {
	config ListenerConfig
	client *SubscriptionClient
	logger *log.Logger

	mu            sync.RWMutex
	callbackURL   string
	subscriptions map[string]*Subscription // keyed by SID
	pending       map[string][]Event
	pendingOrder  []string

	now func() time.Time
}

// NewListener creates a new event listener.
func NewListener(config ListenerConfig, logger *log.Logger) *Listener {
	if logger == nil {
		logger = log.Default()
	}
	if config.CallbackPath == "" {
		config.CallbackPath = DefaultCallbackPath
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	return &Listener{
		config:        config,
		client:        NewSubscriptionClient(config.RequestTimeout),
		logger:        logger,
		subscriptions: make(map[string]*Subscription),
		pending:       make(map[string][]Event),
		now:           time.Now,
	}
}

// Start resolves the callback URL advertised to devices.
func (l *Listener) Start() error {
	host := l.config.CallbackHost
	if host == "" {
		localIP, err := discoverLocalIP()
		if err != nil {
			return fmt.Errorf("discover local IP: %w", err)
		}
		host = localIP
	}

	l.mu.Lock()
	l.callbackURL = fmt.Sprintf("http://%s%s", net.JoinHostPort(host, fmt.Sprint(l.config.CallbackPort)), l.config.CallbackPath)
	l.mu.Unlock()

	l.logger.Printf("UPNP: Event listener started, callback URL: %s", l.CallbackURL())
	return nil
}

// CallbackURL returns the base callback URL.
func (l *Listener) CallbackURL() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.callbackURL
}

// Subscribe opens a subscription for one service on a device.
func (l *Listener) Subscribe(ctx context.Context, deviceIP, deviceUID string, service ServiceType, timeout time.Duration, autoRenew bool) (*Subscription, error) {
	path, err := service.EventPath()
	if err != nil {
		return nil, err
	}
	base := l.CallbackURL()
	if base == "" {
		return nil, fmt.Errorf("listener not started")
	}

	callbackURL := base + "/" + service.CallbackSegment()
	sid, granted, err := l.client.Subscribe(ctx, deviceIP, path, callbackURL, int(timeout.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s on %s: %w", service, deviceIP, err)
	}

	sub := &Subscription{
		SID:       sid,
		Service:   service,
		DeviceUID: deviceUID,
		DeviceIP:  deviceIP,
		client:    l.client,
		path:      path,
		timeout:   int(timeout.Seconds()),
		autoRenew: autoRenew,
		logger:    l.logger,
		onClose:   l.remove,
		queue:     make(chan Event, queueSize),
	}
	sub.subscribed.Store(true)
	sub.schedule(granted)

	l.mu.Lock()
	l.subscriptions[sid] = sub
	early := l.takePending(sid)
	l.mu.Unlock()

	for _, event := range early {
		event.DeviceUID = deviceUID
		sub.deliver(event)
	}

	l.logger.Printf("UPNP: Subscribed to %s on %s (SID: %s, timeout: %ds)", service, deviceIP, sid, granted)
	return sub, nil
}

// Active returns the number of live subscriptions.
func (l *Listener) Active() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subscriptions)
}

// Close unsubscribes everything.
func (l *Listener) Close(ctx context.Context) {
	l.mu.RLock()
	subs := make([]*Subscription, 0, len(l.subscriptions))
	for _, sub := range l.subscriptions {
		subs = append(subs, sub)
	}
	l.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(ctx); err != nil {
			l.logger.Printf("UPNP: Failed to unsubscribe %s: %v", sub.SID, err)
		}
	}
	l.logger.Printf("UPNP: Event listener stopped")
}

// takePending removes and returns the events held for sid. Callers hold mu.
func (l *Listener) takePending(sid string) []Event {
	held, ok := l.pending[sid]
	if !ok {
		return nil
	}
	delete(l.pending, sid)
	for i, queued := range l.pendingOrder {
		if queued == sid {
			l.pendingOrder = append(l.pendingOrder[:i], l.pendingOrder[i+1:]...)
			break
		}
	}
	return held
}

func (l *Listener) remove(sid string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subscriptions, sid)
}

// dispatch routes a parsed NOTIFY to its subscription. Events that arrive
// before the SUBSCRIBE response is processed are held until it is.
func (l *Listener) dispatch(event Event) bool {
	l.mu.Lock()
	sub, ok := l.subscriptions[event.SID]
	if !ok {
		if _, seen := l.pending[event.SID]; !seen {
			l.pendingOrder = append(l.pendingOrder, event.SID)
			if len(l.pendingOrder) > maxPendingSIDs {
				delete(l.pending, l.pendingOrder[0])
				l.pendingOrder = l.pendingOrder[1:]
			}
		}
		held := append(l.pending[event.SID], event)
		if len(held) > queueSize {
			held = held[1:]
		}
		l.pending[event.SID] = held
		l.mu.Unlock()
		return false
	}
	l.mu.Unlock()

	if event.Service != sub.Service {
		l.logger.Printf("UPNP: Event for %s arrived on %s callback", sub.Service, event.Service)
		event.Service = sub.Service
	}
	event.DeviceUID = sub.DeviceUID
	sub.deliver(event)
	return true
}

// discoverLocalIP discovers the local IP address to use in callback URLs.
// It connects to a well-known address to determine which interface to use.
func discoverLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
