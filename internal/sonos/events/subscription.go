package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strefethen/sonos-bridge-go/internal/sonos/soap"
)

// SubscriptionClient handles UPnP GENA subscription requests.
type SubscriptionClient struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewSubscriptionClient creates a new subscription client.
func NewSubscriptionClient(timeout time.Duration) *SubscriptionClient {
	return &SubscriptionClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// Subscribe sends a SUBSCRIBE request to a Sonos device.
// Returns the subscription ID (SID) and timeout on success.
func (c *SubscriptionClient) Subscribe(ctx context.Context, deviceIP string, servicePath string, callbackURL string, timeout int) (sid string, actualTimeout int, err error) {
	url := fmt.Sprintf("http://%s%s", soap.DeviceHost(deviceIP), servicePath)

	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}

	// Set GENA headers
	req.Header.Set("CALLBACK", fmt.Sprintf("<%s>", callbackURL))
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeout))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("subscribe request: %w", err)
	}
	defer resp.Body.Close()

	// Drain and discard response body
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("subscribe failed: %s", resp.Status)
	}

	// Extract SID from response
	sid = ParseSID(resp.Header.Get("SID"))
	if sid == "" {
		return "", 0, fmt.Errorf("no SID in response")
	}

	actualTimeout = ParseTimeout(resp.Header.Get("TIMEOUT"))

	return sid, actualTimeout, nil
}

// Renew sends a subscription renewal request.
func (c *SubscriptionClient) Renew(ctx context.Context, deviceIP string, servicePath string, sid string, timeout int) (actualTimeout int, err error) {
	url := fmt.Sprintf("http://%s%s", soap.DeviceHost(deviceIP), servicePath)

	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	// Set renewal headers (no CALLBACK or NT for renewals)
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeout))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("renew request: %w", err)
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusPreconditionFailed {
		return 0, ErrSubscriptionNotFound
	}

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("renew failed: %s", resp.Status)
	}

	actualTimeout = ParseTimeout(resp.Header.Get("TIMEOUT"))
	return actualTimeout, nil
}

// Unsubscribe sends an UNSUBSCRIBE request to a Sonos device.
func (c *SubscriptionClient) Unsubscribe(ctx context.Context, deviceIP string, servicePath string, sid string) error {
	url := fmt.Sprintf("http://%s%s", soap.DeviceHost(deviceIP), servicePath)

	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("SID", sid)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The device may already be gone.
		return nil
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, resp.Body)

	// 412 means the subscription is already gone
	if resp.StatusCode == http.StatusPreconditionFailed {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unsubscribe failed: %s", resp.Status)
	}

	return nil
}

// ErrSubscriptionNotFound indicates the subscription doesn't exist (HTTP 412).
var ErrSubscriptionNotFound = errors.New("subscription not found")

// queueSize bounds the events buffered per subscription between polls.
const queueSize = 64

// Handle is the view of a subscription the poll loop works with.
type Handle interface {
	ServiceType() ServiceType
	IsSubscribed() bool
	Poll() (Event, bool)
	Unsubscribe(ctx context.Context) error
}

var _ Handle = (*Subscription)(nil)

// Subscription is a live GENA subscription for one device and service.
// Events delivered by the listener are queued until drained with Poll.
type Subscription struct {
	SID       string
	Service   ServiceType
	DeviceUID string
	DeviceIP  string

	client    *SubscriptionClient
	path      string
	timeout   int
	autoRenew bool
	logger    *log.Logger
	onClose   func(sid string)

	queue      chan Event
	subscribed atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
	seq   int
}

// ServiceType returns the subscribed service.
func (s *Subscription) ServiceType() ServiceType {
	return s.Service
}

// IsSubscribed reports whether the device still honours the subscription.
// It turns false when renewal fails, the subscription expires without
// auto-renew, or Unsubscribe is called.
func (s *Subscription) IsSubscribed() bool {
	return s.subscribed.Load()
}

// Poll returns the next queued event without blocking.
func (s *Subscription) Poll() (Event, bool) {
	select {
	case event := <-s.queue:
		return event, true
	default:
		return Event{}, false
	}
}

// Unsubscribe cancels the subscription on the device.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	if !s.subscribed.Swap(false) {
		return nil
	}
	s.stopTimer()
	if s.onClose != nil {
		s.onClose(s.SID)
	}
	return s.client.Unsubscribe(ctx, s.DeviceIP, s.path, s.SID)
}

// deliver queues an event. When the queue is full the oldest event is
// dropped so the newest state always wins.
func (s *Subscription) deliver(event Event) {
	s.mu.Lock()
	if event.Seq > 0 && s.seq > 0 && event.Seq != s.seq+1 {
		s.logger.Printf("UPNP: Sequence gap on %s: expected %d, got %d", s.SID, s.seq+1, event.Seq)
	}
	s.seq = event.Seq
	s.mu.Unlock()

	for {
		select {
		case s.queue <- event:
			return
		default:
		}
		select {
		case dropped := <-s.queue:
			s.logger.Printf("UPNP: Queue full on %s, dropped event seq %d", s.SID, dropped.Seq)
		default:
		}
	}
}

func (s *Subscription) schedule(timeout int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	if !s.autoRenew {
		s.timer = time.AfterFunc(time.Duration(timeout)*time.Second, s.expire)
		return
	}

	// Renew at 85% of the granted timeout, and never more often than every 10s.
	renewIn := time.Duration(timeout) * time.Second * 85 / 100
	if renewIn < 10*time.Second {
		renewIn = 10 * time.Second
	}
	s.timer = time.AfterFunc(renewIn, s.renew)
}

func (s *Subscription) renew() {
	if !s.IsSubscribed() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	timeout, err := s.client.Renew(ctx, s.DeviceIP, s.path, s.SID, s.timeout)
	cancel()
	if err != nil {
		s.logger.Printf("UPNP: Failed to renew %s on %s: %v", s.SID, s.DeviceIP, err)
		s.expire()
		return
	}

	s.logger.Printf("UPNP: Renewed subscription %s (timeout: %ds)", s.SID, timeout)
	s.schedule(timeout)
}

func (s *Subscription) expire() {
	if s.subscribed.Swap(false) && s.onClose != nil {
		s.onClose(s.SID)
	}
}

func (s *Subscription) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
