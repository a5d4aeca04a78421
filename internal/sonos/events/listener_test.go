package events

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	server       *httptest.Server
	subscribes   atomic.Int32
	unsubscribes atomic.Int32
	renewStatus  int
	lastCallback atomic.Value
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	device := &fakeDevice{renewStatus: http.StatusOK}
	device.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "SUBSCRIBE":
			if sid := r.Header.Get("SID"); sid != "" {
				w.Header().Set("TIMEOUT", "Second-180")
				w.WriteHeader(device.renewStatus)
				return
			}
			n := device.subscribes.Add(1)
			device.lastCallback.Store(strings.Trim(r.Header.Get("CALLBACK"), "<>"))
			w.Header().Set("SID", "uuid:RINCON_A_sub000"+string(rune('0'+n)))
			w.Header().Set("TIMEOUT", "Second-180")
			w.WriteHeader(http.StatusOK)
		case "UNSUBSCRIBE":
			device.unsubscribes.Add(1)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(device.server.Close)
	return device
}

func (d *fakeDevice) host() string {
	return strings.TrimPrefix(d.server.URL, "http://")
}

func newTestListener(t *testing.T) *Listener {
	t.Helper()
	listener := NewListener(ListenerConfig{CallbackHost: "127.0.0.1", CallbackPort: 9000}, log.New(io.Discard, "", 0))
	require.NoError(t, listener.Start())
	return listener
}

func notify(t *testing.T, handler http.Handler, path, sid string, seq string, body []byte) int {
	t.Helper()
	req := httptest.NewRequest("NOTIFY", path, bytes.NewReader(body))
	req.Header.Set("SID", sid)
	req.Header.Set("SEQ", seq)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestSubscribeAndPoll(t *testing.T) {
	device := newFakeDevice(t)
	listener := newTestListener(t)
	handler := NewCallbackHandler(listener)

	sub, err := listener.Subscribe(context.Background(), device.host(), "RINCON_A", ServiceRenderingControl, 180*time.Second, true)
	require.NoError(t, err)
	assert.True(t, sub.IsSubscribed())
	assert.Equal(t, "http://127.0.0.1:9000/upnp/notify/renderingcontrol", device.lastCallback.Load())

	_, ok := sub.Poll()
	assert.False(t, ok)

	code := notify(t, handler, "/upnp/notify/renderingcontrol", sub.SID, "0",
		propertySet(lastChange(`<Volume channel="Master" val="33"/>`)))
	require.Equal(t, http.StatusOK, code)

	event, ok := sub.Poll()
	require.True(t, ok)
	assert.Equal(t, ServiceRenderingControl, event.Service)
	assert.Equal(t, "RINCON_A", event.DeviceUID)
	assert.Equal(t, map[string]any{"Master": "33"}, event.Variables["volume"])

	_, ok = sub.Poll()
	assert.False(t, ok)
}

func TestEarlyEventIsHeldUntilSubscribeReturns(t *testing.T) {
	device := newFakeDevice(t)
	listener := newTestListener(t)
	handler := NewCallbackHandler(listener)

	code := notify(t, handler, "/upnp/notify/avtransport", "uuid:RINCON_A_sub0001", "0",
		propertySet(lastChange(`<TransportState val="STOPPED"/>`)))
	require.Equal(t, http.StatusOK, code)

	sub, err := listener.Subscribe(context.Background(), device.host(), "RINCON_A", ServiceAVTransport, 180*time.Second, true)
	require.NoError(t, err)
	require.Equal(t, "uuid:RINCON_A_sub0001", sub.SID)

	event, ok := sub.Poll()
	require.True(t, ok)
	assert.Equal(t, "STOPPED", event.Variables["transport_state"])
	assert.Equal(t, "RINCON_A", event.DeviceUID)
}

func TestUnsubscribeClearsLiveness(t *testing.T) {
	device := newFakeDevice(t)
	listener := newTestListener(t)

	sub, err := listener.Subscribe(context.Background(), device.host(), "RINCON_A", ServiceZoneGroupTopology, 180*time.Second, true)
	require.NoError(t, err)
	require.Equal(t, 1, listener.Active())

	require.NoError(t, sub.Unsubscribe(context.Background()))
	assert.False(t, sub.IsSubscribed())
	assert.Equal(t, 0, listener.Active())
	assert.Equal(t, int32(1), device.unsubscribes.Load())

	require.NoError(t, sub.Unsubscribe(context.Background()))
	assert.Equal(t, int32(1), device.unsubscribes.Load())
}

func TestFailedRenewalMarksSubscriptionDead(t *testing.T) {
	device := newFakeDevice(t)
	device.renewStatus = http.StatusPreconditionFailed
	listener := newTestListener(t)

	sub, err := listener.Subscribe(context.Background(), device.host(), "RINCON_A", ServiceDeviceProperties, 180*time.Second, true)
	require.NoError(t, err)

	sub.renew()
	assert.False(t, sub.IsSubscribed())
	assert.Equal(t, 0, listener.Active())
}

func TestNonRenewingSubscriptionExpires(t *testing.T) {
	device := newFakeDevice(t)
	listener := newTestListener(t)

	sub, err := listener.Subscribe(context.Background(), device.host(), "RINCON_A", ServiceAVTransport, 180*time.Second, false)
	require.NoError(t, err)

	sub.expire()
	assert.False(t, sub.IsSubscribed())
}

func TestCallbackRejectsUnknownService(t *testing.T) {
	listener := newTestListener(t)
	handler := NewCallbackHandler(listener)

	code := notify(t, handler, "/upnp/notify/alarmclock", "uuid:x", "0", propertySet())
	assert.Equal(t, http.StatusNotFound, code)
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	sub := &Subscription{SID: "uuid:x", logger: log.New(io.Discard, "", 0), queue: make(chan Event, 2)}

	sub.deliver(Event{Seq: 1})
	sub.deliver(Event{Seq: 2})
	sub.deliver(Event{Seq: 3})

	first, ok := sub.Poll()
	require.True(t, ok)
	assert.Equal(t, 2, first.Seq)
	second, ok := sub.Poll()
	require.True(t, ok)
	assert.Equal(t, 3, second.Seq)
}

func TestHeldEventsReleaseTheirSlot(t *testing.T) {
	listener := newTestListener(t)

	for i := 0; i < 3; i++ {
		listener.dispatch(Event{SID: "uuid:early", Service: ServiceAVTransport})
	}
	listener.mu.Lock()
	assert.Equal(t, []string{"uuid:early"}, listener.pendingOrder)
	held := listener.takePending("uuid:early")
	listener.mu.Unlock()
	assert.Len(t, held, 3)

	for i := 0; i < maxPendingSIDs; i++ {
		listener.dispatch(Event{SID: "uuid:other" + strconv.Itoa(i), Service: ServiceAVTransport})
	}
	listener.dispatch(Event{SID: "uuid:early", Service: ServiceAVTransport})

	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.Len(t, listener.pendingOrder, maxPendingSIDs)
	assert.Len(t, listener.pending, maxPendingSIDs)
	assert.NotContains(t, listener.pending, "uuid:other0")
	assert.Len(t, listener.pending["uuid:early"], 1)
}
