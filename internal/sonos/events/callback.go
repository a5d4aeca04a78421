package events

import (
	"io"
	"net"
	"net/http"
	"path"
)

// CallbackHandler handles UPnP NOTIFY events from Sonos devices.
type CallbackHandler struct {
	listener *Listener
}

// NewCallbackHandler creates a new callback handler.
func NewCallbackHandler(listener *Listener) *CallbackHandler {
	return &CallbackHandler{
		listener: listener,
	}
}

// ServeHTTP handles incoming NOTIFY requests. The service is taken from the
// last path segment, e.g. /upnp/notify/avtransport.
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "NOTIFY" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sid := r.Header.Get("SID")
	seq := ParseSEQ(r.Header.Get("SEQ"))
	if sid == "" {
		http.Error(w, "Missing SID", http.StatusBadRequest)
		return
	}
	if r.Header.Get("NT") != "upnp:event" {
		http.Error(w, "Invalid NT", http.StatusBadRequest)
		return
	}
	if r.Header.Get("NTS") != "upnp:propchange" {
		http.Error(w, "Invalid NTS", http.StatusBadRequest)
		return
	}

	service, ok := ServiceFromCallbackSegment(path.Base(r.URL.Path))
	if !ok {
		http.Error(w, "Unknown service", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}

	variables, err := ParseNotifyBody(body)
	if err != nil {
		h.listener.logger.Printf("UPNP: Failed to parse %s event from %s: %v", service, r.RemoteAddr, err)
		http.Error(w, "Invalid body", http.StatusBadRequest)
		return
	}

	h.listener.dispatch(Event{
		SID:        sid,
		Seq:        seq,
		Service:    service,
		DeviceIP:   sourceIP(r),
		Variables:  variables,
		ReceivedAt: h.listener.now(),
	})

	w.WriteHeader(http.StatusOK)
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
