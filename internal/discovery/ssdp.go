package discovery

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	ssdpAddr   = "239.255.255.250:1900"
	ssdpTarget = "urn:schemas-upnp-org:device:ZonePlayer:1"
)

// Response is one M-SEARCH reply from a zone player. UID is the RINCON
// identifier carried in the USN.
type Response struct {
	Location  string
	USN       string
	UID       string
	Household string
	FromIP    string
}

// Discover multicasts an M-SEARCH for zone players once per pass and
// collects replies until timeout after the last pass. Replies are unique
// per player.
func Discover(ctx context.Context, passes int, passInterval, timeout time.Duration) ([]Response, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return nil, err
	}

	collected := make(map[string]Response)
	var order []string
	buf := make([]byte, 2048)

	for pass := 0; pass < passes; pass++ {
		if _, err := conn.WriteTo(searchRequest(), addr); err != nil {
			return collect(collected, order), err
		}

		wait := passInterval
		if pass == passes-1 {
			wait = timeout
		}
		if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return collect(collected, order), err
		}

		for {
			if ctx.Err() != nil {
				return collect(collected, order), ctx.Err()
			}
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					break
				}
				return collect(collected, order), err
			}

			resp, ok := parseResponse(buf[:n])
			if !ok {
				continue
			}
			resp.FromIP = from.String()
			if _, seen := collected[resp.UID]; !seen {
				collected[resp.UID] = resp
				order = append(order, resp.UID)
			}
		}
	}

	return collect(collected, order), nil
}

func searchRequest() []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + ssdpAddr + "\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 2\r\n" +
		"ST: " + ssdpTarget + "\r\n\r\n")
}

// parseResponse reads an SSDP reply. Replies without a location or from
// devices other than zone players are rejected.
func parseResponse(raw []byte) (Response, bool) {
	httpResp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(string(raw))), nil)
	if err != nil {
		return Response{}, false
	}
	defer httpResp.Body.Close()

	resp := Response{
		Location:  httpResp.Header.Get("Location"),
		USN:       httpResp.Header.Get("USN"),
		Household: httpResp.Header.Get("X-Rincon-Household"),
	}
	resp.UID = uidFromUSN(resp.USN)
	if resp.Location == "" || !strings.HasPrefix(resp.UID, "RINCON_") {
		return Response{}, false
	}
	return resp, true
}

// uidFromUSN extracts RINCON_xxx from "uuid:RINCON_xxx::urn:...".
func uidFromUSN(usn string) string {
	uid := strings.TrimPrefix(usn, "uuid:")
	if i := strings.Index(uid, "::"); i >= 0 {
		uid = uid[:i]
	}
	return strings.TrimSpace(uid)
}

func collect(responses map[string]Response, order []string) []Response {
	result := make([]Response, 0, len(order))
	for _, uid := range order {
		result = append(result, responses[uid])
	}
	return result
}
