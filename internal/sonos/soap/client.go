// Package soap issues UPnP control requests to zone players.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Client sends control requests to zone players.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client whose requests give up after timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Invoke runs action on the player at address and returns the values of the
// action response keyed by element name.
func (c *Client) Invoke(ctx context.Context, address string, service Service, action string, args ...Arg) (map[string]string, error) {
	url := "http://" + DeviceHost(address) + service.ControlPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buildEnvelope(service, action, args)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", `"`+service.Type+"#"+action+`"`)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, &SonosTimeoutError{Action: action}
		}
		return nil, &SonosUnreachableError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SonosUnreachableError{Action: action, Err: err}
	}

	var doc responseEnvelope
	decodeErr := xml.Unmarshal(payload, &doc)
	if resp.StatusCode >= http.StatusBadRequest {
		if fault := doc.Body.Fault; decodeErr == nil && fault.Code != "" {
			return nil, &SonosRejectedError{Action: action, Code: fault.Code, Description: fault.Description}
		}
		return nil, fmt.Errorf("sonos action %s failed: http %d", action, resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("sonos action %s: %w", action, decodeErr)
	}

	values := make(map[string]string, len(doc.Body.Response.Values))
	for _, value := range doc.Body.Response.Values {
		values[value.XMLName.Local] = strings.TrimSpace(value.Text)
	}
	return values, nil
}

type responseEnvelope struct {
	Body struct {
		Fault struct {
			Code        string `xml:"detail>UPnPError>errorCode"`
			Description string `xml:"detail>UPnPError>errorDescription"`
		} `xml:"Fault"`
		Response struct {
			Values []struct {
				XMLName xml.Name
				Text    string `xml:",chardata"`
			} `xml:",any"`
		} `xml:",any"`
	} `xml:"Body"`
}

func buildEnvelope(service Service, action string, args []Arg) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>`)
	fmt.Fprintf(&buf, `<u:%s xmlns:u="%s">`, action, service.Type)
	for _, arg := range args {
		buf.WriteString("<" + arg.Name + ">")
		_ = xml.EscapeText(&buf, []byte(arg.Value))
		buf.WriteString("</" + arg.Name + ">")
	}
	fmt.Fprintf(&buf, `</u:%s></s:Body></s:Envelope>`, action)
	return buf.Bytes()
}
