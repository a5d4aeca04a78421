// Package artcache fetches and caches album art from zone players and
// serves the built-in logo images.
package artcache

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/strefethen/sonos-bridge-go/internal/sonos/soap"
)

//go:embed assets/sonoslogo.png
var lightLogo []byte

//go:embed assets/sonosdark.png
var darkLogo []byte

// maxArtBytes caps a single downloaded image.
const maxArtBytes = 4 << 20

// Entry is one cached image. Entries are immutable once stored.
type Entry struct {
	URL   string
	Album string
	Data  []byte
}

// Config holds configuration for creating a Cache.
type Config struct {
	Timeout    time.Duration // Optional: per fetch, defaults to 10s
	HTTPClient *http.Client  // Optional
}

// Cache maps logical art paths to downloaded images.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	httpClient *http.Client
	timeout    time.Duration
	logger     *log.Logger
}

// New creates an empty Cache.
func New(cfg Config, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Cache{
		entries:    make(map[string]*Entry),
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}
}

// Logo returns the default (light) logo.
func Logo() []byte {
	return lightLogo
}

// Image returns the bytes served for a virtual image path: one of the logos
// or a cached art path. Unknown paths get the default logo and false.
func (c *Cache) Image(path string) ([]byte, bool) {
	switch strings.Trim(path, "/") {
	case "logo", "lightlogo":
		return lightLogo, true
	case "darklogo":
		return darkLogo, true
	}
	if entry, ok := c.Lookup(path); ok {
		return entry.Data, true
	}
	return lightLogo, false
}

// Lookup returns the cached entry for path.
func (c *Cache) Lookup(path string) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[strings.Trim(path, "/")]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Get returns the art for path. When the cached entry was fetched for the
// same album it is returned as is; otherwise the image is downloaded again.
// Any failure yields the default logo and leaves the cache untouched.
func (c *Cache) Get(ctx context.Context, path, albumID, sourceURL, deviceAddress string) []byte {
	key := strings.Trim(path, "/")
	if entry, ok := c.Lookup(key); ok && entry.Album == albumID {
		return entry.Data
	}

	artURL := ResolveURL(sourceURL, deviceAddress)
	if artURL == "" {
		return lightLogo
	}

	data, err := c.fetch(ctx, artURL)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			c.logger.Printf("ART: fetch timed out for %s", key)
		case errors.Is(err, context.Canceled):
			c.logger.Printf("ART: fetch cancelled for %s", key)
		default:
			c.logger.Printf("ART: could not get art for %s: %v", key, err)
		}
		return lightLogo
	}

	c.mu.Lock()
	c.entries[key] = &Entry{URL: artURL, Album: albumID, Data: data}
	c.mu.Unlock()
	c.logger.Printf("ART: cached %s (%d bytes)", key, len(data))
	return data
}

func (c *Cache) fetch(ctx context.Context, artURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return data, nil
}

// ResolveURL turns an album art reference into a fetchable URL. Absolute
// URLs are used as is, device paths are resolved against the player and
// anything else goes through the player's art proxy. Without a device
// address only absolute URLs resolve.
func ResolveURL(sourceURL, deviceAddress string) string {
	switch {
	case sourceURL == "":
		return ""
	case strings.HasPrefix(sourceURL, "http"):
		return sourceURL
	case deviceAddress == "":
		return ""
	case strings.HasPrefix(sourceURL, "/"):
		return "http://" + soap.DeviceHost(deviceAddress) + sourceURL
	default:
		return "http://" + soap.DeviceHost(deviceAddress) + "/getaa?s=1&u=" + url.QueryEscape(sourceURL)
	}
}
