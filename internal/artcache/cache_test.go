package artcache

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const artPath = "player/RINCON_A/AVTransport/current_track_meta_data/album_art_uri"

func artServer(t *testing.T, hits *atomic.Int32, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func quietCache(timeout time.Duration) *Cache {
	return New(Config{Timeout: timeout}, log.New(io.Discard, "", 0))
}

func TestResolveURL(t *testing.T) {
	assert.Equal(t, "https://i.scdn.co/image/x", ResolveURL("https://i.scdn.co/image/x", "10.0.0.2"))
	assert.Equal(t, "http://10.0.0.2:1400/getaa?s=1&u=x", ResolveURL("/getaa?s=1&u=x", "10.0.0.2"))
	assert.Equal(t, "http://10.0.0.2:1400/getaa?s=1&u=x-sonos-spotify%3Atrack", ResolveURL("x-sonos-spotify:track", "10.0.0.2"))
	assert.Equal(t, "", ResolveURL("/getaa?s=1", ""))
	assert.Equal(t, "", ResolveURL("", "10.0.0.2"))
}

func TestSameAlbumServedFromCache(t *testing.T) {
	var hits atomic.Int32
	server := artServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("jpeg-one"))
	})
	cache := quietCache(time.Second)

	first := cache.Get(context.Background(), artPath, "Record", server.URL+"/art.jpg", "")
	second := cache.Get(context.Background(), artPath, "Record", server.URL+"/art.jpg", "")

	assert.Equal(t, []byte("jpeg-one"), first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())
}

func TestAlbumChangeRefetches(t *testing.T) {
	var hits atomic.Int32
	server := artServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.TrimPrefix(r.URL.Path, "/")))
	})
	cache := quietCache(time.Second)

	cache.Get(context.Background(), artPath, "Record", server.URL+"/one", "")
	data := cache.Get(context.Background(), artPath, "Other Record", server.URL+"/two", "")

	assert.Equal(t, []byte("two"), data)
	assert.Equal(t, int32(2), hits.Load())
	entry, ok := cache.Lookup(artPath)
	require.True(t, ok)
	assert.Equal(t, "Other Record", entry.Album)
}

func TestTimeoutFallsBackAndKeepsCache(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := artServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/slow") {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		_, _ = w.Write([]byte("old"))
	})
	defer close(release)
	cache := quietCache(50 * time.Millisecond)

	cache.Get(context.Background(), artPath, "Record", server.URL+"/fast", "")
	data := cache.Get(context.Background(), artPath, "New Record", server.URL+"/slow", "")

	assert.Equal(t, Logo(), data)
	entry, ok := cache.Lookup(artPath)
	require.True(t, ok)
	assert.Equal(t, []byte("old"), entry.Data)
	assert.Equal(t, "Record", entry.Album)
}

func TestEmptyBodyFallsBack(t *testing.T) {
	var hits atomic.Int32
	server := artServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {})
	cache := quietCache(time.Second)

	data := cache.Get(context.Background(), artPath, "Record", server.URL+"/art.jpg", "")
	assert.Equal(t, Logo(), data)
	assert.Equal(t, 0, cache.Len())
}

func TestNoAddressFallsBack(t *testing.T) {
	cache := quietCache(time.Second)
	assert.Equal(t, Logo(), cache.Get(context.Background(), artPath, "Record", "/getaa?s=1", ""))
}

func TestVirtualImages(t *testing.T) {
	cache := quietCache(time.Second)

	light, ok := cache.Image("logo")
	require.True(t, ok)
	assert.True(t, bytes.HasPrefix(light, []byte("\x89PNG")))

	dark, ok := cache.Image("darklogo")
	require.True(t, ok)
	assert.NotEqual(t, light, dark)

	fallback, ok := cache.Image(artPath)
	assert.False(t, ok)
	assert.Equal(t, light, fallback)
}

func TestWorkerProcessesQueue(t *testing.T) {
	var hits atomic.Int32
	server := artServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("img"))
	})
	cache := quietCache(time.Second)
	worker := NewWorker(cache, 1, log.New(io.Discard, "", 0))
	done := make(chan Request, 1)
	worker.OnDone(func(req Request) { done <- req })

	require.True(t, worker.Enqueue(Request{Path: artPath, Album: "Record", SourceURL: server.URL + "/a"}))
	assert.False(t, worker.Enqueue(Request{Path: "other"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	select {
	case req := <-done:
		assert.Equal(t, artPath, req.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not process request")
	}
	_, ok := cache.Lookup(artPath)
	assert.True(t, ok)
}
