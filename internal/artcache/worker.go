package artcache

import (
	"context"
	"log"
)

// Request asks the worker to refresh the art cached under Path.
type Request struct {
	Path          string
	Album         string
	SourceURL     string
	DeviceAddress string
}

// Worker downloads art off the caller's goroutine. Requests beyond the
// queue capacity are dropped.
type Worker struct {
	cache  *Cache
	queue  chan Request
	logger *log.Logger
	done   func(Request)
}

// NewWorker creates a worker with a queue of the given size.
func NewWorker(cache *Cache, size int, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	if size <= 0 {
		size = 32
	}
	return &Worker{
		cache:  cache,
		queue:  make(chan Request, size),
		logger: logger,
	}
}

// OnDone registers a callback invoked after each request is processed. It
// must be set before Run starts.
func (w *Worker) OnDone(fn func(Request)) {
	w.done = fn
}

// Enqueue submits req without blocking. It reports false when the queue is
// full.
func (w *Worker) Enqueue(req Request) bool {
	select {
	case w.queue <- req:
		return true
	default:
		w.logger.Printf("ART: queue full, dropping %s", req.Path)
		return false
	}
}

// Run processes requests until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.queue:
			w.cache.Get(ctx, req.Path, req.Album, req.SourceURL, req.DeviceAddress)
			if w.done != nil {
				w.done(req)
			}
		}
	}
}
