package server

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/strefethen/sonos-bridge-go/internal/api"
	"github.com/strefethen/sonos-bridge-go/internal/artcache"
	"github.com/strefethen/sonos-bridge-go/internal/audit"
	"github.com/strefethen/sonos-bridge-go/internal/auth"
	"github.com/strefethen/sonos-bridge-go/internal/bridge"
	"github.com/strefethen/sonos-bridge-go/internal/config"
	"github.com/strefethen/sonos-bridge-go/internal/controller"
	"github.com/strefethen/sonos-bridge-go/internal/db"
	"github.com/strefethen/sonos-bridge-go/internal/directory"
	"github.com/strefethen/sonos-bridge-go/internal/discovery"
	"github.com/strefethen/sonos-bridge-go/internal/metrics"
	"github.com/strefethen/sonos-bridge-go/internal/normalize"
	"github.com/strefethen/sonos-bridge-go/internal/player"
	"github.com/strefethen/sonos-bridge-go/internal/publish"
	"github.com/strefethen/sonos-bridge-go/internal/resolver"
	"github.com/strefethen/sonos-bridge-go/internal/scheduler"
	"github.com/strefethen/sonos-bridge-go/internal/sonos"
	"github.com/strefethen/sonos-bridge-go/internal/sonos/events"
	"github.com/strefethen/sonos-bridge-go/internal/sonos/soap"
	"github.com/strefethen/sonos-bridge-go/internal/state"
	"github.com/strefethen/sonos-bridge-go/internal/stream"
	"github.com/strefethen/sonos-bridge-go/internal/topology"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade reach the underlying connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// Options controls server wiring.
type Options struct {
	// DisableDiscovery skips the poll loop and the callback address lookup.
	DisableDiscovery bool
}

// NewHandler builds the bridge, starts its background loops and returns the
// HTTP handler along with a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	logger := log.Default()

	log.Printf("Using database: %s", cfg.SQLiteDBPath)
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}
	known := db.NewKnownPlayers(dbPair)
	auditService := audit.NewService(dbPair, logger)

	timeout := time.Duration(cfg.SonosTimeoutMs) * time.Millisecond
	m := metrics.New()
	store := state.NewStore()
	tracker := topology.NewTracker(logger)
	players := player.NewSet()
	dir := directory.New(logger)

	listener := events.NewListener(events.ListenerConfig{
		CallbackHost:   cfg.CallbackHost,
		CallbackPort:   cfg.CallbackPort,
		RequestTimeout: timeout,
	}, logger)
	if !options.DisableDiscovery {
		if err := listener.Start(); err != nil {
			_ = dbPair.Close()
			return nil, nil, err
		}
	}

	disc := discovery.NewService(discovery.Options{
		Passes:       cfg.SSDPDiscoveryPasses,
		PassInterval: time.Duration(cfg.SSDPPassIntervalMs) * time.Millisecond,
		Timeout:      time.Duration(cfg.SSDPDiscoveryTimeoutMs) * time.Millisecond,
		ProbeTimeout: timeout,
	}, logger)

	library := sonos.NewLibrary(soap.NewClient(timeout), disc, listener, sonos.LibraryOptions{
		Timeout:  timeout,
		Fallback: fallbackAddresses(cfg.StaticPlayers, known, logger),
	}, logger)

	cache := artcache.New(artcache.Config{Timeout: time.Duration(cfg.ArtFetchTimeoutMs) * time.Millisecond}, logger)
	artWorker := artcache.NewWorker(cache, cfg.ArtQueueSize, logger)
	artWorker.OnDone(func(artcache.Request) {
		m.ArtRequest("prefetched")
	})

	manager := bridge.NewManager(bridge.Deps{
		Library:    library,
		Store:      store,
		Tracker:    tracker,
		Players:    players,
		Normalizer: normalize.New(logger),
		Directory:  dir,
		Art:        artWorker,
		Known:      known,
		Metrics:    m,
	}, bridge.Options{
		MinInterval:         time.Duration(cfg.PollIntervalMinMs) * time.Millisecond,
		MaxInterval:         time.Duration(cfg.PollIntervalMaxMs) * time.Millisecond,
		SubscriptionTimeout: time.Duration(cfg.SubscriptionTimeoutSec) * time.Second,
	}, logger)

	ctrl := controller.New(controller.Deps{
		Resolver:  resolver.New(store, tracker, players),
		Store:     store,
		Players:   players,
		Reconnect: audit.Reconnector{Next: manager, Service: auditService},
		Metrics:   m,
		Journal:   auditService,
	}, logger)

	schedulerService, err := scheduler.NewService(scheduler.Config{
		PruneSchedule:            cfg.PruneSchedule,
		FavoritesRefreshSchedule: cfg.FavoritesRefreshSchedule,
		Retention:                time.Duration(cfg.KnownPlayerRetentionHours) * time.Hour,
		AuditRetention:           time.Duration(cfg.AuditRetentionDays) * 24 * time.Hour,
	}, scheduler.Targets{KnownPlayers: known, AuditEvents: auditService, Favorites: manager}, logger)
	if err != nil {
		_ = dbPair.Close()
		return nil, nil, err
	}

	var mqttClient *publish.MQTTClient
	var publisher *publish.StatePublisher
	if cfg.MQTTBroker != "" {
		mqttClient, err = publish.Connect(publish.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			QoS:         byte(cfg.MQTTQoS),
			Retain:      cfg.MQTTRetain,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, logger)
		if err != nil {
			// The bridge keeps serving HTTP without a broker.
			logger.Printf("MQTT: publishing disabled: %v", err)
		} else {
			publisher = publish.NewStatePublisher(store, dir, mqttClient, mqttClient.Prefix(), logger)
		}
	}

	hub := stream.NewHub(store, logger)
	authCfg := auth.Config{
		Secret:     cfg.JWTSecret,
		AccessTTL:  time.Duration(cfg.JWTAccessTokenExpirySec) * time.Second,
		RefreshTTL: time.Duration(cfg.JWTRefreshTokenExpirySec) * time.Second,
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.CorrelationMiddleware)
	router.Use(api.Recoverer(logger))

	RegisterRoutes(router, Routes{
		Store:      store,
		Directory:  dir,
		Controller: ctrl,
		Art:        cache,
		Bridge:     manager,
		Scheduler:  schedulerService,
		Stream:     hub,
		Metrics:    m,
		Notify:     events.NewCallbackHandler(listener),
		Auth:       authCfg,
	})

	audit.RegisterRoutes(router, auditService)

	runCtx, cancel := context.WithCancel(context.Background())

	pairingStore := auth.NewPairingStore(5 * time.Minute)
	pairingStore.StartCleanup(runCtx, time.Minute)
	auth.RegisterRoutes(router, pairingStore, authCfg, logger)

	var wg sync.WaitGroup
	start := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(runCtx)
		}()
	}

	start(artWorker.Run)
	if !options.DisableDiscovery {
		start(func(ctx context.Context) {
			if err := manager.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Printf("BRIDGE: poll loop stopped: %v", err)
			}
		})
	}
	if publisher != nil {
		start(publisher.Run)
	}
	schedulerService.Start()
	auditService.RecordSystem(runCtx, audit.EventSystemStartup, "bridge started")

	shutdown := func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		auditService.RecordSystem(ctx, audit.EventSystemShutdown, "bridge stopping")
		cancel()
		schedulerService.Stop()
		hub.Close()
		hub.Wait()
		wg.Wait()
		listener.Close(ctx)
		if mqttClient != nil {
			_ = mqttClient.Close()
		}
		return dbPair.Close()
	}

	return router, shutdown, nil
}

// fallbackAddresses returns the probe list used when SSDP finds nothing:
// configured players first, then players persisted by earlier runs.
func fallbackAddresses(static []string, known *db.KnownPlayers, logger *log.Logger) func(context.Context) []string {
	return func(ctx context.Context) []string {
		seen := make(map[string]bool)
		addresses := make([]string, 0, len(static))
		add := func(address string) {
			if address == "" || seen[address] {
				return
			}
			seen[address] = true
			addresses = append(addresses, address)
		}
		for _, address := range static {
			add(address)
		}
		persisted, err := known.Addresses(ctx)
		if err != nil {
			logger.Printf("DISCOVERY: known players lookup failed: %v", err)
		}
		for _, address := range persisted {
			add(address)
		}
		return addresses
	}
}
