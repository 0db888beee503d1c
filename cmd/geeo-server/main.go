// Command geeo-server runs the geo-indexing service: a WebSocket
// endpoint tracking moving agents, static points of interest, moving
// views and static air beacons, propagating enter/leave/move events to
// subscribers in real time.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/GeeoIO/geeo-server/acceptor"
	"github.com/GeeoIO/geeo-server/config"
	"github.com/GeeoIO/geeo-server/entity"
	"github.com/GeeoIO/geeo-server/event"
	"github.com/GeeoIO/geeo-server/geo"
	"github.com/GeeoIO/geeo-server/logger"
	"github.com/GeeoIO/geeo-server/metrics"
	"github.com/GeeoIO/geeo-server/service"
	"github.com/GeeoIO/geeo-server/session"
	"github.com/GeeoIO/geeo-server/storage"
	"github.com/GeeoIO/geeo-server/token"
	"github.com/GeeoIO/geeo-server/webhook"
)

func main() {
	configPath := flag.String("config", "geeo.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("cannot load config %s: %s", *configPath, err)
	}
	logger.Init("geeo-server", cfg.Viper())
	defer logger.Sync()

	var store storage.Storage
	if addr := cfg.GetString("storage.redis.addr"); addr != "" {
		redisStore, err := storage.NewRedis(cfg)
		if err != nil {
			logger.Fatalf("redis storage: %s", err)
		}
		store = redisStore
	} else {
		logger.Warnf("no redis configured, pois and air beacons will not survive restart")
		store = storage.NewMemory()
	}
	defer store.Close()

	secret := cfg.GetString("geeo.token.secret")
	if secret == "" {
		secret = uuid.New().String()
		logger.Warnf("no token secret configured, generated an ephemeral one; tokens will not survive restart")
	}
	tokens := token.NewManager(secret, cfg.GetDuration("geeo.token.expiry"))

	entities := entity.NewStore(geo.NewIndex())
	engine := event.NewEngine(entities)
	dispatcher := webhook.NewDispatcher(cfg)
	processor := service.NewProcessor(cfg, entities, engine, dispatcher, store)

	if err := processor.Restore(); err != nil {
		logger.Fatalf("restore persisted entities: %s", err)
	}
	dispatcher.Start()
	processor.Start()

	mux := http.NewServeMux()
	mux.Handle("/ws", acceptor.NewWSAcceptor(cfg, processor, tokens).Handler())
	if cfg.GetBool("geeo.metrics.enabled") {
		mux.Handle("/metrics", metrics.Handler())
	}
	if cfg.GetBool("geeo.http.devRoutes") {
		logger.Warnf("dev token route enabled, do not run this in production")
		mux.Handle("/api/dev/token", token.DevHandler(tokens))
	}

	srv := &http.Server{Addr: cfg.GetString("geeo.ws.addr"), Handler: mux}
	go func() {
		logger.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %s", err)
		}
	}()

	sg := make(chan os.Signal, 1)
	signal.Notify(sg, syscall.SIGINT, syscall.SIGTERM)
	s := <-sg
	logger.Infof("got signal %s, shutting down", s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warnf("http shutdown: %s", err)
	}

	// closing sessions enqueues their entity cleanup; drain it before
	// stopping the processor so nothing is left behind
	session.CloseAll()
	processor.Drain(5 * time.Second)
	processor.Stop()
	dispatcher.Shutdown(5 * time.Second)
	logger.Infof("bye")
}
