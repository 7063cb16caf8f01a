// Package app assembles the allocation engine from configuration: store,
// broker, cache, providers and the two workflows.
package app

import (
	"context"
	"fmt"
	"time"

	"shift-allocation/internal/cache"
	"shift-allocation/internal/common/logger"
	"shift-allocation/internal/config"
	"shift-allocation/internal/connections/database"
	"shift-allocation/internal/connections/rabbitmq"
	"shift-allocation/internal/engine/authz"
	"shift-allocation/internal/engine/claims"
	"shift-allocation/internal/engine/conflict"
	"shift-allocation/internal/engine/matcher"
	"shift-allocation/internal/engine/network"
	"shift-allocation/internal/engine/shiftstate"
	"shift-allocation/internal/engine/swaps"
	"shift-allocation/internal/events"
	"shift-allocation/internal/repository"
)

type App struct {
	Config *config.Config
	Log    *logger.Logger
	Store  repository.Store

	Cache       *cache.ShiftCache
	Broadcaster *cache.Broadcaster
	Broker      *rabbitmq.Client

	Detector   *conflict.ConflictService
	Reputation *network.ReputationService
	Visibility *network.VisibilityService
	Matcher    *matcher.MatcherService
	Claims     *claims.Service
	Swaps      *swaps.Service

	closers []func()
}

// New connects to PostgreSQL and, when configured, RabbitMQ, then wires the
// engine on top of them.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	pool, err := database.ConnectDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info("db_connected", map[string]any{
		"host": cfg.Database.Host, "port": cfg.Database.Port, "database": cfg.Database.Database,
	})
	a := &App{closers: []func(){pool.Close}}

	if cfg.RabbitMQ.Enabled() {
		client, err := connectBroker(cfg.RabbitMQ)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("rabbitmq_connected", map[string]any{"host": cfg.RabbitMQ.Host, "vhost": cfg.RabbitMQ.VHost})
		a.Broker = client
		a.closers = append(a.closers, client.Close)
	}
	a.wire(cfg, log, repository.NewPostgresStore(pool), time.Now)
	return a, nil
}

// NewWithStore wires the engine over an existing store without a broker.
func NewWithStore(cfg *config.Config, log *logger.Logger, store repository.Store, now func() time.Time) *App {
	a := &App{}
	a.wire(cfg, log, store, now)
	return a
}

func connectBroker(cfg config.RabbitMQConfig) (*rabbitmq.Client, error) {
	client, err := rabbitmq.Dial(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(); err != nil {
		client.Close()
		return nil, err
	}
	if err := client.DeclareExchange(cfg.EventsExchange, "topic"); err != nil {
		client.Close()
		return nil, err
	}
	if err := client.DeclareExchange(cfg.CacheExchange, "fanout"); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (a *App) wire(cfg *config.Config, log *logger.Logger, store repository.Store, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	a.Config, a.Log, a.Store = cfg, log, store
	a.Cache = cache.NewShiftCache(CacheTTL(cfg.Cache))

	var publisher events.Publisher = events.Nop{}
	var invalidator cache.Invalidator = a.Cache
	if a.Broker != nil {
		publisher = events.NewAMQPPublisher(a.Broker, cfg.RabbitMQ.EventsExchange)
		a.Broadcaster = cache.NewBroadcaster(a.Cache, a.Broker, cfg.RabbitMQ.CacheExchange)
		invalidator = a.Broadcaster
	}
	dispatcher := events.Dispatcher{Publisher: publisher, Invalidator: invalidator, Log: log.Named("events")}

	a.Detector = conflict.NewConflictService(store, Rules(cfg.Engine), log.Named("conflicts"))
	a.Reputation = network.NewReputationService(store)
	a.Visibility = network.NewVisibilityService(store, a.Reputation, a.Cache, VisibilityOptions(cfg.Engine), now, log.Named("visibility"))
	a.Matcher = matcher.NewMatcherService(store, a.Detector, a.Visibility, a.Reputation, MatcherOptions(cfg.Engine), log.Named("matcher"))
	states := shiftstate.New(log.Named("shiftstate"))

	a.Claims = claims.New(claims.Deps{
		Store:      store,
		Detector:   a.Detector,
		Matcher:    a.Matcher,
		Visibility: a.Visibility,
		States:     states,
		Dispatcher: dispatcher,
		Authorize:  authz.Default,
		Log:        log.Named("claims"),
		Now:        now,
		Policy:     ClaimsPolicy(cfg.Engine),
	})
	a.Swaps = swaps.New(swaps.Deps{
		Store:      store,
		Detector:   a.Detector,
		States:     states,
		Dispatcher: dispatcher,
		Authorize:  authz.Default,
		Log:        log.Named("swaps"),
		Now:        now,
		Policy:     SwapsPolicy(cfg.Engine),
	})
}

// CacheListener consumes invalidations broadcast by other engine processes.
func (a *App) CacheListener() (*cache.Listener, error) {
	if a.Broker == nil || a.Broadcaster == nil {
		return nil, fmt.Errorf("cache listener needs a configured rabbitmq broker")
	}
	return cache.NewListener(a.Broker, a.Cache, a.Config.RabbitMQ.CacheExchange, a.Broadcaster.Origin(), a.Log.Named("cache")), nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.Log.Sync()
}
