package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/bot"
	"github.com/tbourn/go-dispatch-backend/internal/config"
	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/etcdstore"
	httpapi "github.com/tbourn/go-dispatch-backend/internal/http"
	"github.com/tbourn/go-dispatch-backend/internal/http/handlers"
	"github.com/tbourn/go-dispatch-backend/internal/jobs"
	"github.com/tbourn/go-dispatch-backend/internal/notify"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
	"github.com/tbourn/go-dispatch-backend/internal/services"
)

// Options overrides collaborators New would otherwise build from config.
type Options struct {
	// Gateway replaces the Telegram (or log) gateway.
	Gateway notify.Gateway
	// Updates enables the bot poller on a custom update source.
	Updates bot.UpdatesAPI
	// EtcdKV replaces the dialled etcd client when STORE_BACKEND=etcd.
	EtcdKV clientv3.KV
}

// App is the assembled dispatcher.
type App struct {
	Config config.Config
	DB     *gorm.DB

	Coordinator  *services.Coordinator
	Requests     *services.RequestService
	Registration *services.Registration

	Server  *http.Server
	Janitor *jobs.Janitor
	Poller  *bot.Poller // nil without a bot channel

	closers []func() error
}

// New builds the dependency graph from cfg. The caller owns the result and
// must call Close.
func New(cfg config.Config, opts Options) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// SQLite: specialists, dialogue sessions, idempotency (and requests by default)
	a.DB, err = repo.OpenSQLite(cfg.DBPath, repo.OpenOptions{
		Tracing: cfg.OTEL.Enabled,
		Silent:  cfg.LogLevel != "debug",
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if sqlDB, e := a.DB.DB(); e == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	if err = repo.AutoMigrate(a.DB); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	store, stamp, err := a.requestStore(cfg, opts)
	if err != nil {
		return nil, err
	}

	// Outbound channel
	gw := opts.Gateway
	updates := opts.Updates
	if gw == nil {
		if cfg.Telegram.BotToken != "" {
			api, e := notify.NewTelegramAPI(cfg.Telegram.BotToken, cfg.Telegram.HTTPTimeout)
			if e != nil {
				return nil, e
			}
			log.Info().Str("bot", api.Self.UserName).Msg("telegram connected")
			gw = &notify.Telegram{API: api}
			if updates == nil {
				updates = api
			}
		} else {
			log.Warn().Msg("TELEGRAM_BOT_TOKEN not set: notifications are logged only")
			gw = notify.Log{}
		}
	}
	fan := notify.NewFanout(gw, cfg.Notify.Workers, cfg.Notify.Timeout)

	// Services
	dir := repo.SpecialistDirectory{DB: a.DB}
	a.Coordinator = services.NewCoordinator(store, dir, fan)
	a.Requests = services.NewRequestService(store, a.Coordinator, cfg.BroadcastAsync)
	a.Requests.Specialists = dir
	a.Registration = services.NewRegistration(dir, repo.SessionStore{DB: a.DB}, cfg.DialogueTTL)

	if updates != nil {
		h := bot.NewHandler(a.Registration, a.Coordinator, gw)
		a.Poller = bot.NewPoller(updates, h, int(cfg.Telegram.PollTimeout/time.Second), cfg.WriteTimeout)
	}

	if a.Janitor, err = jobs.NewJanitor(a.DB, cfg.CleanupSchedule); err != nil {
		return nil, err
	}

	// HTTP
	uploads, err := handlers.NewUploads(cfg.UploadDir, cfg.MaxPhotoBytes)
	if err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Requests:    a.Requests,
		Claims:      a.Coordinator,
		Idempotency: repo.IdempotencyStore{DB: a.DB, TTL: cfg.IdempotencyTTL},
		Stamp:       stamp,
		Uploads:     uploads,
	}, cfg)

	a.Server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	return a, nil
}

// requestStore picks the request backend. The list ETag stamp is only
// available on SQLite.
func (a *App) requestStore(cfg config.Config, opts Options) (services.RequestStore, handlers.ListStamp, error) {
	if cfg.Store.Backend != "etcd" {
		db := a.DB
		stamp := func(ctx context.Context, f domain.RequestFilter) (int64, *time.Time, error) {
			return repo.RequestsStats(ctx, db, f)
		}
		return repo.RequestStore{DB: db}, stamp, nil
	}

	kv := opts.EtcdKV
	if kv == nil {
		cli, err := etcdstore.NewClient(cfg.Store.EtcdEndpoints, cfg.Store.EtcdDialTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("dial etcd: %w", err)
		}
		a.closers = append(a.closers, cli.Close)
		kv = cli
	}
	log.Info().Strs("endpoints", cfg.Store.EtcdEndpoints).Str("prefix", cfg.Store.EtcdPrefix).Msg("requests stored in etcd")
	return etcdstore.New(kv).WithPrefix(cfg.Store.EtcdPrefix), nil, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler { return a.Server.Handler }

// Close releases the database and etcd connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
