package initialize

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"shaka-fleet/backend/app/controllers"
	"shaka-fleet/backend/app/db"
	"shaka-fleet/backend/app/devicehttp"
	jwtutil "shaka-fleet/backend/app/jwt"
	"shaka-fleet/backend/app/middleware"
	"shaka-fleet/backend/app/registry"
	"shaka-fleet/backend/app/repo"
	"shaka-fleet/backend/app/services"
	"shaka-fleet/backend/app/socket"
	"shaka-fleet/backend/config"
	"shaka-fleet/backend/global"
	"shaka-fleet/backend/router"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type App struct {
	Cfg        *config.Config
	DB         *gorm.DB
	Redis      *redis.Client
	Router     http.Handler
	Registry   *registry.Registry
	Hub        *socket.Hub
	Dispatcher *services.Dispatcher
	Webhooks   *services.WebhookRouter
	Users      *services.UserService
	logCloser  io.Closer
}

func Build(configPath string) (*App, error) {
	// Load config
	v, err := config.New(configPath)
	if err != nil {
		return nil, err
	}
	cfg := config.FromViper(v)
	global.Config = cfg

	closer, err := SetupLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		WatchLogLevel(v)
	}

	// Connect DB
	gdb, err := db.Connect(db.Config{
		Driver: cfg.DB.Driver, Path: cfg.DB.Path,
		Host: cfg.DB.Host, Port: cfg.DB.Port, User: cfg.DB.User, Password: cfg.DB.Pass, DBName: cfg.DB.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	global.Mdb = gdb
	if err := db.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var sessions *repo.SessionRepository
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		global.Rdb = rdb
		sessions = repo.NewSessionRepository(rdb)
	}

	// Services
	reg := registry.New()
	userRepo := repo.NewUserRepository(gdb)
	deliveries := repo.NewDeliveryRepository(gdb)
	events := repo.NewWebhookEventRepository(gdb)
	userSvc := services.NewUserService(userRepo)
	if err := userSvc.EnsureAdmin(cfg.Admin.Username, cfg.Admin.Password); err != nil {
		global.Logger.Warn().Err(err).Msg("seed admin")
	}

	signer := &jwtutil.Signer{Secret: []byte(cfg.JWT.Secret), Issuer: cfg.JWT.Issuer, ExpMin: cfg.JWT.ExpMin}
	heartbeats := services.NewHeartbeatService(reg)
	hub := socket.NewHub(heartbeats, signer, socket.Options{
		ProbeInterval: cfg.Live.ProbeInterval,
		WriteTimeout:  cfg.Live.WriteTimeout,
		AuthTimeout:   cfg.Live.AuthTimeout,
		MaxFrameBytes: cfg.Live.MaxFrameBytes,
		RequireToken:  cfg.Live.RequireToken,
	})
	dispatcher := services.NewDispatcher(reg, hub, devicehttp.New(cfg.Dispatch.Timeout, 0), deliveries, cfg.Dispatch)
	webhooks := services.NewWebhookRouter(reg, devicehttp.New(cfg.Webhook.Timeout, cfg.Webhook.Retries), events, cfg.Webhook, cfg.Dispatch.DefaultVendPort)
	devices := services.NewDeviceService(reg, hub, cfg.Registry.StaleAfter)

	// Controllers
	mw := &middleware.Auth{Signer: signer}
	if sessions != nil {
		mw.Sessions = sessions
	}
	h := router.NewRouter(router.Controllers{
		HTTP:      controllers.NewHTTPController(),
		Auth:      controllers.NewAuthController(userSvc, signer, sessions),
		Admin:     controllers.NewAdminController(userSvc),
		Devices:   controllers.NewDeviceController(devices, signer),
		Commands:  controllers.NewCommandController(dispatcher, deliveries),
		Heartbeat: controllers.NewHeartbeatController(heartbeats),
		Socket:    controllers.NewSocketController(hub),
		Webhooks:  controllers.NewWebhookController(webhooks, events, cfg.Webhook.SigningSecret, cfg.Webhook.Tolerance, 2*cfg.Webhook.Timeout+time.Second),
	}, mw)

	return &App{
		Cfg: cfg, DB: gdb, Redis: global.Rdb, Router: h, Registry: reg, Hub: hub,
		Dispatcher: dispatcher, Webhooks: webhooks, Users: userSvc, logCloser: closer,
	}, nil
}

// Close releases the live channels, the database and the log file.
func (a *App) Close() {
	a.Hub.Close()
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}
