package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTP struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (h HTTP) Addr() string { return fmt.Sprintf("%s:%d", h.Host, h.Port) }

type Log struct {
	Level string
	File  string
}

type DB struct {
	Driver string // sqlite or mysql
	Path   string
	Host   string
	Port   int
	User   string
	Pass   string
	Name   string
}

type Redis struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type JWT struct {
	Secret string
	Issuer string
	ExpMin int
}

type Admin struct {
	Username string
	Password string
}

// Registry tunes how device liveness is read back.
type Registry struct {
	StaleAfter time.Duration
}

type Live struct {
	ProbeInterval time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int64
	AuthTimeout   time.Duration
	RequireToken  bool
}

// Route is where a command kind lands on the device when pushed directly.
// Port 0 means the vend port the device reported.
type Route struct {
	Port int
	Path string
}

type Dispatch struct {
	Timeout         time.Duration
	DefaultVendPort int
	Routes          map[string]Route
}

type Webhook struct {
	Timeout       time.Duration
	Retries       int
	Path          string
	SigningSecret string
	Tolerance     time.Duration
	AllowedEvents []string
}

type Config struct {
	HTTP     HTTP
	Log      Log
	DB       DB
	Redis    Redis
	JWT      JWT
	Admin    Admin
	Registry Registry
	Live     Live
	Dispatch Dispatch
	Webhook  Webhook
}

// DefaultAllowedEvents are the Stripe Terminal events the vend server handles.
var DefaultAllowedEvents = []string{
	"terminal.reader.action_succeeded",
	"terminal.reader.action_failed",
	"terminal.reader.action_updated",
	"payment_intent.amount_capturable_updated",
	"payment_intent.canceled",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fleet.host", "0.0.0.0")
	v.SetDefault("fleet.port", 8080)
	v.SetDefault("fleet.http.read_timeout", "15s")
	v.SetDefault("fleet.http.write_timeout", "30s")
	v.SetDefault("fleet.http.shutdown_timeout", "10s")
	v.SetDefault("fleet.log.level", "info")
	v.SetDefault("fleet.log.file", "")
	v.SetDefault("fleet.db.driver", "sqlite")
	v.SetDefault("fleet.db.path", "shaka-fleet.db")
	v.SetDefault("fleet.db.host", "127.0.0.1")
	v.SetDefault("fleet.db.port", 3306)
	v.SetDefault("fleet.db.user", "root")
	v.SetDefault("fleet.db.pass", "")
	v.SetDefault("fleet.db.name", "shaka_fleet")
	v.SetDefault("fleet.redis.enabled", false)
	v.SetDefault("fleet.redis.addr", "127.0.0.1:6379")
	v.SetDefault("fleet.redis.db", 0)
	v.SetDefault("fleet.jwt.issuer", "shaka-fleet")
	v.SetDefault("fleet.jwt.exp_min", 60)
	v.SetDefault("fleet.admin.username", "admin")
	v.SetDefault("fleet.admin.password", "admin123")
	v.SetDefault("fleet.registry.stale_after", "2m")
	v.SetDefault("fleet.live.probe_interval", "30s")
	v.SetDefault("fleet.live.write_timeout", "10s")
	v.SetDefault("fleet.live.max_frame_bytes", 1<<20)
	v.SetDefault("fleet.live.auth_timeout", "15s")
	v.SetDefault("fleet.live.require_token", false)
	v.SetDefault("fleet.dispatch.timeout", "10s")
	v.SetDefault("fleet.dispatch.default_vend_port", 5001)
	v.SetDefault("fleet.dispatch.routes.sync-products.port", 3000)
	v.SetDefault("fleet.dispatch.routes.sync-products.path", "/api/local-products")
	v.SetDefault("fleet.dispatch.routes.terminal-config.port", 0)
	v.SetDefault("fleet.dispatch.routes.terminal-config.path", "/stripe/config")
	v.SetDefault("fleet.webhook.timeout", "5s")
	v.SetDefault("fleet.webhook.retries", 1)
	v.SetDefault("fleet.webhook.path", "/stripe/webhook")
	v.SetDefault("fleet.webhook.signing_secret", "")
	v.SetDefault("fleet.webhook.tolerance", "5m")
	v.SetDefault("fleet.webhook.allowed_events", DefaultAllowedEvents)
}

// New returns a viper instance with every default registered. An empty path
// runs on defaults and FLEET_* environment overrides alone.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v), nil
}

func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		HTTP: HTTP{
			Host:            v.GetString("fleet.host"),
			Port:            v.GetInt("fleet.port"),
			ReadTimeout:     v.GetDuration("fleet.http.read_timeout"),
			WriteTimeout:    v.GetDuration("fleet.http.write_timeout"),
			ShutdownTimeout: v.GetDuration("fleet.http.shutdown_timeout"),
		},
		Log: Log{Level: v.GetString("fleet.log.level"), File: v.GetString("fleet.log.file")},
		DB: DB{
			Driver: strings.ToLower(v.GetString("fleet.db.driver")),
			Path:   v.GetString("fleet.db.path"),
			Host:   v.GetString("fleet.db.host"),
			Port:   v.GetInt("fleet.db.port"),
			User:   v.GetString("fleet.db.user"),
			Pass:   v.GetString("fleet.db.pass"),
			Name:   v.GetString("fleet.db.name"),
		},
		Redis: Redis{
			Enabled:  v.GetBool("fleet.redis.enabled"),
			Addr:     v.GetString("fleet.redis.addr"),
			Password: v.GetString("fleet.redis.password"),
			DB:       v.GetInt("fleet.redis.db"),
		},
		Admin:    Admin{Username: v.GetString("fleet.admin.username"), Password: v.GetString("fleet.admin.password")},
		Registry: Registry{StaleAfter: v.GetDuration("fleet.registry.stale_after")},
		Live: Live{
			ProbeInterval: v.GetDuration("fleet.live.probe_interval"),
			WriteTimeout:  v.GetDuration("fleet.live.write_timeout"),
			MaxFrameBytes: v.GetInt64("fleet.live.max_frame_bytes"),
			AuthTimeout:   v.GetDuration("fleet.live.auth_timeout"),
			RequireToken:  v.GetBool("fleet.live.require_token"),
		},
		Dispatch: Dispatch{
			Timeout:         v.GetDuration("fleet.dispatch.timeout"),
			DefaultVendPort: v.GetInt("fleet.dispatch.default_vend_port"),
			Routes:          map[string]Route{},
		},
		Webhook: Webhook{
			Timeout:       v.GetDuration("fleet.webhook.timeout"),
			Retries:       v.GetInt("fleet.webhook.retries"),
			Path:          v.GetString("fleet.webhook.path"),
			SigningSecret: v.GetString("fleet.webhook.signing_secret"),
			Tolerance:     v.GetDuration("fleet.webhook.tolerance"),
			AllowedEvents: v.GetStringSlice("fleet.webhook.allowed_events"),
		},
	}
	for _, kind := range []string{"sync-products", "terminal-config"} {
		key := "fleet.dispatch.routes." + kind
		cfg.Dispatch.Routes[kind] = Route{Port: v.GetInt(key + ".port"), Path: v.GetString(key + ".path")}
	}

	cfg.JWT.Secret = v.GetString("fleet.jwt.secret")
	if cfg.JWT.Secret == "" {
		cfg.JWT.Secret = "dev-secret"
	}
	cfg.JWT.Issuer = v.GetString("fleet.jwt.issuer")
	cfg.JWT.ExpMin = v.GetInt("fleet.jwt.exp_min")
	if cfg.JWT.ExpMin <= 0 {
		cfg.JWT.ExpMin = 60
	}
	if cfg.Webhook.Retries > 1 {
		cfg.Webhook.Retries = 1
	}
	if cfg.Webhook.Retries < 0 {
		cfg.Webhook.Retries = 0
	}
	return cfg
}
