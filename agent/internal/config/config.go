package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	BackendURL        string
	MachineID         string
	Token             string
	Name              string
	Location          string
	FirmwareVersion   string
	ReaderID          string
	VendPort          int
	ProductsPort      int
	HeartbeatInterval time.Duration
	Live              bool
	LogPath           string
	DBPath            string
}

// Init reads the agent config. A missing file leaves the defaults in place;
// AGENT_* environment variables override both. A file that exists but does
// not parse is an error.
func Init(path string) (AppConfig, error) {
	host, _ := os.Hostname()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("agent.backend_url", "http://127.0.0.1:8080")
	v.SetDefault("agent.machine_id", host)
	v.SetDefault("agent.name", host)
	v.SetDefault("agent.firmware_version", "sim-1.0.0")
	v.SetDefault("agent.vend_port", 5001)
	v.SetDefault("agent.products_port", 3000)
	v.SetDefault("agent.heartbeat_interval", 30*time.Second)
	v.SetDefault("agent.live", true)
	v.SetDefault("agent.db_path", filepath.Join(os.TempDir(), "shaka-agent", "agent.db"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return AppConfig{
		BackendURL:        strings.TrimRight(v.GetString("agent.backend_url"), "/"),
		MachineID:         v.GetString("agent.machine_id"),
		Token:             v.GetString("agent.token"),
		Name:              v.GetString("agent.name"),
		Location:          v.GetString("agent.location"),
		FirmwareVersion:   v.GetString("agent.firmware_version"),
		ReaderID:          v.GetString("agent.reader_id"),
		VendPort:          v.GetInt("agent.vend_port"),
		ProductsPort:      v.GetInt("agent.products_port"),
		HeartbeatInterval: v.GetDuration("agent.heartbeat_interval"),
		Live:              v.GetBool("agent.live"),
		LogPath:           v.GetString("agent.log_path"),
		DBPath:            v.GetString("agent.db_path"),
	}, nil
}

// LiveURL turns the backend base URL into the websocket endpoint.
func (c AppConfig) LiveURL() string {
	u := c.BackendURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}
