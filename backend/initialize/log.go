package initialize

import (
	"fmt"
	"io"
	"os"
	"strings"

	"shaka-fleet/backend/config"
	"shaka-fleet/backend/global"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

func init() {
	// console writer to stdout until config is loaded
	global.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetupLogger points global.Logger at stdout and, when configured, a file.
// The returned closer releases the file.
func SetupLogger(cfg config.Log) (io.Closer, error) {
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stdout}
	var closer io.Closer = io.NopCloser(nil)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, f)
		closer = f
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	global.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer, nil
}

// WatchLogLevel applies log level edits to the config file without a
// restart. The level is process wide so loggers already handed out follow it.
func WatchLogLevel(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		lvl := parseLevel(v.GetString("fleet.log.level"))
		zerolog.SetGlobalLevel(lvl)
		global.Logger.Info().Str("file", e.Name).Str("level", lvl.String()).Msg("log level reloaded")
	})
	v.WatchConfig()
}
