package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"shaka-fleet/backend/config"
	"shaka-fleet/backend/global"
)

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// RunHTTPServer serves handler until ctx ends, then drains in-flight
// requests within the shutdown timeout.
func RunHTTPServer(ctx context.Context, cfg config.HTTP, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       durationOr(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      durationOr(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       2 * time.Minute,
	}
	errCh := make(chan error, 1)
	go func() {
		global.Logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), durationOr(cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()
	global.Logger.Info().Msg("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}
