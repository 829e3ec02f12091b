// Package main provides the skipbeat companion server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/oauth2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"github.com/shiomiya/skipbeat/internal/api/httpapi"
	"github.com/shiomiya/skipbeat/internal/app/counter"
	"github.com/shiomiya/skipbeat/internal/app/observer"
	"github.com/shiomiya/skipbeat/internal/app/session"
	"github.com/shiomiya/skipbeat/internal/domain/track"
	"github.com/shiomiya/skipbeat/internal/infra/config"
	"github.com/shiomiya/skipbeat/internal/infra/credential"
	"github.com/shiomiya/skipbeat/internal/infra/logger"
	"github.com/shiomiya/skipbeat/internal/infra/planstore"
	"github.com/shiomiya/skipbeat/internal/infra/sched"
	"github.com/shiomiya/skipbeat/internal/infra/spotify"
)

var (
	app        = kingpin.New("skipbeat-server", "skipbeat workout companion server")
	configPath = app.Flag("config", "Path to config file").Default("config/config.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()
	scheduler := sched.NewReal()

	// Credential provider backed by the persisted token. The refresh grant
	// uses only the client ID (public PKCE client, no secret).
	oauthCfg := &oauth2.Config{
		ClientID:    cfg.Spotify.ClientID,
		RedirectURL: cfg.Spotify.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyauth.AuthURL,
			TokenURL: spotifyauth.TokenURL,
		},
	}
	creds := credential.NewProvider(credential.NewStore(cfg.Storage.CredentialFile), oauthCfg, scheduler)
	defer creds.Close()

	if !creds.Available() {
		zlog.Warn().Msg("No credential found; run skipbeat-auth to authorize before starting a workout")
	}

	player := spotify.New(ctx, creds)

	driver := session.NewDriver(scheduler, player, creds, session.Config{
		TickInterval: time.Duration(cfg.Playback.TickIntervalMs) * time.Millisecond,
	})
	defer driver.Close()

	obs := observer.New(scheduler, player, creds, observer.Config{
		PollInterval: time.Duration(cfg.Playback.PollIntervalMs) * time.Millisecond,
	})
	defer obs.Stop()

	cnt := counter.New(scheduler, player, creds)
	defer cnt.Stop()

	// Every playback poll feeds the song counter.
	obs.OnUpdate(func(snap *track.Snapshot, changed bool) {
		cnt.Observe(snap)
	})

	// Credential loss halts everything that talks to Spotify; a fresh
	// credential restarts the playback observer.
	creds.OnChange(func(c *credential.Credential) {
		if c == nil {
			zlog.Warn().Msg("Credential lost, stopping session and playback observer")
			driver.HandleCredentialLost()
			obs.HandleCredentialLost()
			cnt.Stop()
			return
		}
		obs.Start()
	})

	if creds.Available() {
		obs.Start()
	}

	// Log session events as they happen.
	go func() {
		for ev := range driver.Events() {
			logSessionEvent(ev)
		}
	}()

	handler := httpapi.New(planstore.New(cfg.Storage.PlanFile), driver, obs, cnt, creds)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(handler.Router(), &http2.Server{}),
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	driver.Stop()
	obs.Stop()
	cnt.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return nil
}

// logSessionEvent writes one log line per session event.
func logSessionEvent(ev session.Event) {
	switch ev.Type {
	case session.EventStarted:
		zlog.Info().Msgf("Session started: run=%s", ev.RunID)
	case session.EventSliceEnded:
		if ev.Slice != nil {
			zlog.Info().Msgf("Slice %d ended at %s", ev.Slice.Index, ev.Slice.End)
		}
	case session.EventSkipIssued:
		zlog.Info().Msg("Skip issued")
	case session.EventCompleted:
		zlog.Info().Msgf("Session completed: run=%s", ev.RunID)
	case session.EventStopped:
		zlog.Info().Msgf("Session stopped: run=%s", ev.RunID)
	case session.EventTick:
		// Ticks drive UI refreshes; too chatty to log.
	}
}
