// Package main provides the listen-along companion entry point.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/spotalong/spotalong/internal/app/listenalong"
	"github.com/spotalong/spotalong/internal/app/notify"
	"github.com/spotalong/spotalong/internal/app/peerstate"
	"github.com/spotalong/spotalong/internal/domain/status"
	"github.com/spotalong/spotalong/internal/infra/config"
	"github.com/spotalong/spotalong/internal/infra/logger"
	"github.com/spotalong/spotalong/internal/infra/player"
	"github.com/spotalong/spotalong/internal/infra/presence"
)

var (
	app        = kingpin.New("spotalong", "Spotify listen-along companion")
	configPath = app.Flag("config", "Path to config file").Default("config/spotalong.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	listenTo   = app.Flag("listen", "Peer id to start listening along to at startup").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Re-initialize from the config file; flags still win.
	loggerConfig = logger.Config{Output: cfg.Logging.Output, Level: cfg.Logging.Level}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("spotalong error: %v", err)
		os.Exit(1)
	}
}

// run executes the main client logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	peers := peerstate.NewView()
	hub := notify.NewHub()

	playerClient, err := player.New(player.Config{
		ClientID:      cfg.Spotify.ClientID,
		ClientSecret:  cfg.Spotify.ClientSecret,
		RefreshToken:  cfg.Spotify.RefreshToken,
		DeviceName:    cfg.Spotify.DeviceName,
		StatusRefresh: time.Duration(cfg.Sync.StatusRefreshMs) * time.Millisecond,
		Notifier:      hub,
	})
	if err != nil {
		return fmt.Errorf("failed to create player client: %w", err)
	}
	playerClient.Run()
	defer playerClient.Close()

	syncCfg := listenalong.Config{
		Tolerance:         cfg.Tolerance(),
		Cooldown:          cfg.Cooldown(),
		PollInterval:      cfg.PollInterval(),
		AdPollInterval:    cfg.AdPollInterval(),
		BroadcastInterval: cfg.BroadcastInterval(),
	}

	// The channel and the coordinator reference each other; the channel's
	// handler set is built around the coordinator, so create the channel
	// last and hand it to the coordinator through a late-bound variable.
	var coordinator *listenalong.Coordinator
	channel := presence.New(presence.Config{
		URL:            cfg.Server.URL,
		ReconnectDelay: cfg.ReconnectDelay(),
		AuthToken:      os.Getenv("SPOTALONG_AUTH_TOKEN"),
	}, presence.Handlers{
		PeerTrackUpdate: func(peerID string, st status.PlaybackStatus, name string) {
			peers.Set(peerID, st)
			if name != "" {
				peers.SetName(peerID, name)
			}
		},
		FriendRemoved: func(peerID string) {
			peers.Remove(peerID)
		},
		ListeningStarted: func(peerID string) {
			coordinator.HandleListeningStarted(peerID)
		},
		ListeningEnded: func(peerID string) {
			coordinator.HandleListeningEnded(peerID)
		},
		RemoteState: func(st status.PlayerState) {
			coordinator.HandleRemoteState(st)
		},
		QueueAdd: func(uri string) {
			coordinator.HandleQueueAdd(uri)
		},
		RemoteEnd: func(peerID, reason string) {
			coordinator.HandleRemoteEnd(peerID, reason)
		},
		Disconnected: func() {
			coordinator.HandleChannelDown()
		},
	})

	coordinator = listenalong.NewCoordinator(playerClient, peers, channel, hub, listenalong.SystemClock{}, syncCfg)
	defer coordinator.Close()

	channel.Run()
	defer channel.Close()

	// Print notices for anything without a UI attached.
	subID, notices := hub.Subscribe()
	defer hub.Unsubscribe(subID)
	go func() {
		for n := range notices {
			fmt.Println(n.Message)
		}
	}()

	if *listenTo != "" {
		// The peer's status arrives over the channel; give it a moment.
		go func() {
			for i := 0; i < 30; i++ {
				if err := coordinator.Start(*listenTo); err == nil {
					return
				}
				time.Sleep(time.Second)
			}
			zlog.Warn().Str("peer", *listenTo).Msg("peer never appeared, not listening along")
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zlog.Info().Msg("Received shutdown signal...")

	coordinator.Stop()
	zlog.Info().Msg("spotalong stopped")
	return nil
}
