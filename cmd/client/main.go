package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cenkalti/backoff"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"notepad-sync/internal/client/api"
	"notepad-sync/internal/client/channel"
	"notepad-sync/internal/client/layout"
	"notepad-sync/internal/client/session"
	"notepad-sync/internal/client/storage/boltdb"
	"notepad-sync/internal/client/tui"
	"notepad-sync/internal/config"
	"notepad-sync/internal/domain"
	"notepad-sync/pkg/jwt"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	showVersion := flag.Bool("version", false, "Show version information")
	flag.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server URL")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "Bearer token issued by the auth service")
	flag.StringVar(&cfg.NoteID, "note", cfg.NoteID, "Shared note to open")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to local database")
	flag.StringVar(&cfg.LogFile, "log", cfg.LogFile, "Path to log file")
	flag.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "Delay between reconnect attempts")
	flag.DurationVar(&cfg.Liveness, "liveness", cfg.Liveness, "Silence after which the connection is treated as dead (0 disables)")
	flag.IntVar(&cfg.MaxReconnectAttempts, "reconnect-attempts", cfg.MaxReconnectAttempts, "Reconnect attempts before giving up (0 retries forever)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Notepad Sync Client\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Build Date: %s\n", BuildDate)
		os.Exit(0)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.ClientConfig) error {
	if cfg.Token == "" {
		return fmt.Errorf("a token is required (-token or NOTEPAD_TOKEN)")
	}

	claims, err := jwt.ParseUnverified(cfg.Token)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	identity := domain.Identity{UserID: claims.UserID, Username: claims.Username}
	if identity.Username == "" {
		identity.Username = identity.UserID
	}

	// the terminal belongs to the editor, so logs go to a file
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boltStorage, err := boltdb.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := boltStorage.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	wsURL, err := channelURL(cfg.ServerURL)
	if err != nil {
		return err
	}

	s := session.New(session.Config{
		ServerURL:   wsURL,
		NoteID:      cfg.NoteID,
		Token:       cfg.Token,
		Identity:    identity,
		Viewport:    terminalViewport(),
		TypingIdle:  cfg.TypingIdle,
		PresenceTTL: cfg.PresenceTTL,
	}, api.NewClient(cfg.ServerURL), boltStorage, logger, reconnectOption(cfg), channel.WithLiveness(cfg.Liveness))

	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()

	logger.Info("Editor started", "note", cfg.NoteID, "user", identity.UserID, "server", cfg.ServerURL)

	program := tea.NewProgram(tui.New(ctx, s), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

// channelURL maps the REST base URL to the websocket endpoint.
func channelURL(serverURL string) (string, error) {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + "/ws", nil
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + "/ws", nil
	}
	return "", fmt.Errorf("server URL must start with http:// or https://: %q", serverURL)
}

func reconnectOption(cfg *config.ClientConfig) channel.Option {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = channel.DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts > 0 {
		return channel.WithMaxAttempts(delay, uint64(cfg.MaxReconnectAttempts))
	}
	return channel.WithReconnectPolicy(func() backoff.BackOff {
		return backoff.NewConstantBackOff(delay)
	})
}

func terminalViewport() layout.Viewport {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 || height <= 2 {
		return layout.Viewport{Width: 80, Height: 22}
	}
	// two header lines sit above the window area
	return layout.Viewport{Width: width, Height: height - 2}
}
