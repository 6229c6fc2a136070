// sessiontool runs one-shot maintenance against the session store.
//
//	sessiontool --config configs/gateway.yaml show    print the persisted session
//	sessiontool --config configs/gateway.yaml expire  deactivate sessions past expiry
//	sessiontool --config configs/gateway.yaml purge   delete inactive sessions past retention
//
// The token and hash are never printed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/config"
	"github.com/intradayhq/algolab-gateway/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to config file")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		fmt.Fprintln(os.Stderr, "usage: sessiontool [--config path] show|expire|purge")
		os.Exit(2)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := session.NewStore(ctx, cfg.Session, logger)
	if err != nil {
		logger.Error().Err(err).Msg("session store unavailable")
		os.Exit(1)
	}
	defer store.Close()

	if err := run(ctx, cmd, store, cfg, logger); err != nil {
		logger.Error().Err(err).Str("command", cmd).Msg("command failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, store session.Store, cfg *config.GatewayConfig, logger zerolog.Logger) error {
	janitor := session.NewJanitor(store, cfg.Session, logger)

	switch cmd {
	case "show":
		return show(ctx, store)
	case "expire":
		n, err := janitor.RunExpiry(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("deactivated %d expired session(s)\n", n)
		return nil
	case "purge":
		n, err := janitor.RunPurge(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d inactive session(s)\n", n)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func show(ctx context.Context, store session.Store) error {
	s, err := store.Load(ctx)
	if errors.Is(err, session.ErrNoSession) {
		fmt.Println("no active session")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("id:            %s\n", s.ID)
	fmt.Printf("created:       %s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Printf("expires:       %s\n", s.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("last refresh:  %s\n", formatTime(s.LastRefreshAt))
	fmt.Printf("ws connected:  %t\n", s.WebSocketConnected)
	fmt.Printf("ws last conn:  %s\n", formatTime(s.WebSocketLastConnAt))
	fmt.Printf("active:        %t\n", s.Active)
	if s.TerminationReason != "" {
		fmt.Printf("terminated:    %s\n", s.TerminationReason)
	}
	remaining := time.Until(s.ExpiresAt).Round(time.Second)
	if remaining > 0 {
		fmt.Printf("remaining:     %s\n", remaining)
	} else {
		fmt.Printf("remaining:     expired %s ago\n", -remaining)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
