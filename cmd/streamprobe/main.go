// streamprobe connects to the broker market-data stream and prints frames
// to the console. It restores the persisted session or walks the operator
// through the two-step login (the SMS code is read from stdin), so it
// doubles as the tool that mints a session for the gateway daemon.
//
// Usage: streamprobe --config configs/gateway.yaml --channels tick,trade --symbols GARAN,THYAO
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/auth"
	"github.com/intradayhq/algolab-gateway/internal/config"
	"github.com/intradayhq/algolab-gateway/internal/crypto"
	"github.com/intradayhq/algolab-gateway/internal/model"
	"github.com/intradayhq/algolab-gateway/internal/rest"
	"github.com/intradayhq/algolab-gateway/internal/session"
	"github.com/intradayhq/algolab-gateway/internal/stream"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to config file")
	channelsFlag := flag.String("channels", "tick", "comma-separated channels: tick,orderbook,trade")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols; empty subscribes ALL")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}

	channels, err := parseChannels(*channelsFlag)
	if err != nil {
		logger.Error().Err(err).Msg("bad --channels")
		os.Exit(1)
	}
	symbols := parseSymbols(*symbolsFlag)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("received shutdown signal")
		cancel()
	}()

	creds, err := crypto.LoadCredentials(cfg.API.Key, cfg.API.Hostname)
	if err != nil {
		logger.Error().Err(err).Msg("bad api key")
		os.Exit(1)
	}
	tokens := auth.NewTokenHolder()
	restClient := rest.NewClient(cfg.API.URL, creds, tokens,
		rest.WithLogger(logger),
		rest.WithRateLimit(cfg.API.RateLimit),
	)

	store, err := session.NewStore(ctx, cfg.Session, logger)
	if err != nil {
		logger.Error().Err(err).Msg("session store unavailable")
		os.Exit(1)
	}
	defer store.Close()

	svc := auth.NewService(creds, restClient, tokens, store,
		auth.WithLogger(logger),
		auth.WithExpiration(cfg.Session.Expiration()),
	)

	stdin := bufio.NewReader(os.Stdin)
	if svc.Restore(ctx) {
		logger.Info().Msg("session restored")
	} else if err := interactiveLogin(ctx, svc, cfg.Auth, stdin); err != nil {
		logger.Error().Err(err).Msg("login failed")
		os.Exit(1)
	}

	// Frame counters for the stats ticker.
	var ticks, books, trades uint64

	dispatcher := stream.NewDispatcher(stream.Handlers{
		OnTick: func(td model.TickDatum) {
			atomic.AddUint64(&ticks, 1)
			if *verbose {
				data, _ := json.Marshal(td)
				fmt.Printf("[TICK] %s\n", data)
			} else {
				fmt.Printf("[TICK] %s last=%.2f bid=%.2f ask=%.2f vol=%.0f\n",
					td.Symbol, td.LastPrice, td.BidPrice, td.AskPrice, td.Volume)
			}
		},
		OnOrderBook: func(ob model.OrderBookDatum) {
			atomic.AddUint64(&books, 1)
			if *verbose {
				data, _ := json.Marshal(ob)
				fmt.Printf("[BOOK] %s\n", data)
			} else {
				fmt.Printf("[BOOK] %s bids=%d asks=%d spread=%.2f mid=%.2f\n",
					ob.Symbol, len(ob.Bids), len(ob.Asks), ob.Spread(), ob.MidPrice())
			}
		},
		OnTrade: func(tr model.TradeDatum) {
			atomic.AddUint64(&trades, 1)
			if *verbose {
				data, _ := json.Marshal(tr)
				fmt.Printf("[TRADE] %s\n", data)
			} else {
				fmt.Printf("[TRADE] %s side=%s price=%.2f qty=%.0f\n",
					tr.Symbol, tr.Side, tr.Price, tr.Quantity)
			}
		},
	}, logger)

	mgr := stream.NewManager(
		stream.ManagerConfigFrom(cfg.API, cfg.WebSocket),
		creds, tokens, svc,
		stream.WithLogger(logger),
		stream.WithDispatcher(dispatcher),
	)

	if err := mgr.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("stream start failed")
		os.Exit(1)
	}
	if err := mgr.Connect(ctx); err != nil {
		logger.Error().Err(err).Msg("stream connect failed")
		os.Exit(1)
	}
	svc.NoteStreamState(ctx, true)

	for _, ch := range channels {
		if len(symbols) == 0 {
			if err := mgr.SubscribeAll(ch); err != nil {
				logger.Error().Err(err).Str("channel", string(ch)).Msg("subscribe all failed")
			}
			continue
		}
		for _, sym := range symbols {
			if err := mgr.Subscribe(ch, sym); err != nil {
				logger.Error().Err(err).Str("channel", string(ch)).Str("symbol", sym).Msg("subscribe failed")
			}
		}
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info().
					Uint64("ticks", atomic.LoadUint64(&ticks)).
					Uint64("books", atomic.LoadUint64(&books)).
					Uint64("trades", atomic.LoadUint64(&trades)).
					Bool("connected", mgr.IsConnected()).
					Int("subscriptions", len(mgr.Subscriptions())).
					Msg("stream stats")
			}
		}
	}()

	logger.Info().Msg("streaming started - press Ctrl+C to stop")
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// The session stays persisted: the gateway daemon restores it later.
	svc.NoteStreamState(shutdownCtx, false)
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("stream stop failed")
	}
	logger.Info().Msg("shutdown complete")
}

// interactiveLogin walks the two-step login. Username and password come
// from config when set; the SMS code always comes from the terminal.
func interactiveLogin(ctx context.Context, svc *auth.Service, cfg config.AuthConfig, stdin *bufio.Reader) error {
	username := cfg.Username
	password := cfg.Password
	var err error
	if username == "" {
		if username, err = promptLine(stdin, "broker username: "); err != nil {
			return err
		}
	}
	if password == "" {
		if password, err = promptLine(stdin, "broker password: "); err != nil {
			return err
		}
	}

	if err := svc.Login(ctx, username, password); err != nil {
		return err
	}

	code, err := promptLine(stdin, "SMS code: ")
	if err != nil {
		return err
	}
	return svc.VerifyOTP(ctx, code)
}

func promptLine(stdin *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := stdin.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func parseChannels(raw string) ([]model.Channel, error) {
	var out []model.Channel
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ch, err := model.ParseChannel(part)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no channels given")
	}
	return out, nil
}

func parseSymbols(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
