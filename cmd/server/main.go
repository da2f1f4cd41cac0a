// Package main runs the launch guard: it watches armed token mints for
// sniper-sized buys and liquidates the configured wallets when one lands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"launch-guard/internal/bundle"
	"launch-guard/internal/classify"
	"launch-guard/internal/control"
	"launch-guard/internal/engine"
	"launch-guard/internal/feed"
	"launch-guard/internal/liquidate"
	"launch-guard/internal/observability"
	"launch-guard/internal/pricing"
	"launch-guard/internal/secrets"
	"launch-guard/internal/solana"
	"launch-guard/internal/storage"
	chstore "launch-guard/internal/storage/clickhouse"
	"launch-guard/internal/storage/memory"
	"launch-guard/internal/storage/migrations"
	pgstore "launch-guard/internal/storage/postgres"
)

const defaultJupiterURL = "https://quote-api.jup.ag/v6"

type config struct {
	rpcEndpoint   string
	wsEndpoint    string
	postgresDSN   string
	clickhouseDSN string
	useMemory     bool
	jupiterURL    string
	relayURL      string
	listenAddr    string
	baseTip       uint64
	debug         bool
}

func main() {
	// .env is optional; system environment wins.
	_ = godotenv.Load()

	var cfg config
	flag.StringVar(&cfg.rpcEndpoint, "rpc-endpoint", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana RPC HTTP endpoint")
	flag.StringVar(&cfg.wsEndpoint, "ws-endpoint", os.Getenv("SOLANA_WS_ENDPOINT"), "Solana WebSocket endpoint")
	flag.StringVar(&cfg.postgresDSN, "postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	flag.StringVar(&cfg.clickhouseDSN, "clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	flag.BoolVar(&cfg.useMemory, "use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	flag.StringVar(&cfg.jupiterURL, "jupiter-url", envOr("JUPITER_API_URL", defaultJupiterURL), "Jupiter quote/swap API base URL")
	flag.StringVar(&cfg.relayURL, "relay-url", os.Getenv("BUNDLE_RELAY_URL"), "Bundle relay endpoint (empty disables atomic bundles)")
	flag.StringVar(&cfg.listenAddr, "listen", ":8080", "Control API and metrics HTTP address")
	flag.Uint64Var(&cfg.baseTip, "base-tip", bundle.DefaultBaseTip, "Relay base tip in lamports")
	flag.BoolVar(&cfg.debug, "debug", false, "Verbose development logging")
	flag.Parse()

	log := newLogger(cfg.debug)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config, log *zap.Logger) error {
	if cfg.rpcEndpoint == "" {
		return errors.New("--rpc-endpoint is required")
	}
	if cfg.wsEndpoint == "" {
		return errors.New("--ws-endpoint is required")
	}
	if !cfg.useMemory && (cfg.postgresDSN == "" || cfg.clickhouseDSN == "") {
		return errors.New("--postgres-dsn and --clickhouse-dsn are required (or --use-memory)")
	}

	walletKeys := splitList(os.Getenv("WALLET_KEYS"))
	if len(walletKeys) == 0 {
		return errors.New("WALLET_KEYS must hold at least one base58 private key")
	}
	provider, err := secrets.NewStaticProviderFromBase58(walletKeys)
	if err != nil {
		return fmt.Errorf("load wallet keys: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, outcomes, archive, cleanup, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	rpc := solana.NewHTTPClient(cfg.rpcEndpoint)
	sub := feed.NewSubscriber(feed.DefaultConfig(cfg.wsEndpoint), log)
	classifier := classify.New(rpc, log)
	priceClient := pricing.NewHTTPClient(cfg.jupiterURL)

	var relay bundle.Relay
	if cfg.relayURL != "" {
		relay = bundle.NewHTTPRelay(cfg.relayURL)
		log.Info("atomic bundle relay enabled", zap.String("endpoint", cfg.relayURL))
	} else {
		log.Info("no bundle relay configured, sells submit sequentially")
	}

	executor := bundle.NewExecutor(log, rpc, relay, bundle.WithBaseTip(cfg.baseTip))
	liquidator := liquidate.NewOrchestrator(log, rpc, priceClient, provider, executor, outcomes)

	eng := engine.New(log, rpc, sub, classifier, sessions, archive, liquidator, nil)
	if err := eng.Recover(ctx); err != nil {
		return fmt.Errorf("recover persisted sessions: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	control.NewHandler(log, eng).Register(mux)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		log.Info("control API listening", zap.String("addr", cfg.listenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	// A second signal forces exit without waiting for graceful teardown.
	go func() {
		<-ctx.Done()
		stop()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			log.Warn("second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(time.Minute):
			log.Warn("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-httpErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := eng.Close(shutdownCtx); err != nil {
		log.Warn("engine shutdown", zap.Error(err))
	}

	log.Info("shutdown complete")
	return nil
}

// openStores builds the persistence layer: PostgreSQL for the session mirror
// and outcome audit, ClickHouse for the trade event archive, or all in-memory.
func openStores(ctx context.Context, cfg config, log *zap.Logger) (storage.SessionStore, storage.OutcomeStore, storage.TradeEventArchive, func(), error) {
	if cfg.useMemory {
		log.Warn("in-memory storage selected, sessions will not survive a restart")
		return memory.NewSessionStore(), memory.NewOutcomeStore(), memory.NewTradeEventArchive(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, nil, fmt.Errorf("apply postgres migrations: %w", err)
	}

	chConn, err := chstore.Setup(ctx, cfg.clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, fmt.Errorf("set up clickhouse: %w", err)
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return pgstore.NewSessionStore(pool), pgstore.NewOutcomeStore(pool), chstore.NewTradeEventStore(chConn), cleanup, nil
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		log, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return log
	}
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return log
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
