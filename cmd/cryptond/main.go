package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"crypton/config"
	"crypton/core/state"
	"crypton/crypto"
	"crypton/native/market"
	"crypton/native/oracle"
	"crypton/native/token"
	"crypton/observability/logging"
	"crypton/rpc"
	"crypton/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	useMemDB := flag.Bool("memdb", false, "DEV ONLY: run against an in-memory database")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CRYPTON_ENV"))
	logger := logging.Setup("cryptond", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "path", *configFile, "error", err)
		os.Exit(1)
	}

	adminKey, err := cfg.AdminKey()
	if err != nil {
		logger.Error("failed to load admin keystore", "path", cfg.AdminKeystorePath, "error", err)
		os.Exit(1)
	}
	admin := adminKey.PubKey().Address()
	logger.Info("admin identity loaded", "address", admin.String())

	var db storage.Database
	if *useMemDB {
		db = storage.NewMemDB()
	} else {
		db, err = storage.NewLevelDB(filepath.Join(cfg.DataDir, "market"))
		if err != nil {
			logger.Error("failed to open database", "dir", cfg.DataDir, "error", err)
			os.Exit(1)
		}
	}
	defer db.Close()

	manager := state.NewManager(db)

	ledger := token.NewLedger(manager)
	for _, tok := range cfg.Tokens {
		if err := ledger.Register(token.Metadata{Symbol: tok.Symbol, Name: tok.Name, Decimals: tok.Decimals}); err != nil {
			logger.Error("failed to register token", "symbol", tok.Symbol, "error", err)
			os.Exit(1)
		}
	}

	engine := market.NewEngine(admin.Array())
	engine.SetState(manager)
	engine.SetLedger(ledger)
	if err := engine.InitParams(cfg.FeePercent, cfg.PricingToken); err != nil {
		logger.Error("failed to initialise market parameters", "error", err)
		os.Exit(1)
	}
	for _, raw := range cfg.Signers {
		signer, err := crypto.DecodeAddress(strings.TrimSpace(raw))
		if err != nil {
			logger.Error("invalid signer address", "address", raw, "error", err)
			os.Exit(1)
		}
		if err := engine.GrantSigner(admin.Array(), signer.Array()); err != nil {
			logger.Error("failed to grant signer", "address", raw, "error", err)
			os.Exit(1)
		}
	}

	router, err := buildRouter(cfg)
	if err != nil {
		logger.Error("failed to configure router", "error", err)
		os.Exit(1)
	}
	adapter := oracle.NewAdapter(router, engine)
	engine.SetOracle(adapter)

	server := rpc.NewServer(engine, ledger, adapter, admin.Array(), logger)
	engine.SetEmitter(server)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPCAddress)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("rpc server stopped", "error", err)
			os.Exit(1)
		}
	}
}

func buildRouter(cfg *config.Config) (oracle.Router, error) {
	switch cfg.Router.Mode {
	case config.RouterModeHTTP:
		return oracle.NewHTTPRouter(cfg.Router.Endpoint)
	case config.RouterModeStatic:
		router := oracle.NewStaticRouter()
		for _, rate := range cfg.Router.Rates {
			if err := router.SetRate(rate.From, rate.To, rate.Num, rate.Den); err != nil {
				return nil, err
			}
		}
		return router, nil
	default:
		return nil, fmt.Errorf("unknown router mode %q", cfg.Router.Mode)
	}
}
