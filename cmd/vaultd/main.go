package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crossvault/bridge"
	"crossvault/config"
	"crossvault/native/accountant"
	"crossvault/native/common"
	"crossvault/native/pool"
	"crossvault/native/rebase"
	"crossvault/native/supply"
	"crossvault/observability/logging"
	"crossvault/observability/metrics"
	"crossvault/storage"
)

const inboundBodyLimit = 1 << 20

func main() {
	configFile := flag.String("config", "./vault.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	logger := logging.Setup("vaultd", cfg.Environment)
	logging.RedactAmounts(strings.EqualFold(cfg.Environment, "prod"))

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	vaultMetrics := metrics.Vault()
	pauses := common.NewPauseSet()

	sender, err := buildSender(cfg, logger, vaultMetrics)
	if err != nil {
		logger.Error("Failed to build bridge sender", slog.Any("error", err))
		os.Exit(1)
	}
	defer sender.Close()

	acctAddr, err := cfg.Accountant()
	if err != nil {
		logger.Error("Failed to parse accountant address", slog.Any("error", err))
		os.Exit(1)
	}
	acct, err := accountant.NewAccountant(acctAddr, sender, logger, vaultMetrics)
	if err != nil {
		logger.Error("Failed to build accountant", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Bridge.UseRelay {
		relay, relayErr := bridge.NewRelaySender(bridge.NewHTTPRelayClient(cfg.Bridge.RelayURL), logger, vaultMetrics)
		if relayErr != nil {
			logger.Error("Failed to build relay sender", slog.Any("error", relayErr))
			os.Exit(1)
		}
		if err := acct.EnableRelay(relay); err != nil {
			logger.Error("Failed to enable relay path", slog.Any("error", err))
			os.Exit(1)
		}
	}
	if err := acct.SetOracleAutoPush(cfg.Bridge.OracleAutoPush); err != nil {
		logger.Error("Failed to configure oracle auto-push", slog.Any("error", err))
		os.Exit(1)
	}

	switch cfg.Role {
	case config.RoleCustody:
		err = wireCustody(cfg, db, acct, pauses, vaultMetrics, logger)
	case config.RoleRetail:
		err = wireRetail(cfg, acct, pauses, logger)
	}
	if err != nil {
		logger.Error("Failed to wire engines", slog.Any("error", err))
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Post("/bridge/inbound", func(w http.ResponseWriter, r *http.Request) {
		raw, readErr := io.ReadAll(io.LimitReader(r.Body, inboundBodyLimit))
		if readErr != nil {
			http.Error(w, readErr.Error(), http.StatusBadRequest)
			return
		}
		if handleErr := acct.HandleMessage(raw); handleErr != nil {
			logger.Error("Inbound message rejected", slog.Any("error", handleErr))
			http.Error(w, handleErr.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("vaultd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("role", cfg.Role))
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("HTTP server failed", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", slog.Any("error", err))
	}
}

func buildSender(cfg *config.Config, logger *slog.Logger, m *metrics.VaultMetrics) (bridge.Sender, error) {
	endpoint := bridge.NewHTTPEndpoint(cfg.Bridge.PeerURL)
	return bridge.NewBridgeSender(endpoint, logger, m)
}

// wireCustody assembles the custody side: the asset pool, the supply manager,
// and the accountant acting as the registered settlement agent.
func wireCustody(cfg *config.Config, db storage.Database, acct *accountant.Accountant, pauses *common.PauseSet, m *metrics.VaultMetrics, logger *slog.Logger) error {
	poolToken, err := cfg.PoolToken()
	if err != nil {
		return err
	}
	custodyFunds, err := cfg.CustodyFunds()
	if err != nil {
		return err
	}
	initialSupply, err := cfg.InitialSupply()
	if err != nil {
		return err
	}

	backend := newDevBackend(acct.Self())
	opening := new(big.Int).Lsh(big.NewInt(1), 96)
	backend.provision(poolToken, 18, custodyFunds, opening)

	assetPool := pool.NewPool(acct.Self(), backend)
	assetPool.SetPauses(pauses)
	assetPool.SetMetrics(m)

	manager, err := supply.NewManager(acct.Self(), big.NewInt(cfg.ChainID), db, initialSupply, cfg.Supply.ApyFormatter)
	if err != nil {
		return err
	}
	manager.SetPool(assetPool)
	manager.SetPauses(pauses)
	manager.SetMetrics(m)
	assetPool.SetSupplyLedger(manager)
	assetPool.SetAgent(acct.Self(), true)

	if _, err := assetPool.RegisterToken(poolToken); err != nil {
		return err
	}
	if err := manager.RegisterAgent(acct.Self(), poolToken, acct); err != nil {
		return err
	}
	acct.BindCustody(manager, poolToken, custodyFunds)
	logger.Info("custody engines wired", slog.Uint64("apy_formatter", cfg.Supply.ApyFormatter))
	return nil
}

// wireRetail assembles the retail side: the oracle mirror, the rebase token,
// and the payout float.
func wireRetail(cfg *config.Config, acct *accountant.Accountant, pauses *common.PauseSet, logger *slog.Logger) error {
	poolToken, err := cfg.PoolToken()
	if err != nil {
		return err
	}
	minDeposit, err := cfg.MinDeposit()
	if err != nil {
		return err
	}
	minRedeem, err := cfg.MinRedeem()
	if err != nil {
		return err
	}

	oracle := accountant.NewOracle()
	token := rebase.NewToken(acct.Self(), big.NewInt(cfg.ChainID), oracle)
	token.SetAccountant(acct.Self(), acct)
	token.SetMinimums(minDeposit, minRedeem)
	token.SetPauses(pauses)

	backend := newDevBackend(acct.Self())
	opening := new(big.Int).Lsh(big.NewInt(1), 96)
	backend.provision(poolToken, 18, acct.Self(), opening)

	acct.BindRetail(token, oracle, &devPayout{backend: backend, token: poolToken})
	logger.Info("retail engines wired")
	return nil
}
