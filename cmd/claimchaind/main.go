package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"claimchain/config"
	"claimchain/crypto"
	"claimchain/native/gov"
	"claimchain/observability"
	"claimchain/observability/logging"
	"claimchain/protocol"
	"claimchain/rpc"
	"claimchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	memDB := flag.Bool("memdb", false, "DEV ONLY: use an in-memory database instead of LevelDB")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{
		Service:    "claimchaind",
		Env:        cfg.Env,
		File:       cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 28,
	})

	var db storage.Database
	if *memDB {
		db = storage.NewMemDB()
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			logger.Error("creating data dir", slog.String("error", err.Error()))
			os.Exit(1)
		}
		ldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			logger.Error("opening ledger database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		db = ldb
	}
	defer db.Close()

	emitter := observability.NewEventEmitter(logger)
	node := protocol.New(db, cfg.ChainID, emitter)

	if err := seedGenesis(node, cfg, logger); err != nil {
		logger.Error("seeding genesis", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var idem *rpc.IdempotencyStore
	if !*memDB {
		idem, err = rpc.NewIdempotencyStore(filepath.Join(cfg.DataDir, "idempotency.db"), 24*time.Hour)
		if err != nil {
			logger.Error("opening idempotency store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer idem.Close()
	}

	server := rpc.NewServer(node, logger, idem)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting rpc server",
		slog.String("addr", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName),
		slog.Uint64("chainId", cfg.ChainID),
	)
	if err := server.Run(ctx, cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// seedGenesis initialises governance on a fresh database. An already seeded
// database is left untouched.
func seedGenesis(node *protocol.Protocol, cfg *config.Config, logger *slog.Logger) error {
	if _, err := node.Owner(); err == nil {
		return nil
	}
	gen := cfg.Genesis
	if gen.Owner == "" || gen.Treasury == "" || gen.FallbackProvider == "" {
		return fmt.Errorf("genesis requires Owner, Treasury and FallbackProvider addresses")
	}
	owner, err := crypto.DecodeAddress(gen.Owner)
	if err != nil {
		return fmt.Errorf("genesis owner: %w", err)
	}
	treasury, err := crypto.DecodeAddress(gen.Treasury)
	if err != nil {
		return fmt.Errorf("genesis treasury: %w", err)
	}
	fallbackProvider, err := crypto.DecodeAddress(gen.FallbackProvider)
	if err != nil {
		return fmt.Errorf("genesis fallback provider: %w", err)
	}
	protocolRate, ok := new(big.Int).SetString(gen.ProtocolFeeRate, 10)
	if !ok {
		return fmt.Errorf("invalid ProtocolFeeRate %q", gen.ProtocolFeeRate)
	}
	settlementRate, ok := new(big.Int).SetString(gen.SettlementFeeRate, 10)
	if !ok {
		return fmt.Errorf("invalid SettlementFeeRate %q", gen.SettlementFeeRate)
	}
	fees := gov.Fees{ProtocolRate: protocolRate, SettlementRate: settlementRate}
	periods := gov.Periods{
		Submission:         gen.SubmissionPeriod,
		Challenge:          gen.ChallengePeriod,
		Review:             gen.ReviewPeriod,
		FallbackSubmission: gen.FallbackPeriod,
	}
	if err := node.InitGenesis(owner.Raw(), treasury.Raw(), fallbackProvider.Raw(), fees, periods); err != nil {
		return err
	}
	logger.Info("governance ledger seeded",
		slog.String("owner", gen.Owner),
		slog.String("treasury", gen.Treasury),
		slog.String("fallbackProvider", gen.FallbackProvider),
	)
	return nil
}
