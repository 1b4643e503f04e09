package main

import (
	"log"

	"github.com/ethereum/go-ethereum/common"

	"github.com/morrowlabs/royaltylock/params"
	"github.com/morrowlabs/royaltylock/pkg/api"
	"github.com/morrowlabs/royaltylock/pkg/assets"
	"github.com/morrowlabs/royaltylock/pkg/crypto"
	"github.com/morrowlabs/royaltylock/pkg/engine"
	"github.com/morrowlabs/royaltylock/pkg/escrow"
	"github.com/morrowlabs/royaltylock/pkg/events"
	"github.com/morrowlabs/royaltylock/pkg/oracle"
	"github.com/morrowlabs/royaltylock/pkg/registry"
	"github.com/morrowlabs/royaltylock/pkg/royalty"
	"github.com/morrowlabs/royaltylock/pkg/storage"
	"github.com/morrowlabs/royaltylock/pkg/util"
)

func main() {
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	store, err := storage.NewStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("open_store_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	// ---- audit event pipeline ----
	bus := events.NewBroadcaster(sugar)
	hub := api.NewHub(sugar)
	bus.Attach(hub)
	if cfg.Node.KafkaBrokers != "" {
		sink := events.NewKafkaSink(cfg.Node.KafkaBrokers, "royaltylock.audit")
		defer sink.Close()
		bus.Attach(sink)
		sugar.Infow("kafka_sink_attached", "brokers", cfg.Node.KafkaBrokers)
	}

	// ---- ledgers and collaborators ----
	funds := assets.NewFundsLedger()
	unique := assets.NewUniqueLedger()
	fungible := assets.NewFungibleLedger()
	splitter := royalty.NewStaticRegistry()
	flags := registry.NewFlagRegistry(cfg.Engine.Address)

	vaults := escrow.NewManager(escrow.ManagerDeps{
		Splitter:   splitter,
		Funds:      funds,
		Unique:     unique,
		Fungible:   fungible,
		EngineAddr: cfg.Engine.Address,
		MinDiffBps: cfg.Engine.MinDiffBps,
		Store:      store,
		Events:     bus,
		Log:        sugar,
	})

	counters := engine.NewCounterRegistry()
	fills := engine.NewFillLedger()

	// ---- recover persisted state ----
	if err := store.ForEachOrderStatus(func(hash common.Hash, st engine.OrderStatus) error {
		fills.Restore(hash, st)
		return nil
	}); err != nil {
		sugar.Fatalw("restore_statuses_failed", "err", err)
	}
	if err := store.ForEachCounter(func(maker common.Address, counter uint64) error {
		counters.Restore(maker, counter)
		return nil
	}); err != nil {
		sugar.Fatalw("restore_counters_failed", "err", err)
	}
	if err := store.ForEachLock(func(owner common.Address, key assets.ItemKey, lock escrow.Lock) error {
		vaults.RestoreLock(owner, key, lock)
		return nil
	}); err != nil {
		sugar.Fatalw("restore_locks_failed", "err", err)
	}

	eng := engine.New(engine.Deps{
		Domain: crypto.EIP712Domain{
			Name:              "RoyaltyLock",
			Version:           "1",
			ChainID:           cfg.Engine.ChainID,
			VerifyingContract: cfg.Engine.Address,
		},
		Counters: counters,
		Fills:    fills,
		Splitter: splitter,
		Vaults:   vaults,
		Funds:    funds,
		Unique:   unique,
		Fungible: fungible,
		Flags:    flags,
		Self:     cfg.Engine.Address,
		Clock:    util.RealClock{},
		Store:    store,
		Events:   bus,
		Log:      sugar,
	})

	var priceOracle *oracle.Verifier
	if cfg.Engine.OracleAddress != (common.Address{}) {
		priceOracle = oracle.NewVerifier(cfg.Engine.OracleAddress, util.RealClock{})
		sugar.Infow("price_oracle_enabled", "oracle", cfg.Engine.OracleAddress.Hex())
	}

	server := api.NewServer(eng, vaults, priceOracle, hub, sugar)
	sugar.Infow("node_started",
		"chain_id", cfg.Engine.ChainID.String(),
		"engine", cfg.Engine.Address.Hex(),
		"min_diff_bps", cfg.Engine.MinDiffBps,
	)
	if err := server.Start(cfg.Node.APIAddr); err != nil {
		sugar.Fatalw("api_server_failed", "err", err)
	}
}
