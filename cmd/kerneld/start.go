// Copyright 2025 Certen Protocol

package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	dbm "github.com/cometbft/cometbft-db"
	abciserver "github.com/cometbft/cometbft/abci/server"
	"github.com/spf13/cobra"

	"github.com/certen/kernel/pkg/broker"
	"github.com/certen/kernel/pkg/config"
	"github.com/certen/kernel/pkg/dispatch"
	"github.com/certen/kernel/pkg/host"
	"github.com/certen/kernel/pkg/indexer"
	"github.com/certen/kernel/pkg/metrics"
	"github.com/certen/kernel/pkg/state"
	"github.com/certen/kernel/pkg/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the kernel as an ABCI 2.0 application, listening for a CometBFT node",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flagConfigFile != "" {
		cfg, err = config.LoadFile(flagConfigFile, cfg)
		if err != nil {
			return err
		}
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogJSON {
		cfg.LogJSON = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel, cfg.LogJSON)

	if err := os.MkdirAll(cfg.StoreDataDir, 0o755); err != nil {
		return err
	}
	db, err := dbm.NewGoLevelDB("kernel", cfg.StoreDataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	kv := store.NewDBAdapter(db)
	s, err := store.NewJMTStore(kv)
	if err != nil {
		return err
	}
	engine := state.NewEngine(s)
	b := broker.NewBroker()

	health := newHealthStatus()
	health.setStore(true)

	hostCfg := host.DefaultConfig()
	hostCfg.MaxMemoryPages = cfg.HostMaxMemoryPages
	hostCfg.CacheMaxEntries = cfg.HostCacheMaxEntries
	componentHost, err := host.New(hostCfg)
	if err != nil {
		return err
	}
	health.setHost(true)

	var idx dispatch.Indexer
	if cfg.DatabaseURL != "" {
		pgIdx, err := indexer.Open(indexer.Config{
			URL:             cfg.DatabaseURL,
			MaxOpenConns:    cfg.DatabaseMaxOpenConns,
			MaxIdleConns:    cfg.DatabaseMaxIdleConns,
			ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
		})
		if err != nil {
			if cfg.DatabaseRequired {
				return err
			}
			log.Warn().Err(err).Msg("secondary index unavailable, continuing without it")
			health.setIndexer("disconnected")
		} else {
			defer pgIdx.Close()
			idx = pgIdx
			health.setIndexer("connected")
		}
	}

	var met dispatch.Metrics
	if cfg.MetricsEnabled {
		m := metrics.New()
		met = m
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !health.isOK() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write(health.toJSON())
	})
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", metrics.Handler())
	}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("health/metrics listener starting")
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Error().Err(err).Msg("health/metrics listener stopped")
		}
	}()

	app := dispatch.NewApp(s, engine, b, componentHost, cfg.ChainID, idx, met, log)

	srv, err := abciserver.NewServer(cfg.ABCIListenAddr, "socket", app)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	log.Info().Str("addr", cfg.ABCIListenAddr).Str("chain_id", cfg.ChainID).Msg("kerneld listening for ABCI connections")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")
	return nil
}
