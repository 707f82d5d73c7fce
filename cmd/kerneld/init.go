// Copyright 2025 Certen Protocol

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/spf13/cobra"

	"github.com/certen/kernel/pkg/config"
	"github.com/certen/kernel/pkg/dispatch"
)

var (
	initAnteHandlerPath  string
	initTxDecoderPath    string
	initBeginBlockerPath string
	initEndBlockerPath   string
	initAnteManifest     []string
	initOutputPath       string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a CometBFT genesis file carrying the kernel's initial system components",
	Long: `init reads the four required component images (ante-handler, tx-decoder,
begin-blocker, end-blocker) from disk, embeds them as the app_state of a
CometBFT genesis document, and writes the result to --out.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initAnteHandlerPath, "ante-handler", "", "Path to the ante-handler component image (required)")
	initCmd.Flags().StringVar(&initTxDecoderPath, "tx-decoder", "", "Path to the tx-decoder component image (required)")
	initCmd.Flags().StringVar(&initBeginBlockerPath, "begin-blocker", "", "Path to the begin-blocker component image (required)")
	initCmd.Flags().StringVar(&initEndBlockerPath, "end-blocker", "", "Path to the end-blocker component image (required)")
	initCmd.Flags().StringSliceVar(&initAnteManifest, "ante-manifest", nil, "Module names whose /home/{module} subtree the ante-handler may read, beyond /sys and /tmp")
	initCmd.Flags().StringVar(&initOutputPath, "out", "./genesis.json", "Output path for the genesis document")

	for _, name := range []string{"ante-handler", "tx-decoder", "begin-blocker", "end-blocker"} {
		initCmd.MarkFlagRequired(name)
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagConfigFile != "" {
		cfg, err = config.LoadFile(flagConfigFile, cfg)
		if err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
	}

	ante, err := os.ReadFile(initAnteHandlerPath)
	if err != nil {
		return fmt.Errorf("read ante-handler image: %w", err)
	}
	decoder, err := os.ReadFile(initTxDecoderPath)
	if err != nil {
		return fmt.Errorf("read tx-decoder image: %w", err)
	}
	begin, err := os.ReadFile(initBeginBlockerPath)
	if err != nil {
		return fmt.Errorf("read begin-blocker image: %w", err)
	}
	end, err := os.ReadFile(initEndBlockerPath)
	if err != nil {
		return fmt.Errorf("read end-blocker image: %w", err)
	}

	bundle := dispatch.GenesisBundle{
		AnteHandler:  ante,
		TxDecoder:    decoder,
		BeginBlocker: begin,
		EndBlocker:   end,
		AnteManifest: initAnteManifest,
	}
	appState, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal genesis bundle: %w", err)
	}

	doc := cmttypes.GenesisDoc{
		GenesisTime:     time.Now(),
		ChainID:         cfg.ChainID,
		InitialHeight:   1,
		ConsensusParams: cmttypes.DefaultConsensusParams(),
		AppState:        appState,
	}
	if err := doc.ValidateAndComplete(); err != nil {
		return fmt.Errorf("validate genesis doc: %w", err)
	}

	if dir := filepath.Dir(initOutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := doc.SaveAs(initOutputPath); err != nil {
		return fmt.Errorf("write genesis file: %w", err)
	}

	fmt.Printf("wrote genesis document to %s (chain_id=%s)\n", initOutputPath, cfg.ChainID)
	return nil
}
