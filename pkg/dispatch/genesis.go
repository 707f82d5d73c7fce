// Copyright 2025 Certen Protocol

package dispatch

import "encoding/json"

// GenesisBundle is the shape `kerneld init` writes into app_state: the
// initial component images for the four reserved /sbin paths plus the
// ante-handler's declared read manifest (spec §4.F InitChain: "writes
// the initial system components... supplied in genesis").
type GenesisBundle struct {
	AnteHandler  []byte   `json:"ante_handler"`
	TxDecoder    []byte   `json:"tx_decoder"`
	BeginBlocker []byte   `json:"begin_blocker"`
	EndBlocker   []byte   `json:"end_blocker"`
	AnteManifest []string `json:"ante_manifest"`
}

func parseGenesisBundle(appStateBytes []byte) (*GenesisBundle, error) {
	var b GenesisBundle
	if err := json.Unmarshal(appStateBytes, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
