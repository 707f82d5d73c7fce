// Copyright 2025 Certen Protocol

package main

import (
	"encoding/json"
	"fmt"

	rpcclient "github.com/cometbft/cometbft/rpc/client"
	cmthttp "github.com/cometbft/cometbft/rpc/client/http"
	"github.com/spf13/cobra"
)

var (
	queryRPCAddr string
	queryData    string
	queryHeight  int64
	queryProve   bool
)

var queryCmd = &cobra.Command{
	Use:   "query [path]",
	Short: "Query kernel state through a CometBFT node's RPC endpoint",
	Long: `query issues an ABCI query against /state/* or /app/* paths, the two
roots Kernel Dispatch's Query handler serves, through the RPC endpoint of a
CometBFT node connected to this kernel.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryRPCAddr, "rpc-addr", "http://127.0.0.1:26657", "CometBFT RPC endpoint")
	queryCmd.Flags().StringVar(&queryData, "data", "", "Raw query data, if the path needs any")
	queryCmd.Flags().Int64Var(&queryHeight, "height", 0, "Query a past height (0 = latest)")
	queryCmd.Flags().BoolVar(&queryProve, "prove", false, "Request a Merkle proof alongside the value")
}

func runQuery(cmd *cobra.Command, args []string) error {
	path := args[0]
	client, err := cmthttp.New(queryRPCAddr, "/websocket")
	if err != nil {
		return fmt.Errorf("connect to %s: %w", queryRPCAddr, err)
	}
	if err := client.Start(); err != nil {
		return fmt.Errorf("start rpc client: %w", err)
	}
	defer client.Stop()

	resp, err := client.ABCIQueryWithOptions(cmd.Context(), path, []byte(queryData), rpcclient.ABCIQueryOptions{
		Height: queryHeight,
		Prove:  queryProve,
	})
	if err != nil {
		return fmt.Errorf("abci query: %w", err)
	}

	out := map[string]interface{}{
		"code":  resp.Response.Code,
		"log":   resp.Response.Log,
		"key":   string(resp.Response.Key),
		"value": string(resp.Response.Value),
	}
	if queryProve && resp.Response.ProofOps != nil {
		out["proof_ops"] = len(resp.Response.ProofOps.Ops)
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
