// Copyright 2025 Certen Protocol
//
// Component loading and invocation glue between the Kernel Dispatch and
// the Component Host (D), per spec §4.D/§4.F.

package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/certen/kernel/pkg/broker"
	"github.com/certen/kernel/pkg/canon"
	"github.com/certen/kernel/pkg/host"
	"github.com/certen/kernel/pkg/state"
	"github.com/certen/kernel/pkg/vfs"
)

// ComponentHost is the subset of *host.Host dispatch depends on,
// narrowed to an interface so tests can drive the lifecycle logic
// without a real wasmtime engine or compiled component images.
type ComponentHost interface {
	Invoke(req host.Request) host.Result
	InvalidateImage(path string)
}

// systemGasBudget bounds invocations of the kernel-loaded system
// components (ante-handler, tx-decoder, begin/end-blocker), which never
// negotiate gas with a caller the way application messages do against a
// tx's declared gas_limit.
const systemGasBudget = 1_000_000

// systemWallDeadline bounds the wall-clock an individual system or
// application-module invocation may take. Generous relative to typical
// gas budgets per spec §5's Timeouts note: the gas budget, not the
// deadline, is what must be identical across validators.
const systemWallDeadline = 2 * time.Second

func (a *App) loadImage(snap *state.Snapshot, path string) ([]byte, error) {
	key, err := canon.Key(path)
	if err != nil {
		return nil, fmt.Errorf("dispatch: canonicalize %s: %w", path, err)
	}
	val, found, err := a.engine.Read(snap, key)
	if err != nil {
		return nil, fmt.Errorf("dispatch: read %s: %w", path, err)
	}
	if !found {
		return nil, fmt.Errorf("dispatch: no component image at %s", path)
	}
	return val, nil
}

// invokeArgs bundles everything one component call needs beyond the
// request payload itself.
type invokeArgs struct {
	imagePath   string
	entry       string
	snap        *state.Snapshot
	fs          *vfs.FS
	auth        *broker.Authority
	gasWanted   uint64
	clock       host.Clock
	txHash      []byte
	randCounter uint64
}

// invoke loads the component at args.imagePath, marshals req to JSON,
// calls into the Component Host, and unmarshals the response into resp.
// Returns the raw host.Result so callers can inspect Trap/GasUsed/
// Logs/Events even when the call failed.
func (a *App) invoke(args invokeArgs, req, resp interface{}) (host.Result, error) {
	image, err := a.loadImage(args.snap, args.imagePath)
	if err != nil {
		return host.Result{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return host.Result{}, fmt.Errorf("dispatch: marshal request for %s: %w", args.imagePath, err)
	}

	result := a.host.Invoke(host.Request{
		ImagePath:    args.imagePath,
		Image:        image,
		Entry:        args.entry,
		Authority:    args.auth,
		FS:           args.fs,
		GasWanted:    args.gasWanted,
		WallDeadline: systemWallDeadline,
		Clock:        args.clock,
		PrevAppHash:  a.lastAppHash,
		TxHash:       args.txHash,
		RandCounter:  args.randCounter,
		Payload:      payload,
	})
	if result.Err != nil {
		return result, result.Err
	}
	if resp != nil && len(result.Output) > 0 {
		if err := json.Unmarshal(result.Output, resp); err != nil {
			return result, fmt.Errorf("dispatch: unmarshal response from %s: %w", args.imagePath, err)
		}
	}
	return result, nil
}
