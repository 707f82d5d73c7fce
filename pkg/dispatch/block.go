// Copyright 2025 Certen Protocol

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtmerkle "github.com/cometbft/cometbft/proto/crypto/merkle"

	"github.com/certen/kernel/pkg/broker"
	"github.com/certen/kernel/pkg/canon"
	"github.com/certen/kernel/pkg/host"
	"github.com/certen/kernel/pkg/store"
	"github.com/certen/kernel/pkg/vfs"
)

// FinalizeBlock implements abcitypes.Application per spec §4.F's ordered
// steps. It does not commit — Commit() does that, per step 7.
func (a *App) FinalizeBlock(ctx context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	height := uint64(req.Height)
	snap, err := a.engine.BeginBlock(height)
	if err != nil {
		return nil, &BlockError{Height: height, Phase: "begin-block", Err: err}
	}
	a.blockSnap = snap
	a.height = height
	a.blockTime = req.Time
	a.proposer = req.ProposerAddress
	a.randCounter = 0

	for path, value := range map[string]string{
		"/sys/height":    fmt.Sprintf("%d", height),
		"/sys/time":      req.Time.UTC().Format(time.RFC3339),
		"/sys/chain-id":  a.chainID,
		"/sys/proposer":  fmt.Sprintf("%x", req.ProposerAddress),
	} {
		key, kerr := canon.Key(path)
		if kerr != nil {
			a.engine.DiscardBlock()
			return nil, &BlockError{Height: height, Phase: "sys-write", Err: kerr}
		}
		a.engine.Write(snap, key, []byte(value))
	}

	clock := host.Clock{Height: height, Time: req.Time}
	blockFS := vfs.New(a.engine)

	var allEvents []abcitypes.Event

	beginAuth, err := a.broker.BuildBeginBlocker(blockFS, snap, height)
	if err != nil {
		a.engine.DiscardBlock()
		return nil, &BlockError{Height: height, Phase: "begin-blocker", Err: err}
	}
	var beginResp BeginBlockResponse
	bres, berr := a.invoke(invokeArgs{
		imagePath: pathBeginBlocker, entry: "begin-block", snap: snap, fs: blockFS, auth: beginAuth,
		gasWanted: systemGasBudget, clock: clock, txHash: []byte("begin-block"), randCounter: a.nextRandCounter(),
	}, BeginBlockRequest{Height: height, Time: req.Time.Unix(), ChainID: a.chainID, Misbehavior: toMisbehavior(req.Misbehavior)}, &beginResp)
	beginAuth.Release()
	if a.metrics != nil {
		a.metrics.ObserveInvocation(bres.Trap, bres.GasUsed)
	}
	if berr != nil {
		a.engine.DiscardBlock()
		return nil, &BlockError{Height: height, Phase: "begin-blocker", Err: berr}
	}
	allEvents = append(allEvents, wrapEvents("block_begin", beginResp.Events)...)

	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))
	for i, tx := range req.Txs {
		result, err := a.finalizeTx(clock, height, i, tx)
		if err != nil {
			a.engine.DiscardBlock()
			return nil, &BlockError{Height: height, Phase: fmt.Sprintf("tx:%d", i), Err: err}
		}
		txResults[i] = result
		if a.indexer != nil {
			_ = a.indexer.IndexTx(height, i, txHashOf(tx), uint32(result.Code), uint64(result.GasUsed), nil)
		}
	}

	endAuth, err := a.broker.BuildEndBlocker(blockFS, snap, height)
	if err != nil {
		a.engine.DiscardBlock()
		return nil, &BlockError{Height: height, Phase: "end-blocker", Err: err}
	}
	var endResp EndBlockResponse
	eres, eerr := a.invoke(invokeArgs{
		imagePath: pathEndBlocker, entry: "end-block", snap: snap, fs: blockFS, auth: endAuth,
		gasWanted: systemGasBudget, clock: clock, txHash: []byte("end-block"), randCounter: a.nextRandCounter(),
	}, EndBlockRequest{Height: height}, &endResp)
	endAuth.Release()
	if a.metrics != nil {
		a.metrics.ObserveInvocation(eres.Trap, eres.GasUsed)
	}
	if eerr != nil {
		a.engine.DiscardBlock()
		return nil, &BlockError{Height: height, Phase: "end-blocker", Err: eerr}
	}
	allEvents = append(allEvents, wrapEvents("block_end", endResp.Events)...)

	resp := &abcitypes.ResponseFinalizeBlock{
		Events:           allEvents,
		TxResults:        txResults,
		ValidatorUpdates: toABCIValidatorUpdates(endResp.ValidatorUpdates),
	}
	if len(endResp.ConsensusParamUpdates) > 0 {
		var params abcitypes.ConsensusParams
		if err := json.Unmarshal(endResp.ConsensusParamUpdates, &params); err == nil {
			resp.ConsensusParamUpdates = &params
		}
	}
	return resp, nil
}

// finalizeTx runs one tx through tx-decoder, ante-handler, and each
// decoded message, per spec §4.F step 4. A Timeout trap anywhere is
// reported as a BlockError (fatal); any other trap fails only this tx.
func (a *App) finalizeTx(clock host.Clock, height uint64, idx int, tx []byte) (*abcitypes.ExecTxResult, error) {
	txSnap, err := a.engine.BeginTx()
	if err != nil {
		return nil, err
	}
	txID := fmt.Sprintf("%d-%d", height, idx)
	fs := vfs.New(a.engine)
	txHash := txHashOf(tx)

	var events []abcitypes.Event
	var gasUsed uint64

	decodeAuth, err := a.broker.BuildTxDecoder(fs, txSnap, txID)
	if err != nil {
		return nil, err
	}
	var decoded DecodeResponse
	dres, derr := a.invoke(invokeArgs{
		imagePath: pathTxDecoder, entry: "decode-tx", snap: txSnap, fs: fs, auth: decodeAuth,
		gasWanted: systemGasBudget, clock: clock, txHash: txHash, randCounter: a.nextRandCounter(),
	}, DecodeRequest{TxBytes: tx}, &decoded)
	decodeAuth.Release()
	gasUsed += dres.GasUsed
	if dres.Trap == host.Timeout {
		return nil, derr
	}
	if derr != nil {
		a.engine.EphemeralSweep(txID)
		txErr := &TxError{Stage: "decode", Code: 1, Err: derr}
		a.logTxError(height, idx, txErr)
		return &abcitypes.ExecTxResult{Code: txErr.Code, Log: txErr.Error(), GasUsed: int64(gasUsed)}, nil
	}

	anteAuth, err := a.broker.BuildAnteHandler(fs, txSnap, txID)
	if err != nil {
		return nil, err
	}
	var ante AnteResponse
	ares, aerr := a.invoke(invokeArgs{
		imagePath: pathAnteHandler, entry: "process-ante", snap: txSnap, fs: fs, auth: anteAuth,
		gasWanted: decoded.GasLimit, clock: clock, txHash: txHash, randCounter: a.nextRandCounter(),
	}, AnteRequest{TxBytes: tx, TxIndex: idx, BlockHeight: height, BlockTime: clock.Time.Unix()}, &ante)
	anteAuth.Release()
	gasUsed += ares.GasUsed
	if ares.Trap == host.Timeout {
		return nil, aerr
	}
	if aerr != nil || ante.ResultCode != 0 {
		a.engine.RollbackTx(txSnap)
		a.engine.EphemeralSweep(txID)
		log := ante.ResultLog
		err := aerr
		if err == nil {
			err = fmt.Errorf("ante rejected with code %d: %s", ante.ResultCode, ante.ResultLog)
		} else {
			log = "ante failed: " + aerr.Error()
		}
		txErr := &TxError{Stage: "ante", Code: 2, Err: err}
		a.logTxError(height, idx, txErr)
		return &abcitypes.ExecTxResult{Code: txErr.Code, Log: log, GasUsed: int64(gasUsed)}, nil
	}
	events = append(events, toABCIEvents(ante.Events)...)

	// arena holds the tx's transferable handles (spec §4.E, §9): a
	// component's execute-message response can hand off a weakened view
	// of one of its own capabilities for the kernel to rebind into the
	// next message's Authority. The arena is invalidated on every exit
	// from this function, successful or not, so no handle outlives its tx.
	arena := broker.NewHandleArena()
	defer arena.Invalidate()

	type pendingHandle struct {
		id   int
		path string
		mode vfs.Mode
	}
	var pending []pendingHandle

	var txData []byte
	for mi, msg := range decoded.Messages {
		authM, err := a.broker.BuildAppModule(fs, txSnap, componentName(msg.TargetPath), txID)
		if err != nil {
			return nil, err
		}
		for _, ph := range pending {
			cap, ok := arena.Resolve(ph.id)
			if !ok {
				continue
			}
			if err := a.broker.BindHandle(fs, authM, ph.id, ph.path, ph.mode, cap); err != nil {
				authM.Release()
				a.engine.RollbackTx(txSnap)
				a.engine.EphemeralSweep(txID)
				return a.failMessage(height, idx, mi, gasUsed, fmt.Errorf("bind handle: %w", err)), nil
			}
		}
		pending = nil

		var execResp ExecuteMessageResponse
		mres, merr := a.invoke(invokeArgs{
			imagePath: msg.TargetPath, entry: "execute-message", snap: txSnap, fs: fs, auth: authM,
			gasWanted: decoded.GasLimit - gasUsed, clock: clock, txHash: txHash, randCounter: a.nextRandCounter(),
		}, ExecuteMessageRequest{
			Context:      MessageContext{Height: height, Time: clock.Time.Unix(), ChainID: a.chainID, TxIndex: idx},
			PayloadBytes: msg.PayloadBytes,
		}, &execResp)
		gasUsed += mres.GasUsed
		if mres.Trap == host.Timeout {
			authM.Release()
			return nil, merr
		}
		if merr != nil || execResp.Code != 0 {
			authM.Release()
			a.engine.RollbackTx(txSnap)
			a.engine.EphemeralSweep(txID)
			err := merr
			if err == nil {
				err = fmt.Errorf("message %d to %s rejected with code %d", mi, msg.TargetPath, execResp.Code)
			}
			return a.failMessage(height, idx, mi, gasUsed, err), nil
		}
		events = append(events, toABCIEvents(execResp.Events)...)
		if len(execResp.Data) > 0 {
			txData = execResp.Data
		}

		for hi, hd := range execResp.Handles {
			parentCap, ok := authM.CapabilityForSlot(hd.FromSlot)
			if !ok {
				authM.Release()
				a.engine.RollbackTx(txSnap)
				a.engine.EphemeralSweep(txID)
				return a.failMessage(height, idx, mi, gasUsed, fmt.Errorf("unknown handle source slot %q", hd.FromSlot)), nil
			}
			mode, err := parseHandleMode(hd.Mode)
			if err != nil {
				authM.Release()
				a.engine.RollbackTx(txSnap)
				a.engine.EphemeralSweep(txID)
				return a.failMessage(height, idx, mi, gasUsed, err), nil
			}
			weak, err := parentCap.Weaken(fmt.Sprintf("%s:handle:%d:%d", txID, mi, hi), hd.Subtree, mode)
			if err != nil {
				authM.Release()
				a.engine.RollbackTx(txSnap)
				a.engine.EphemeralSweep(txID)
				return a.failMessage(height, idx, mi, gasUsed, fmt.Errorf("weaken handle: %w", err)), nil
			}
			id := arena.Mint(weak)
			pending = append(pending, pendingHandle{id: id, path: hd.Subtree, mode: mode})
		}
		authM.Release()
	}

	if err := a.engine.CommitTx(txSnap); err != nil {
		return nil, err
	}
	if err := a.engine.EphemeralSweep(txID); err != nil {
		return nil, err
	}

	return &abcitypes.ExecTxResult{
		Code:      0,
		GasWanted: int64(decoded.GasLimit),
		GasUsed:   int64(gasUsed),
		Data:      txData,
		Events:    events,
	}, nil
}

// Commit implements abcitypes.Application: flushes the block snapshot,
// persists the new app hash, and reports a pruning retain height. It does
// not touch the component cache (see the note below).
func (a *App) Commit(ctx context.Context, req *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.blockSnap == nil {
		return nil, &BlockError{Height: a.height, Phase: "commit", Err: fmt.Errorf("no open block snapshot")}
	}

	// Component images are identified by their literal path in the host
	// cache (loadImage's imagePath argument), not by canonical key bytes.
	// Under the current Broker policy (§4.E) no application message can
	// write to /sbin or /bin, so InstallComponent is the only writer of
	// those keys and invalidates the cache itself; ordinary FinalizeBlock
	// commits never touch a component image.

	root, version, err := a.engine.CommitBlock()
	if err != nil {
		return nil, &BlockError{Height: a.height, Phase: "commit", Err: err}
	}
	a.blockSnap = nil
	a.lastHeight = version
	a.lastAppHash = root[:]
	if a.metrics != nil {
		a.metrics.ObserveCommit(a.height, version)
	}

	retainHeight := int64(a.lastHeight) - 100
	if retainHeight < 0 {
		retainHeight = 0
	}
	return &abcitypes.ResponseCommit{RetainHeight: retainHeight}, nil
}

// Query implements abcitypes.Application per spec §4.F: routes
// "/state/" to an authenticated-store read and "/app/" to queryApp, which
// answers only "height" and does not consult the indexer. It never
// returns a Go error (failures are encoded in ResponseQuery.Code).
func (a *App) Query(ctx context.Context, req *abcitypes.RequestQuery) (*abcitypes.ResponseQuery, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	version := uint64(req.Height)
	if version == 0 {
		version = a.lastHeight
	}

	switch {
	case hasPathPrefix(req.Path, "/state/"):
		return a.queryState(req.Path[len("/state/"):], req.Data, version, req.Prove), nil
	case hasPathPrefix(req.Path, "/app/"):
		return a.queryApp(req.Path[len("/app/"):], req.Data), nil
	default:
		return &abcitypes.ResponseQuery{Code: 2, Log: "unknown query path: " + req.Path}, nil
	}
}

func (a *App) queryState(path string, data []byte, version uint64, prove bool) *abcitypes.ResponseQuery {
	key, err := canon.Key("/" + path)
	if err != nil {
		return &abcitypes.ResponseQuery{Code: 1, Log: (&QueryError{Path: path, Err: err}).Error()}
	}
	val, found, err := a.store.Get(key, version)
	if err != nil {
		return &abcitypes.ResponseQuery{Code: 1, Log: (&QueryError{Path: path, Err: err}).Error()}
	}
	resp := &abcitypes.ResponseQuery{Height: int64(version)}
	if !found {
		resp.Code = 1
		resp.Log = "not found"
		return resp
	}
	resp.Value = val
	if prove {
		proof, perr := a.store.Prove(key, version)
		if perr != nil {
			resp.Code = 1
			resp.Log = (&QueryError{Path: path, Err: perr}).Error()
			return resp
		}
		resp.ProofOps = proofToABCI(proof)
	}
	return resp
}

func (a *App) queryApp(path string, data []byte) *abcitypes.ResponseQuery {
	switch path {
	case "height":
		return &abcitypes.ResponseQuery{Code: 0, Value: []byte(fmt.Sprintf("%d", a.lastHeight))}
	default:
		return &abcitypes.ResponseQuery{Code: 2, Log: "unknown /app/ query: " + path}
	}
}

// InstallComponent is the out-of-band operator path for governance
// upgrades of a /sbin or /bin component image: spec §3 reserves write
// authority over those paths to "governance-level writers," which the
// Broker policy table (§4.E) never grants to a guest invocation, so the
// kernel exposes it as a direct, trusted dispatch operation instead of
// an in-kernel message type. It is a Go method only: no cmd/kerneld
// command calls it, and guest code cannot reach it.
func (a *App) InstallComponent(path string, image []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, err := canon.Key(path)
	if err != nil {
		return fmt.Errorf("dispatch: install %s: %w", path, err)
	}
	height := a.lastHeight + 1
	snap, err := a.engine.BeginBlock(height)
	if err != nil {
		return fmt.Errorf("dispatch: install %s: %w", path, err)
	}
	a.engine.Write(snap, key, image)
	root, version, err := a.engine.CommitBlock()
	if err != nil {
		return fmt.Errorf("dispatch: install %s: %w", path, err)
	}
	a.lastHeight = version
	a.lastAppHash = root[:]
	a.host.InvalidateImage(path)
	return nil
}

func hasPathPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// failMessage builds the ExecTxResult for a message-stage failure,
// constructing the *TxError spec §7 names so logTxError can classify it via
// errors.As rather than matching on a bare int code.
func (a *App) failMessage(height uint64, idx, mi int, gasUsed uint64, err error) *abcitypes.ExecTxResult {
	txErr := &TxError{Stage: "message", Code: 3, Err: fmt.Errorf("message %d: %w", mi, err)}
	a.logTxError(height, idx, txErr)
	return &abcitypes.ExecTxResult{Code: txErr.Code, Log: txErr.Error(), GasUsed: int64(gasUsed)}
}

// logTxError demonstrates spec §7's `errors.As`-classification: given a
// generic error, it recovers the concrete *TxError to log its stage and
// code as structured fields instead of string-matching the message.
func (a *App) logTxError(height uint64, idx int, err error) {
	var txErr *TxError
	if !errors.As(err, &txErr) {
		a.log.Warn().Err(err).Uint64("height", height).Int("tx", idx).Msg("tx failed")
		return
	}
	a.log.Warn().Err(txErr.Err).Uint64("height", height).Int("tx", idx).
		Str("stage", txErr.Stage).Uint32("code", txErr.Code).Msg("tx failed")
}

// parseHandleMode decodes the wire-level mode string a component attaches
// to a returned HandleDescriptor (spec §4.E transferable handles).
func parseHandleMode(s string) (vfs.Mode, error) {
	switch s {
	case "read":
		return vfs.Read, nil
	case "write":
		return vfs.Write, nil
	case "readwrite", "read_write":
		return vfs.ReadWrite, nil
	default:
		return 0, fmt.Errorf("unknown handle mode %q", s)
	}
}

func componentName(targetPath string) string {
	const prefix = "/bin/"
	if len(targetPath) > len(prefix) && targetPath[:len(prefix)] == prefix {
		return targetPath[len(prefix):]
	}
	return targetPath
}

func txHashOf(tx []byte) []byte {
	return checkTxHash(tx)
}

func toMisbehavior(in []abcitypes.Misbehavior) []Misbehavior {
	out := make([]Misbehavior, len(in))
	for i, m := range in {
		out[i] = Misbehavior{
			Type:             int32(m.Type),
			Height:           m.Height,
			Time:             m.Time.Unix(),
			TotalVotingPower: m.TotalVotingPower,
		}
	}
	return out
}

func toABCIEvents(evts []Event) []abcitypes.Event {
	out := make([]abcitypes.Event, len(evts))
	for i, e := range evts {
		attrs := make([]abcitypes.EventAttribute, len(e.Attributes))
		for j, at := range e.Attributes {
			attrs[j] = abcitypes.EventAttribute{Key: at.Key, Value: at.Value, Index: at.Indexed}
		}
		out[i] = abcitypes.Event{Type: e.Type, Attributes: attrs}
	}
	return out
}

func wrapEvents(kind string, evts []Event) []abcitypes.Event {
	wrapped := toABCIEvents(evts)
	for i := range wrapped {
		wrapped[i].Type = kind + ":" + wrapped[i].Type
	}
	return wrapped
}

// proofToABCI wraps the store's sparse-Merkle proof in a single opaque
// ProofOp — the tree's fixed-depth sibling-path shape doesn't map onto
// IAVL's ProofOps conventions, so this kernel defines its own op type
// rather than forcing an IAVL-shaped encoding onto a different tree.
func proofToABCI(p *store.Proof) *cmtmerkle.ProofOps {
	data, _ := json.Marshal(p)
	return &cmtmerkle.ProofOps{Ops: []cmtmerkle.ProofOp{{Type: "certen:sparse-merkle-v1", Data: data}}}
}

func toABCIValidatorUpdates(in []ValidatorUpdate) []abcitypes.ValidatorUpdate {
	out := make([]abcitypes.ValidatorUpdate, len(in))
	for i, v := range in {
		out[i] = abcitypes.ValidatorUpdate{Power: v.Power}
	}
	return out
}
