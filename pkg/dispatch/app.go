// Copyright 2025 Certen Protocol
//
// Kernel Dispatch (F) — maps ABCI 2.0 calls onto the stack below (spec
// §4.F). Grounded on the teacher's `pkg/consensus.ValidatorApp`: same
// method set, same RWMutex-guarded single struct, same "restore
// persisted height/app-hash on startup" shape — rebuilt around the
// Authenticated Store / State Engine / VFS / Component Host / Capability
// Broker instead of the teacher's hardcoded ValidatorBlock type, since
// this kernel's application semantics are whatever WASM components are
// installed, not one fixed tx schema.

package dispatch

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/rs/zerolog"

	"github.com/certen/kernel/pkg/broker"
	"github.com/certen/kernel/pkg/canon"
	"github.com/certen/kernel/pkg/host"
	"github.com/certen/kernel/pkg/state"
	"github.com/certen/kernel/pkg/store"
	"github.com/certen/kernel/pkg/vfs"
)

// Indexer is the optional secondary tx-result index (pkg/indexer).
// FinalizeBlock writes one record per tx result as it executes the
// block, with no events attached; Query does not read from it. Nil
// disables indexing entirely without changing consensus behavior, since
// the index is non-authoritative.
type Indexer interface {
	IndexTx(height uint64, txIndex int, txHash []byte, code uint32, gasUsed uint64, events []Event) error
}

// Metrics is the optional Prometheus collector set (pkg/metrics).
type Metrics interface {
	ObserveInvocation(trap host.Kind, gasUsed uint64)
	ObserveCommit(height uint64, version uint64)
}

const (
	pathAnteHandler  = "/sbin/ante-handler"
	pathTxDecoder    = "/sbin/tx-decoder"
	pathBeginBlocker = "/sbin/begin-blocker"
	pathEndBlocker   = "/sbin/end-blocker"
)

// App implements abcitypes.Application over the kernel stack.
type App struct {
	mu sync.RWMutex

	store  store.Store
	engine *state.Engine
	broker *broker.Broker
	host   ComponentHost

	indexer Indexer
	metrics Metrics
	log     zerolog.Logger

	chainID string

	// Committed state, restored at startup and advanced only by Commit.
	lastHeight  uint64
	lastAppHash []byte

	// Working state for the block currently between FinalizeBlock and
	// Commit — nil outside that window.
	blockSnap   *state.Snapshot
	height      uint64
	blockTime   time.Time
	proposer    []byte
	randCounter uint64
	writtenSys  []string // never populated; InstallComponent invalidates the component cache itself
}

// NewApp constructs an App. indexer and metrics may be nil.
func NewApp(s store.Store, engine *state.Engine, b *broker.Broker, h ComponentHost, chainID string, idx Indexer, met Metrics, log zerolog.Logger) *App {
	a := &App{
		store:      s,
		engine:     engine,
		broker:     b,
		host:       h,
		indexer:    idx,
		metrics:    met,
		log:        log,
		chainID:    chainID,
		lastHeight: s.LatestVersion(),
	}
	if root, err := s.Commitment(a.lastHeight); err == nil {
		a.lastAppHash = root[:]
	}
	return a
}

func (a *App) nextRandCounter() uint64 {
	a.randCounter++
	return a.randCounter
}

// Info implements abcitypes.Application.
func (a *App) Info(ctx context.Context, req *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	appHash, err := a.store.Commitment(a.lastHeight)
	if err != nil {
		a.log.Warn().Err(err).Uint64("height", a.lastHeight).Msg("info: failed to read commitment")
	}
	return &abcitypes.ResponseInfo{
		Data:             "certen kernel",
		Version:          "1.0.0",
		AppVersion:       1,
		LastBlockHeight:  int64(a.lastHeight),
		LastBlockAppHash: appHash[:],
	}, nil
}

// InitChain implements abcitypes.Application per spec §4.F's InitChain
// contract: it writes the system components supplied in genesis (or
// rejects startup if any are missing — ErrConfig).
func (a *App) InitChain(ctx context.Context, req *abcitypes.RequestInitChain) (*abcitypes.ResponseInitChain, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap, err := a.engine.BeginBlock(0)
	if err != nil {
		return nil, &BlockError{Height: 0, Phase: "init-chain", Err: err}
	}

	bundle, err := parseGenesisBundle(req.AppStateBytes)
	if err != nil {
		a.engine.DiscardBlock()
		return nil, &ErrConfig{Reason: fmt.Sprintf("invalid genesis app_state: %v", err)}
	}
	for path, image := range map[string][]byte{
		pathAnteHandler:  bundle.AnteHandler,
		pathTxDecoder:    bundle.TxDecoder,
		pathBeginBlocker: bundle.BeginBlocker,
		pathEndBlocker:   bundle.EndBlocker,
	} {
		if len(image) == 0 {
			a.engine.DiscardBlock()
			return nil, &ErrConfig{Reason: fmt.Sprintf("genesis is missing required component %s", path)}
		}
		key, kerr := canon.Key(path)
		if kerr != nil {
			a.engine.DiscardBlock()
			return nil, &ErrConfig{Reason: kerr.Error()}
		}
		a.engine.Write(snap, key, image)
	}
	a.broker.SetAnteManifest(bundle.AnteManifest)

	chainKey, _ := canon.Key("/sys/chain-id")
	a.engine.Write(snap, chainKey, []byte(req.ChainId))

	root, version, err := a.engine.CommitBlock()
	if err != nil {
		return nil, &BlockError{Height: 0, Phase: "init-chain-commit", Err: err}
	}
	a.lastHeight = version
	a.lastAppHash = root[:]
	a.chainID = req.ChainId

	return &abcitypes.ResponseInitChain{AppHash: root[:]}, nil
}

// CheckTx implements abcitypes.Application per spec §4.F's CheckTx
// contract: tx-decoder then ante-handler against an ephemeral snapshot
// rooted at the committed version, never the in-progress block.
func (a *App) CheckTx(ctx context.Context, req *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := a.engine.BeginCheckTx()
	fs := vfs.New(a.engine)

	decodeAuth, err := a.broker.BuildTxDecoder(fs, snap, "check")
	if err != nil {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: err.Error()}, nil
	}
	defer decodeAuth.Release()

	var decoded DecodeResponse
	dres, derr := a.invoke(invokeArgs{
		imagePath: pathTxDecoder, entry: "decode-tx", snap: snap, fs: fs, auth: decodeAuth,
		gasWanted: systemGasBudget, clock: host.Clock{Height: a.lastHeight, Time: time.Now()},
		txHash: checkTxHash(req.Tx), randCounter: a.nextRandCounterRO(),
	}, DecodeRequest{TxBytes: req.Tx}, &decoded)
	if derr != nil {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: "decode failed: " + derr.Error()}, nil
	}

	anteAuth, err := a.broker.BuildAnteHandler(fs, snap, "check")
	if err != nil {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: err.Error()}, nil
	}
	defer anteAuth.Release()

	var ante AnteResponse
	ares, aerr := a.invoke(invokeArgs{
		imagePath: pathAnteHandler, entry: "process-ante", snap: snap, fs: fs, auth: anteAuth,
		gasWanted: systemGasBudget, clock: host.Clock{Height: a.lastHeight, Time: time.Now()},
		txHash: checkTxHash(req.Tx), randCounter: a.nextRandCounterRO(),
	}, AnteRequest{
		TxBytes: req.Tx, BlockHeight: a.lastHeight, IsCheckTx: true,
		IsRecheckTx: req.Type == abcitypes.CheckTxType_Recheck,
	}, &ante)
	if aerr != nil {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: "ante failed: " + aerr.Error()}, nil
	}
	if a.metrics != nil {
		a.metrics.ObserveInvocation(dres.Trap, dres.GasUsed)
		a.metrics.ObserveInvocation(ares.Trap, ares.GasUsed)
	}

	return &abcitypes.ResponseCheckTx{
		Code:      ante.ResultCode,
		GasWanted: int64(ante.GasWanted),
		GasUsed:   int64(ante.GasUsed),
		Log:       ante.ResultLog,
		Events:    toABCIEvents(ante.Events),
	}, nil
}

// PrepareProposal implements abcitypes.Application. Default policy per
// spec §4.F: pass the txs through unchanged, honoring max_bytes.
func (a *App) PrepareProposal(ctx context.Context, req *abcitypes.RequestPrepareProposal) (*abcitypes.ResponsePrepareProposal, error) {
	var total int64
	txs := make([][]byte, 0, len(req.Txs))
	for _, tx := range req.Txs {
		total += int64(len(tx))
		if total > req.MaxTxBytes {
			break
		}
		txs = append(txs, tx)
	}
	return &abcitypes.ResponsePrepareProposal{Txs: txs}, nil
}

// ProcessProposal implements abcitypes.Application. Default policy:
// accept (spec §4.F).
func (a *App) ProcessProposal(ctx context.Context, req *abcitypes.RequestProcessProposal) (*abcitypes.ResponseProcessProposal, error) {
	return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_ACCEPT}, nil
}

// ExtendVote implements abcitypes.Application. The kernel has no
// default vote-extension payload.
func (a *App) ExtendVote(ctx context.Context, req *abcitypes.RequestExtendVote) (*abcitypes.ResponseExtendVote, error) {
	return &abcitypes.ResponseExtendVote{}, nil
}

// VerifyVoteExtension implements abcitypes.Application.
func (a *App) VerifyVoteExtension(ctx context.Context, req *abcitypes.RequestVerifyVoteExtension) (*abcitypes.ResponseVerifyVoteExtension, error) {
	return &abcitypes.ResponseVerifyVoteExtension{Status: abcitypes.ResponseVerifyVoteExtension_ACCEPT}, nil
}

// ListSnapshots, OfferSnapshot, LoadSnapshotChunk, ApplySnapshotChunk:
// state-sync is a non-goal (spec §1's Non-goals); report no snapshots
// and abort any offer, matching the teacher's posture.
func (a *App) ListSnapshots(ctx context.Context, req *abcitypes.RequestListSnapshots) (*abcitypes.ResponseListSnapshots, error) {
	return &abcitypes.ResponseListSnapshots{}, nil
}

func (a *App) OfferSnapshot(ctx context.Context, req *abcitypes.RequestOfferSnapshot) (*abcitypes.ResponseOfferSnapshot, error) {
	return &abcitypes.ResponseOfferSnapshot{Result: abcitypes.ResponseOfferSnapshot_ABORT}, nil
}

func (a *App) LoadSnapshotChunk(ctx context.Context, req *abcitypes.RequestLoadSnapshotChunk) (*abcitypes.ResponseLoadSnapshotChunk, error) {
	return &abcitypes.ResponseLoadSnapshotChunk{}, nil
}

func (a *App) ApplySnapshotChunk(ctx context.Context, req *abcitypes.RequestApplySnapshotChunk) (*abcitypes.ResponseApplySnapshotChunk, error) {
	return &abcitypes.ResponseApplySnapshotChunk{Result: abcitypes.ResponseApplySnapshotChunk_ABORT}, nil
}

func checkTxHash(tx []byte) []byte {
	h := uint64(14695981039346656037) // FNV offset basis; cheap non-cryptographic tx discriminator, used for rand seeding and as the indexer's tx hash
	for _, b := range tx {
		h ^= uint64(b)
		h *= 1099511628211
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, h)
	return out
}

// nextRandCounterRO supplies CheckTx's rand counter without touching the
// block-scoped counter (CheckTx holds only the read lock): it returns the
// wall clock in nanoseconds, so CheckTx rand streams differ between calls
// and between nodes. Dispatch never relies on CheckTx's rand stream for
// anything committed.
func (a *App) nextRandCounterRO() uint64 {
	return uint64(time.Now().UnixNano())
}
