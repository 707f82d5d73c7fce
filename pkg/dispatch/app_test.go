// Copyright 2025 Certen Protocol

package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/rs/zerolog"

	"github.com/certen/kernel/pkg/broker"
	"github.com/certen/kernel/pkg/host"
	"github.com/certen/kernel/pkg/state"
	"github.com/certen/kernel/pkg/store"
)

func newTestApp(t *testing.T, h ComponentHost) *App {
	t.Helper()
	s, err := store.NewJMTStore(store.NewMemKV())
	if err != nil {
		t.Fatalf("NewJMTStore: %v", err)
	}
	engine := state.NewEngine(s)
	b := broker.NewBroker()
	app := NewApp(s, engine, b, h, "test-chain", nil, nil, zerolog.Nop())

	bundle := GenesisBundle{
		AnteHandler:  []byte("ante-v1"),
		TxDecoder:    []byte("decoder-v1"),
		BeginBlocker: []byte("begin-v1"),
		EndBlocker:   []byte("end-v1"),
	}
	appState, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal genesis bundle: %v", err)
	}
	if _, err := app.InitChain(context.Background(), &abcitypes.RequestInitChain{
		ChainId: "test-chain", AppStateBytes: appState,
	}); err != nil {
		t.Fatalf("InitChain: %v", err)
	}
	return app
}

// registerNoopBlockHooks wires begin-blocker/end-blocker handlers that do
// nothing, so tests can focus FinalizeBlock on tx handling.
func registerNoopBlockHooks(t *testing.T, h *fakeHost) {
	h.on(pathBeginBlocker, "begin-block", func(req host.Request) host.Result {
		return jsonResult(t, BeginBlockResponse{})
	})
	h.on(pathEndBlocker, "end-block", func(req host.Request) host.Result {
		return jsonResult(t, EndBlockResponse{})
	})
}

// registerSingleMessageTx wires a tx-decoder/ante-handler pair that
// always decodes one message targeting targetPath with the given gas
// limit, and always accepts in ante.
func registerSingleMessageTx(t *testing.T, h *fakeHost, targetPath string, gasLimit uint64) {
	h.on(pathTxDecoder, "decode-tx", func(req host.Request) host.Result {
		return jsonResult(t, DecodeResponse{
			Messages: []DecodedMessage{{TargetPath: targetPath, PayloadBytes: []byte("payload")}},
			GasLimit: gasLimit,
		})
	})
	h.on(pathAnteHandler, "process-ante", func(req host.Request) host.Result {
		return jsonResult(t, AnteResponse{ResultCode: 0, GasWanted: gasLimit})
	})
}

// installTestComponent stores a placeholder image at path so dispatch's
// image load for a /bin target succeeds; the fake host answers the call.
func installTestComponent(t *testing.T, app *App, path string) {
	t.Helper()
	if err := app.InstallComponent(path, []byte(path+"-image")); err != nil {
		t.Fatalf("InstallComponent(%s): %v", path, err)
	}
}

func finalizeOneTxBlock(t *testing.T, app *App, height int64, tx []byte) *abcitypes.ResponseFinalizeBlock {
	t.Helper()
	resp, err := app.FinalizeBlock(context.Background(), &abcitypes.RequestFinalizeBlock{
		Height: height,
		Txs:    [][]byte{tx},
	})
	if err != nil {
		t.Fatalf("FinalizeBlock: %v", err)
	}
	return resp
}

func TestFinalizeBlockCommitHappyPath(t *testing.T) {
	h := newFakeHost(t)
	registerNoopBlockHooks(t, h)
	registerSingleMessageTx(t, h, "/bin/testmod", 1000)
	h.on("/bin/testmod", "execute-message", func(req host.Request) host.Result {
		homeFD, ok := req.Authority.FD("home")
		if !ok {
			t.Fatal("execute-message: no home fd granted")
		}
		if _, err := req.FS.Write(homeFD, []byte("v1")); err != nil {
			t.Fatalf("write home fd: %v", err)
		}
		return jsonResult(t, ExecuteMessageResponse{Code: 0, GasUsed: 10})
	})

	app := newTestApp(t, h)
	installTestComponent(t, app, "/bin/testmod")
	resp := finalizeOneTxBlock(t, app, 1, []byte("tx-a"))
	if len(resp.TxResults) != 1 || resp.TxResults[0].Code != 0 {
		t.Fatalf("expected successful tx result, got %+v", resp.TxResults)
	}

	if _, err := app.Commit(context.Background(), &abcitypes.RequestCommit{}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	q, err := app.Query(context.Background(), &abcitypes.RequestQuery{Path: "/state/home/testmod"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if q.Code != 0 || string(q.Value) != "v1" {
		t.Fatalf("expected committed value v1, got code=%d value=%q", q.Code, q.Value)
	}
}

func TestAtomicityMessageFailureRollsBackTx(t *testing.T) {
	h := newFakeHost(t)
	registerNoopBlockHooks(t, h)
	registerSingleMessageTx(t, h, "/bin/testmod", 1000)
	h.on("/bin/testmod", "execute-message", func(req host.Request) host.Result {
		homeFD, ok := req.Authority.FD("home")
		if !ok {
			t.Fatal("execute-message: no home fd granted")
		}
		if _, err := req.FS.Write(homeFD, []byte("should-not-persist")); err != nil {
			t.Fatalf("write home fd: %v", err)
		}
		return jsonResult(t, ExecuteMessageResponse{Code: 7, GasUsed: 10})
	})

	app := newTestApp(t, h)
	installTestComponent(t, app, "/bin/testmod")
	resp := finalizeOneTxBlock(t, app, 1, []byte("tx-b"))
	if len(resp.TxResults) != 1 || resp.TxResults[0].Code == 0 {
		t.Fatalf("expected failed tx result, got %+v", resp.TxResults)
	}

	if _, err := app.Commit(context.Background(), &abcitypes.RequestCommit{}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	q, err := app.Query(context.Background(), &abcitypes.RequestQuery{Path: "/state/home/testmod"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if q.Code == 0 {
		t.Fatalf("expected rolled-back write to be absent, found value %q", q.Value)
	}
}

func TestGasUsedNeverExceedsGasWanted(t *testing.T) {
	h := newFakeHost(t)
	registerNoopBlockHooks(t, h)
	registerSingleMessageTx(t, h, "/bin/testmod", 500)
	h.on("/bin/testmod", "execute-message", func(req host.Request) host.Result {
		return jsonResult(t, ExecuteMessageResponse{Code: 0, GasUsed: 300})
	})

	app := newTestApp(t, h)
	installTestComponent(t, app, "/bin/testmod")
	resp := finalizeOneTxBlock(t, app, 1, []byte("tx-c"))
	result := resp.TxResults[0]
	if result.GasUsed > result.GasWanted {
		t.Fatalf("gas_used %d exceeds gas_wanted %d", result.GasUsed, result.GasWanted)
	}
}

func TestDecodeFailureRecordsFailedResultWithoutAbortingBlock(t *testing.T) {
	h := newFakeHost(t)
	registerNoopBlockHooks(t, h)
	h.on(pathTxDecoder, "decode-tx", func(req host.Request) host.Result {
		return host.Result{Err: errDecode}
	})

	app := newTestApp(t, h)
	resp := finalizeOneTxBlock(t, app, 1, []byte("tx-bad"))
	if len(resp.TxResults) != 1 || resp.TxResults[0].Code == 0 {
		t.Fatalf("expected a failed (not aborted) tx result, got %+v", resp.TxResults)
	}
}

// TestTransferableHandleRebindsIntoNextMessage exercises spec §4.E's
// transferable handles: a message hands off a weakened view of its own
// "home" capability, and the kernel rebinds it into the next message's
// Authority under a "handle:N" slot rather than granting a fresh one.
func TestTransferableHandleRebindsIntoNextMessage(t *testing.T) {
	h := newFakeHost(t)
	registerNoopBlockHooks(t, h)
	h.on(pathTxDecoder, "decode-tx", func(req host.Request) host.Result {
		return jsonResult(t, DecodeResponse{
			Messages: []DecodedMessage{
				{TargetPath: "/bin/sender", PayloadBytes: []byte("send")},
				{TargetPath: "/bin/receiver", PayloadBytes: []byte("receive")},
			},
			GasLimit: 1000,
		})
	})
	h.on(pathAnteHandler, "process-ante", func(req host.Request) host.Result {
		return jsonResult(t, AnteResponse{ResultCode: 0, GasWanted: 1000})
	})
	h.on("/bin/sender", "execute-message", func(req host.Request) host.Result {
		homeFD, ok := req.Authority.FD("home")
		if !ok {
			t.Fatal("sender: no home fd granted")
		}
		if _, err := req.FS.Write(homeFD, []byte("transferred-value")); err != nil {
			t.Fatalf("sender write: %v", err)
		}
		return jsonResult(t, ExecuteMessageResponse{
			Code: 0,
			Handles: []HandleDescriptor{
				{FromSlot: "home", Subtree: "/home/sender", Mode: "read"},
			},
		})
	})
	h.on("/bin/receiver", "execute-message", func(req host.Request) host.Result {
		if _, ok := req.Authority.FD("home"); !ok {
			t.Fatal("receiver: expected its own home fd")
		}
		handleFD, ok := req.Authority.FD("handle:0")
		if !ok {
			t.Fatal("receiver: expected rebound handle fd")
		}
		buf := make([]byte, 32)
		n, err := req.FS.Read(handleFD, buf)
		if err != nil {
			t.Fatalf("receiver read via handle: %v", err)
		}
		if string(buf[:n]) != "transferred-value" {
			t.Fatalf("receiver read %q via handle, want transferred-value", buf[:n])
		}
		return jsonResult(t, ExecuteMessageResponse{Code: 0})
	})

	app := newTestApp(t, h)
	installTestComponent(t, app, "/bin/sender")
	installTestComponent(t, app, "/bin/receiver")
	resp := finalizeOneTxBlock(t, app, 1, []byte("tx-handle"))
	if len(resp.TxResults) != 1 || resp.TxResults[0].Code != 0 {
		t.Fatalf("expected the tx carrying both messages to succeed, got %+v", resp.TxResults)
	}
}

func TestInstallComponentInvalidatesCache(t *testing.T) {
	h := newFakeHost(t)
	registerNoopBlockHooks(t, h)
	app := newTestApp(t, h)

	if err := app.InstallComponent(pathAnteHandler, []byte("ante-v2")); err != nil {
		t.Fatalf("InstallComponent: %v", err)
	}
	if len(h.invalidated) != 1 || h.invalidated[0] != pathAnteHandler {
		t.Fatalf("expected InvalidateImage(%q) to be called once, got %v", pathAnteHandler, h.invalidated)
	}
}

var errDecode = &TxError{Stage: "decode", Err: jsonError("malformed tx")}

type jsonError string

func (e jsonError) Error() string { return string(e) }
