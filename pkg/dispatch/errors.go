// Copyright 2025 Certen Protocol
//
// Error classification for the Kernel Dispatch (F), per spec §7: each
// kind is a concrete type so callers can `errors.As` instead of string
// matching.

package dispatch

import "fmt"

// BlockError is fatal to the in-progress block: a begin-blocker or
// end-blocker trap, a Timeout trap anywhere in the block (spec §5: "a
// node that times out diverges and must halt rather than sign a
// different result"), or any authenticated-store failure during
// commit. Dispatch surfaces it as a non-nil error from the owning ABCI
// method, which is fatal in cometbft's server loop by design — the
// node halts rather than risk a divergent app hash.
type BlockError struct {
	Height uint64
	Phase  string // "begin-blocker", "end-blocker", "tx:<n>", "commit"
	Err    error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("dispatch: block %d aborted in %s: %v", e.Height, e.Phase, e.Err)
}

func (e *BlockError) Unwrap() error { return e.Err }

// TxError is a deterministic, consensus-relevant transaction failure:
// tx-decoder rejection, ante-handler rejection, or a message trap other
// than Timeout. It never aborts the block — it becomes the tx's
// ExecTxResult with a non-zero code.
type TxError struct {
	Stage string // "decode", "ante", "message"
	Code  uint32
	Err   error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("dispatch: tx failed at %s (code %d): %v", e.Stage, e.Code, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// QueryError describes a Query() failure. It is never returned as a Go
// error from the ABCI method — ABCI convention encodes query failures in
// ResponseQuery.Code/Log — but is used internally to classify the cause
// for logging.
type QueryError struct {
	Path string
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("dispatch: query %q failed: %v", e.Path, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ErrConfig is a fatal startup misconfiguration — e.g. genesis omits a
// required system component and no kernel-bundled default exists.
type ErrConfig struct {
	Reason string
}

func (e *ErrConfig) Error() string { return "dispatch: config error: " + e.Reason }
