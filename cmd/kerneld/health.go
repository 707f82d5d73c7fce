// Copyright 2025 Certen Protocol

package main

import (
	"encoding/json"
	"sync"
	"time"
)

// healthStatus tracks the health of the kernel's own dependencies for the
// /healthz endpoint: the authenticated store, the component host, and the
// optional secondary indexer. It does not track anything about guest
// components or application semantics — those are out of the kernel's scope.
type healthStatus struct {
	mu sync.RWMutex

	Status    string `json:"status"` // "starting", "ok", "degraded"
	Store     string `json:"store"`  // "ready", "unready"
	Host      string `json:"host"`   // "ready", "unready"
	Indexer   string `json:"indexer"` // "connected", "disconnected", "disabled"
	Height    uint64 `json:"height"`
	UptimeSec int64  `json:"uptime_seconds"`
	startTime time.Time
}

func newHealthStatus() *healthStatus {
	return &healthStatus{
		Status:    "starting",
		Store:     "unready",
		Host:      "unready",
		Indexer:   "disabled",
		startTime: time.Now(),
	}
}

func (h *healthStatus) setStore(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ready {
		h.Store = "ready"
	} else {
		h.Store = "unready"
	}
	h.recompute()
}

func (h *healthStatus) setHost(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ready {
		h.Host = "ready"
	} else {
		h.Host = "unready"
	}
	h.recompute()
}

func (h *healthStatus) setIndexer(state string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Indexer = state
	h.recompute()
}

func (h *healthStatus) setHeight(height uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Height = height
}

// recompute must be called with h.mu held.
func (h *healthStatus) recompute() {
	if h.Store == "ready" && h.Host == "ready" && h.Indexer != "disconnected" {
		h.Status = "ok"
		return
	}
	h.Status = "degraded"
}

func (h *healthStatus) isOK() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Status == "ok"
}

func (h *healthStatus) toJSON() []byte {
	h.mu.Lock()
	h.UptimeSec = int64(time.Since(h.startTime).Seconds())
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	data, _ := json.Marshal(h)
	return data
}
