// Copyright 2025 Certen Protocol

package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/certen/kernel/pkg/host"
)

// fakeHost is a ComponentHost double that never runs wasmtime: each
// entry point is answered by a registered Go closure keyed by
// (imagePath, entry), so dispatch's block/tx orchestration can be tested
// without a compiled component image.
type fakeHost struct {
	t   *testing.T
	fns map[string]func(req host.Request) host.Result

	invalidated []string
}

func newFakeHost(t *testing.T) *fakeHost {
	return &fakeHost{t: t, fns: make(map[string]func(req host.Request) host.Result)}
}

func (f *fakeHost) on(imagePath, entry string, fn func(req host.Request) host.Result) {
	f.fns[imagePath+"#"+entry] = fn
}

func (f *fakeHost) Invoke(req host.Request) host.Result {
	fn, ok := f.fns[req.ImagePath+"#"+req.Entry]
	if !ok {
		f.t.Fatalf("fakeHost: no handler registered for %s#%s", req.ImagePath, req.Entry)
	}
	return fn(req)
}

func (f *fakeHost) InvalidateImage(path string) {
	f.invalidated = append(f.invalidated, path)
}

// jsonResult marshals v as a successful host.Result's Output.
func jsonResult(t *testing.T, v interface{}) host.Result {
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("jsonResult: %v", err)
	}
	return host.Result{Output: b}
}
