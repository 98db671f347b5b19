// Package modulehost executes AgentOS reducer and pure modules in a
// sandboxed, single-threaded, deterministic VM. Module source is Lua,
// loaded by CAS hash, via github.com/yuin/gopher-lua: a module's chunk
// defines a global `step(input)` function, called once per invocation
// with the envelope converted to a Lua table and its return value
// converted back. The no-ambient-I/O, no-clock, no-randomness,
// single-threaded, and wall-clock-timeout guarantees are enforced by
// which Lua standard libraries are opened and by a context deadline on
// the VM.
package modulehost

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/smartcomputer-ai/agentos/cas"
)

// Host loads and executes modules by CAS hash.
type Host struct {
	store   cas.Store
	cache   *lru.Cache[string, *lua.FunctionProto]
	timeout time.Duration
}

// NewHost builds a Host. cacheSize bounds the number of compiled module
// bytecode artefacts kept resident; it is purely an accelerator — a
// cache miss just recompiles from the CAS-stored source.
func NewHost(store cas.Store, cacheSize int, timeout time.Duration) (*Host, error) {
	c, err := lru.New[string, *lua.FunctionProto](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("modulehost: building compile cache: %w", err)
	}
	return &Host{store: store, cache: c, timeout: timeout}, nil
}

// loadProto fetches and compiles the module source at moduleHash,
// consulting the bytecode cache first.
func (h *Host) loadProto(moduleHash string) (*lua.FunctionProto, error) {
	if proto, ok := h.cache.Get(moduleHash); ok {
		return proto, nil
	}

	src, err := h.store.GetBlob(moduleHash)
	if err != nil {
		return nil, fmt.Errorf("modulehost: loading module %s: %w", moduleHash, err)
	}

	chunk, err := lua.Parse(strings.NewReader(string(src)), moduleHash)
	if err != nil {
		return nil, &ModuleTrap{Module: moduleHash, Reason: "parse error: " + err.Error()}
	}
	proto, err := lua.Compile(chunk, moduleHash)
	if err != nil {
		return nil, &ModuleTrap{Module: moduleHash, Reason: "compile error: " + err.Error()}
	}

	h.cache.Add(moduleHash, proto)
	return proto, nil
}

// newSandbox builds a fresh *lua.LState with only base/table/string/math
// opened — no os, no io, no package/debug/channel libraries — and strips
// the handful of ambient-clock/randomness globals those libraries would
// otherwise expose. A fresh VM per call keeps invocations from leaking
// state into one another, matching the "single-threaded within a call"
// execution model.
func newSandbox(ctx context.Context) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, open := range []lua.LGFunction{lua.OpenBase, lua.OpenTable, lua.OpenString, lua.OpenMath} {
		open(L)
	}

	// Remove ambient I/O and nondeterminism surfaced by the base/math libs.
	L.SetGlobal("print", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("collectgarbage", lua.LNil)
	if mathTbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		mathTbl.RawSetString("random", lua.LNil)
		mathTbl.RawSetString("randomseed", lua.LNil)
	}

	L.SetContext(ctx)
	return L
}

// runStep compiles (or reuses) the module at moduleHash, runs its chunk in
// a fresh sandbox, calls its `step` global with input, and returns the
// converted result. Panics inside the VM are recovered into *ModuleTrap.
func (h *Host) runStep(moduleHash string, input interface{}) (result interface{}, err error) {
	proto, err := h.loadProto(moduleHash)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	L := newSandbox(ctx)
	defer L.Close()

	defer func() {
		if r := recover(); r != nil {
			err = &ModuleTrap{Module: moduleHash, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()

	fn := L.NewFunctionFromProto(proto)
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return nil, &ModuleTrap{Module: moduleHash, Reason: "chunk execution: " + err.Error()}
	}

	stepFn, ok := L.GetGlobal("step").(*lua.LFunction)
	if !ok {
		return nil, &ModuleTrap{Module: moduleHash, Reason: "module does not define a global step(input) function"}
	}

	inputLV, err := toLua(L, input)
	if err != nil {
		return nil, &ModuleTrap{Module: moduleHash, Reason: err.Error()}
	}

	if err := L.CallByParam(lua.P{Fn: stepFn, NRet: 1, Protect: true}, inputLV); err != nil {
		if ctx.Err() != nil {
			return nil, &ModuleTrap{Module: moduleHash, Reason: "wall-clock timeout exceeded"}
		}
		return nil, &ModuleTrap{Module: moduleHash, Reason: "step() error: " + err.Error()}
	}

	ret := L.Get(-1)
	L.Pop(1)
	return fromLua(ret), nil
}

// RunReducer invokes a reducer module, enforcing ABI version monotonicity
// and the module's declared effects_emitted allowlist.
func (h *Host) RunReducer(moduleHash string, def ReducerModuleDef, in ReducerInput) (*ReducerOutput, error) {
	envelope := map[string]interface{}{
		"version": float64(in.Version),
		"state":   in.State,
		"event":   in.Event,
		"ctx":     toGenericMap(in.Ctx),
	}

	raw, err := h.runStep(moduleHash, envelope)
	if err != nil {
		return nil, err
	}

	m, err := asMap(raw, "reducer output")
	if err != nil {
		return nil, &ModuleTrap{Module: moduleHash, Reason: err.Error()}
	}

	outVersion := asInt(m, "version", in.Version)
	if outVersion < in.Version {
		return nil, &ErrVersionRegression{Module: moduleHash, InputVersion: in.Version, OutputVersion: outVersion}
	}

	out := &ReducerOutput{Version: outVersion, State: m["state"], Ann: m["ann"]}

	if des, ok := m["domain_events"].([]interface{}); ok {
		out.DomainEvents = des
	}

	if effs, ok := m["effects"].([]interface{}); ok {
		for _, e := range effs {
			em, err := asMap(e, "effect entry")
			if err != nil {
				return nil, &ModuleTrap{Module: moduleHash, Reason: err.Error()}
			}
			kind, _ := asString(em, "kind")
			capSlot, _ := asString(em, "cap_slot")
			if !def.allows(kind) {
				return nil, &ErrUnsupportedEffectKind{Module: moduleHash, Kind: kind}
			}
			out.Effects = append(out.Effects, EmittedEffect{Kind: kind, Params: em["params"], CapSlot: capSlot})
		}
	}

	return out, nil
}

// RunPure invokes a pure module: input -> output, no state, no effects.
func (h *Host) RunPure(moduleHash string, in PureInput) (*PureOutput, error) {
	envelope := map[string]interface{}{
		"version": float64(in.Version),
		"input":   in.Input,
		"ctx":     in.Ctx,
	}

	raw, err := h.runStep(moduleHash, envelope)
	if err != nil {
		return nil, err
	}

	m, err := asMap(raw, "pure output")
	if err != nil {
		return nil, &ModuleTrap{Module: moduleHash, Reason: err.Error()}
	}

	return &PureOutput{Version: asInt(m, "version", in.Version), Output: m["output"]}, nil
}

func toGenericMap(m map[string]interface{}) interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
