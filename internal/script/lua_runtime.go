package script

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// yieldTag is the first value every suspending host primitive yields with,
// identifying which primitive suspended so the resuming fiber's caller
// (the scheduler) knows how to decode the rest.
const (
	yieldTagDependOn    = "depend_on"
	yieldTagDependOnAll = "depend_on_all"
	yieldTagSys         = "sys"
)

// LuaRuntime is the Script Runtime Contract implementation backed by
// gopher-lua. Its native coroutines are used directly as fibers: a
// suspending host primitive calls LState.Yield, which unwinds back to the
// scheduler's Resume call exactly like a script-level coroutine.yield.
type LuaRuntime struct {
	root *lua.LState

	mu       sync.Mutex
	contexts map[*lua.LState]*Context
}

// NewLuaRuntime returns a Runtime with the host primitive surface
// (depend_on, depend_on_all, sys, register_dep, glob, hash_file,
// deptool, register_target, log_info, log_debug) registered as globals.
func NewLuaRuntime() *LuaRuntime {
	r := &LuaRuntime{
		root:     lua.NewState(),
		contexts: make(map[*lua.LState]*Context),
	}
	registerHostFunctions(r)
	return r
}

// contextFor returns the Context bound to the coroutine L is executing
// in, falling back to nil if none was bound (a programming error in the
// caller, not in script code).
func (r *LuaRuntime) contextFor(l *lua.LState) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contexts[l]
}

func (r *LuaRuntime) bindContext(l *lua.LState, ctx *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts[l] = ctx
}

func (r *LuaRuntime) unbindContext(l *lua.LState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contexts, l)
}

// Compile loads and runs source's top-level statements against the shared
// root state, which is where register_target calls take effect. loadCtx
// is bound on the root state for the duration of the run so that
// load-time host calls (register_target, log_info/log_debug) resolve.
func (r *LuaRuntime) Compile(source []byte, name string, loadCtx *Context) (Handle, error) {
	fn, err := r.root.LoadString(string(source))
	if err != nil {
		return nil, fmt.Errorf("script: compile %s: %w", name, err)
	}
	r.bindContext(r.root, loadCtx)
	defer r.unbindContext(r.root)

	r.root.Push(fn)
	if err := r.root.PCall(0, lua.MultRet, nil); err != nil {
		return nil, fmt.Errorf("script: load %s: %w", name, err)
	}
	return &luaHandle{name: name}, nil
}

type luaHandle struct {
	name string
}

// NewFiber looks up functionName as a global and returns a Fiber that
// runs it on a fresh coroutine, with ctx bound for the lifetime of that
// coroutine.
func (r *LuaRuntime) NewFiber(handle Handle, functionName string, ctx *Context) (Fiber, error) {
	fnVal := r.root.GetGlobal(functionName)
	fn, ok := fnVal.(*lua.LFunction)
	if !ok {
		return nil, &ErrFunctionNotFound{FunctionName: functionName}
	}

	co, cancel := r.root.NewThread()
	r.bindContext(co, ctx)

	return &luaFiber{
		runtime: r,
		co:      co,
		cancel:  cancel,
		fn:      fn,
	}, nil
}

type luaFiber struct {
	runtime *LuaRuntime
	co      *lua.LState
	cancel  func()
	fn      *lua.LFunction
	started bool
}

// Resume advances the underlying coroutine one step.
func (f *luaFiber) Resume(res *YieldResult) (Outcome, error) {
	args := encodeYieldResult(res)

	var st lua.ResumeState
	var err error
	var rets []lua.LValue
	if !f.started {
		f.started = true
		st, err, rets = f.runtime.root.Resume(f.co, f.fn, args...)
	} else {
		st, err, rets = f.runtime.root.Resume(f.co, nil, args...)
	}

	switch st {
	case lua.ResumeYield:
		req, decodeErr := decodeYieldRequest(rets)
		if decodeErr != nil {
			return Outcome{}, decodeErr
		}
		return Outcome{Kind: OutcomeYield, Request: req}, nil
	case lua.ResumeError:
		f.runtime.unbindContext(f.co)
		f.cancel()
		return Outcome{}, fmt.Errorf("script: fiber error: %w", err)
	default: // lua.ResumeOK
		f.runtime.unbindContext(f.co)
		f.cancel()
		return Outcome{Kind: OutcomeComplete}, nil
	}
}

func encodeYieldResult(res *YieldResult) []lua.LValue {
	if res == nil {
		return nil
	}
	if res.Err != nil {
		return []lua.LValue{lua.LString(""), lua.LString(res.Err.Error())}
	}
	if res.Sys != nil {
		return []lua.LValue{
			lua.LNumber(res.Sys.ExitCode),
			lua.LString(res.Sys.Stdout),
			lua.LString(res.Sys.Stderr),
		}
	}
	tbl := &lua.LTable{}
	for _, p := range res.Paths {
		tbl.Append(lua.LString(p))
	}
	return []lua.LValue{tbl, lua.LNil}
}

func decodeYieldRequest(vals []lua.LValue) (*YieldRequest, error) {
	if len(vals) == 0 {
		return nil, fmt.Errorf("script: yield with no request tag")
	}
	tag, ok := vals[0].(lua.LString)
	if !ok {
		return nil, fmt.Errorf("script: yield request tag is not a string")
	}

	switch string(tag) {
	case yieldTagDependOn:
		if len(vals) < 2 {
			return nil, fmt.Errorf("script: depend_on yield missing target")
		}
		return &YieldRequest{Primitive: PrimitiveDependOn, Targets: []string{string(vals[1].(lua.LString))}}, nil
	case yieldTagDependOnAll:
		if len(vals) < 2 {
			return nil, fmt.Errorf("script: depend_on_all yield missing targets")
		}
		tbl, ok := vals[1].(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("script: depend_on_all yield targets is not a table")
		}
		var targets []string
		tbl.ForEach(func(_, v lua.LValue) {
			targets = append(targets, v.String())
		})
		return &YieldRequest{Primitive: PrimitiveDependOnAll, Targets: targets}, nil
	case yieldTagSys:
		if len(vals) < 2 {
			return nil, fmt.Errorf("script: sys yield missing request")
		}
		tbl, ok := vals[1].(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("script: sys yield request is not a table")
		}
		return &YieldRequest{Primitive: PrimitiveSys, Sys: decodeSysRequest(tbl)}, nil
	default:
		return nil, fmt.Errorf("script: unknown yield tag %q", string(tag))
	}
}

func decodeSysRequest(tbl *lua.LTable) *SysRequest {
	req := &SysRequest{}
	argvTbl, ok := tbl.RawGetString("argv").(*lua.LTable)
	if ok {
		argvTbl.ForEach(func(_, v lua.LValue) {
			req.Argv = append(req.Argv, v.String())
		})
	}
	if cwd, ok := tbl.RawGetString("cwd").(lua.LString); ok {
		req.Cwd = string(cwd)
	}
	if envTbl, ok := tbl.RawGetString("env").(*lua.LTable); ok {
		req.Env = make(map[string]string)
		envTbl.ForEach(func(k, v lua.LValue) {
			req.Env[k.String()] = v.String()
		})
	}
	return req
}
