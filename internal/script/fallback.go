package script

import (
	"fmt"

	"github.com/rsepassi/rebuild/internal/hashtree"
)

// Func is the Go-native recipe body used by GoroutineRuntime: a plain
// function that receives a Yielder to request suspending primitives.
type Func func(y *Yielder, ctx *Context)

// Yielder is handed to a Func body; calling DependOn/DependOnAll/Sys
// blocks the calling goroutine until the scheduler resumes it with a
// result, exactly mirroring a real coroutine's yield/resume round trip.
type Yielder struct {
	reqCh  chan YieldRequest
	resCh  chan YieldResult
}

func (y *Yielder) request(req YieldRequest) YieldResult {
	y.reqCh <- req
	return <-y.resCh
}

// DependOn suspends the fiber until target is built, returning its output
// path (or propagating an error if the build failed).
func (y *Yielder) DependOn(target string) (string, error) {
	res := y.request(YieldRequest{Primitive: PrimitiveDependOn, Targets: []string{target}})
	if res.Err != nil {
		return "", res.Err
	}
	if len(res.Paths) == 0 {
		return "", nil
	}
	return res.Paths[0], nil
}

// DependOnAll suspends the fiber until every target is built.
func (y *Yielder) DependOnAll(targets []string) ([]string, error) {
	res := y.request(YieldRequest{Primitive: PrimitiveDependOnAll, Targets: targets})
	return res.Paths, res.Err
}

// Sys suspends the fiber for a subprocess run.
func (y *Yielder) Sys(req *SysRequest) (*SysResult, error) {
	res := y.request(YieldRequest{Primitive: PrimitiveSys, Sys: req})
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Sys, nil
}

// GoroutineRuntime is the resumption-token fallback mentioned in spec.md
// §9's design note: a Runtime for drivers and tests that have no
// embedded-language VM attached. Each fiber is a goroutine blocked on a
// pair of channels instead of a language-level coroutine; Resume sends a
// token (the YieldResult) across the channel and blocks until the
// goroutine either yields again or finishes, which is observably
// identical to the gopher-lua-backed Runtime from the scheduler's point
// of view.
type GoroutineRuntime struct {
	funcs map[string]Func
}

// NewGoroutineRuntime returns a runtime with no functions registered.
// Register functions directly via RegisterFunc instead of Compile, since
// there is no script source to parse.
func NewGoroutineRuntime() *GoroutineRuntime {
	return &GoroutineRuntime{funcs: make(map[string]Func)}
}

// RegisterFunc binds a Go function as the implementation of functionName,
// as if a script had called register_target against it.
func (g *GoroutineRuntime) RegisterFunc(functionName string, fn Func) {
	g.funcs[functionName] = fn
}

// Compile is a no-op for GoroutineRuntime: functions are registered
// directly via RegisterFunc. loadCtx is accepted for interface
// conformance and ignored.
func (g *GoroutineRuntime) Compile(source []byte, name string, loadCtx *Context) (Handle, error) {
	return &goroutineHandle{}, nil
}

type goroutineHandle struct{}

func (g *GoroutineRuntime) NewFiber(handle Handle, functionName string, ctx *Context) (Fiber, error) {
	fn, ok := g.funcs[functionName]
	if !ok {
		return nil, &ErrFunctionNotFound{FunctionName: functionName}
	}
	return &goroutineFiber{fn: fn, ctx: ctx}, nil
}

// FunctionHash hashes functionName itself: there is no script source to
// hash a span of, so the registered name stands in as the function's
// identity (two different Func values registered under the same name
// are indistinguishable to this runtime, same as gopher-lua's
// register_target replacing a global by name).
func (g *GoroutineRuntime) FunctionHash(handle Handle, functionName string) (hashtree.Hash, error) {
	if _, ok := g.funcs[functionName]; !ok {
		return hashtree.Hash{}, &ErrFunctionNotFound{FunctionName: functionName}
	}
	return hashtree.String(functionName), nil
}

type goroutineFiber struct {
	fn      Func
	ctx     *Context
	started bool
	y       *Yielder
	doneCh  chan error
}

func (f *goroutineFiber) Resume(res *YieldResult) (Outcome, error) {
	if !f.started {
		f.started = true
		f.y = &Yielder{reqCh: make(chan YieldRequest), resCh: make(chan YieldResult)}
		f.doneCh = make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					f.doneCh <- fmt.Errorf("script: fiber panic: %v", r)
				}
			}()
			f.fn(f.y, f.ctx)
			close(f.y.reqCh)
			f.doneCh <- nil
		}()
	} else {
		f.y.resCh <- *res
	}

	select {
	case req, ok := <-f.y.reqCh:
		if !ok {
			return Outcome{Kind: OutcomeComplete}, <-f.doneCh
		}
		return Outcome{Kind: OutcomeYield, Request: &req}, nil
	case err := <-f.doneCh:
		return Outcome{Kind: OutcomeComplete}, err
	}
}
