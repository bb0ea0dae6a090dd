// Package script implements the Script Bridge: the minimal contract the
// scheduler requires from a scripting runtime that supports cooperative
// suspension and foreign-function calls (spec.md §4.6), plus a concrete
// gopher-lua-backed runtime satisfying it.
package script

import (
	"fmt"

	"github.com/rsepassi/rebuild/internal/hashtree"
)

// Handle is an opaque compiled-script handle returned by Runtime.Compile.
type Handle interface{}

// Context is the per-fiber context the scheduler binds before resuming a
// fiber: it identifies the current recipe and gives host primitives
// somewhere to dispatch non-suspending calls. Host functions consult this,
// never a global (spec.md §4.6).
type Context struct {
	RecipeName string
	Host       Host
}

// ToolHandle is the value returned to script code by the deptool
// primitive.
type ToolHandle struct {
	Name       string
	BinaryPath string
}

// Host is consulted by a Runtime for primitives that do not suspend the
// calling fiber: register_dep, glob, hash_file, deptool, register_target,
// log_info, log_debug (spec.md §4.6's non-suspending primitives). The
// scheduler implements Host.
type Host interface {
	RegisterDep(ctx *Context, path string) error
	Glob(ctx *Context, pattern string) ([]string, error)
	HashFile(ctx *Context, path string) (string, error)
	DepTool(ctx *Context, name string) (ToolHandle, error)
	RegisterTarget(ctx *Context, name, functionName string) error
	LogInfo(ctx *Context, msg string)
	LogDebug(ctx *Context, msg string)
}

// SysRequest is the argument to a sys yield: spawn argv with an optional
// cwd/env override.
type SysRequest struct {
	Argv []string
	Cwd  string
	Env  map[string]string
}

// SysResult is what a sys call resumes the fiber with.
type SysResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Primitive names a suspending host primitive a fiber has yielded on.
type Primitive int

const (
	PrimitiveDependOn Primitive = iota
	PrimitiveDependOnAll
	PrimitiveSys
)

func (p Primitive) String() string {
	switch p {
	case PrimitiveDependOn:
		return "depend_on"
	case PrimitiveDependOnAll:
		return "depend_on_all"
	case PrimitiveSys:
		return "sys"
	default:
		return "unknown"
	}
}

// YieldRequest describes a suspending host call a fiber yielded on
// (depend_on, depend_on_all, or sys — the only primitives spec.md §5
// marks as suspension points).
type YieldRequest struct {
	Primitive Primitive
	Targets   []string    // for PrimitiveDependOn / PrimitiveDependOnAll
	Sys       *SysRequest // for PrimitiveSys
}

// YieldResult is what the scheduler resumes a suspended fiber with.
type YieldResult struct {
	Paths []string // for PrimitiveDependOn / PrimitiveDependOnAll
	Sys   *SysResult
	Err   error
}

// OutcomeKind distinguishes the two ways Fiber.Resume can return control
// to the scheduler.
type OutcomeKind int

const (
	OutcomeYield OutcomeKind = iota
	OutcomeComplete
)

// Outcome is the result of resuming a fiber one step.
type Outcome struct {
	Kind    OutcomeKind
	Request *YieldRequest // set iff Kind == OutcomeYield
}

// Fiber is a cooperatively scheduled, suspendable call to a target
// function. Fibers are not required to be OS threads; they need only
// support resume and yield-to-host semantics (spec.md §4.6).
type Fiber interface {
	// Resume advances the fiber. On the very first call res must be nil;
	// on subsequent calls (after an OutcomeYield) res carries the result
	// of the suspended primitive.
	Resume(res *YieldResult) (Outcome, error)
}

// Runtime abstracts a scripting runtime: compiling a script from source,
// and running a named function as a fiber bound to a per-fiber Context.
// The scheduler is written against this interface, never against a
// concrete runtime, per spec.md §4.6's "the core only requires it meets
// the Script Runtime Contract".
type Runtime interface {
	// Compile loads source (identified by name, for error messages) and
	// runs its top-level statements, which typically call
	// register_target to populate the target registry. loadCtx is bound
	// as the active context for the duration of that top-level run, since
	// register_target (and log_info/log_debug) may be called before any
	// fiber exists.
	Compile(source []byte, name string, loadCtx *Context) (Handle, error)

	// NewFiber returns a Fiber that, once resumed, calls functionName
	// (previously registered against handle) with ctx bound as its
	// per-fiber context.
	NewFiber(handle Handle, functionName string, ctx *Context) (Fiber, error)

	// FunctionHash returns a hash over the function named functionName,
	// defined within handle, for use as a recipe's CodeHash (spec.md
	// §4.4 step 1's "hash of the script that defines this target's
	// function" — scoped to the function itself, not the whole script,
	// so editing one target's body never invalidates its siblings').
	FunctionHash(handle Handle, functionName string) (hashtree.Hash, error)
}

// ErrFunctionNotFound is returned by NewFiber when functionName has no
// corresponding callable defined by the compiled script.
type ErrFunctionNotFound struct {
	FunctionName string
}

func (e *ErrFunctionNotFound) Error() string {
	return fmt.Sprintf("script: function not found: %q", e.FunctionName)
}
