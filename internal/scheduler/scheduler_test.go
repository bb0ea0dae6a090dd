package scheduler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsepassi/rebuild/internal/buildererr"
	"github.com/rsepassi/rebuild/internal/rbxlog"
	"github.com/rsepassi/rebuild/internal/registry"
	"github.com/rsepassi/rebuild/internal/script"
	"github.com/rsepassi/rebuild/internal/store"
)

// newTestScheduler wires up a Scheduler backed by an isolated store and
// the goroutine-based Runtime, so tests exercise the real dynamic-
// dependency and trace-recording logic without any Lua dependency.
func newTestScheduler(t *testing.T) (*Scheduler, *script.GoroutineRuntime) {
	t.Helper()
	s, err := store.InitAt(t.TempDir())
	require.NoError(t, err)

	rt := script.NewGoroutineRuntime()
	targets := registry.NewTargetRegistry()
	tools := registry.NewToolRegistry("")
	log := rbxlog.New(false)

	sched := New(s, tools, targets, rt, log)
	sched.OutputRoot = t.TempDir()
	return sched, rt
}

func registerSimple(t *testing.T, sched *Scheduler, rt *script.GoroutineRuntime, target, fn string, body script.Func) {
	t.Helper()
	rt.RegisterFunc(fn, body)
	err := sched.RegisterTarget(&script.Context{}, target, fn)
	require.NoError(t, err)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildSimpleTargetSucceeds(t *testing.T) {
	sched, rt := newTestScheduler(t)
	registerSimple(t, sched, rt, "leaf", "do_leaf", func(y *script.Yielder, ctx *script.Context) {
		ctx.Host.LogInfo(ctx, "building leaf")
	})

	out, err := sched.Build("leaf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sched.OutputRoot, "leaf"), out)

	r := sched.recipes["leaf"]
	require.NotNil(t, r)
	assert.Equal(t, "leaf", r.TargetName)
}

func TestBuildUnknownTargetReturnsTargetNotFound(t *testing.T) {
	sched, _ := newTestScheduler(t)
	_, err := sched.Build("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, buildererr.ErrTargetNotFound))
}

func TestBuildDependencyChainResolvesInOrder(t *testing.T) {
	sched, rt := newTestScheduler(t)

	registerSimple(t, sched, rt, "base", "do_base", func(y *script.Yielder, ctx *script.Context) {})
	registerSimple(t, sched, rt, "top", "do_top", func(y *script.Yielder, ctx *script.Context) {
		path, err := y.DependOn("base")
		if err != nil {
			return
		}
		ctx.Host.LogInfo(ctx, "depends on "+path)
	})

	out, err := sched.Build("top")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sched.OutputRoot, "top"), out)

	baseOut, ok := sched.completed["base"]
	require.True(t, ok)
	assert.Equal(t, filepath.Join(sched.OutputRoot, "base"), baseOut)
}

func TestBuildDependOnAllFansOutToMultipleWaiters(t *testing.T) {
	sched, rt := newTestScheduler(t)

	registerSimple(t, sched, rt, "a", "do_a", func(y *script.Yielder, ctx *script.Context) {})
	registerSimple(t, sched, rt, "b", "do_b", func(y *script.Yielder, ctx *script.Context) {})
	registerSimple(t, sched, rt, "both", "do_both", func(y *script.Yielder, ctx *script.Context) {
		paths, err := y.DependOnAll([]string{"a", "b"})
		if err != nil {
			return
		}
		if len(paths) != 2 {
			panic("expected 2 paths")
		}
	})

	out, err := sched.Build("both")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sched.OutputRoot, "both"), out)
}

func TestBuildFailurePropagatesAndStopsWaiters(t *testing.T) {
	sched, rt := newTestScheduler(t)

	registerSimple(t, sched, rt, "boom", "do_boom", func(y *script.Yielder, ctx *script.Context) {
		panic("deliberate failure")
	})
	registerSimple(t, sched, rt, "dependent", "do_dependent", func(y *script.Yielder, ctx *script.Context) {
		_, _ = y.DependOn("boom")
	})

	_, err := sched.Build("dependent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, buildererr.ErrBuildFailure))

	_, ok := sched.completed["dependent"]
	assert.False(t, ok)
}

func TestBuildCacheHitSkipsExecution(t *testing.T) {
	sched, rt := newTestScheduler(t)

	ran := 0
	registerSimple(t, sched, rt, "cached", "do_cached", func(y *script.Yielder, ctx *script.Context) {
		ran++
	})

	out1, err := sched.Build("cached")
	require.NoError(t, err)
	assert.Equal(t, 1, ran)

	// Build the same target again under a brand-new scheduler sharing the
	// same store: a cache hit should complete without invoking the body.
	sched2, rt2 := newTestScheduler(t)
	sched2.Store = sched.Store
	sched2.OutputRoot = sched.OutputRoot
	ran2 := 0
	registerSimple(t, sched2, rt2, "cached", "do_cached", func(y *script.Yielder, ctx *script.Context) {
		ran2++
	})

	out2, err := sched2.Build("cached")
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
	assert.Equal(t, 0, ran2, "cache hit must not re-run the recipe body")
}

func TestBuildSysSubprocessRunsAndResumes(t *testing.T) {
	sched, rt := newTestScheduler(t)

	var exitCode int
	registerSimple(t, sched, rt, "echoer", "do_echo", func(y *script.Yielder, ctx *script.Context) {
		res, err := y.Sys(&script.SysRequest{Argv: []string{"true"}})
		if err != nil {
			return
		}
		exitCode = res.ExitCode
	})

	_, err := sched.Build("echoer")
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
}

func TestBuildCycleIsDetected(t *testing.T) {
	sched, rt := newTestScheduler(t)

	registerSimple(t, sched, rt, "a", "do_a", func(y *script.Yielder, ctx *script.Context) {
		_, _ = y.DependOn("b")
	})
	registerSimple(t, sched, rt, "b", "do_b", func(y *script.Yielder, ctx *script.Context) {
		_, _ = y.DependOn("a")
	})

	_, err := sched.Build("a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, buildererr.ErrDependencyCycle))
}

func TestRegisterDepAddsDeclaredDependency(t *testing.T) {
	sched, rt := newTestScheduler(t)
	dir := t.TempDir()
	input := writeFile(t, dir, "input.txt", "hello")

	registerSimple(t, sched, rt, "withdep", "do_withdep", func(y *script.Yielder, ctx *script.Context) {
		if err := ctx.Host.RegisterDep(ctx, input); err != nil {
			panic(err)
		}
	})

	_, err := sched.Build("withdep")
	require.NoError(t, err)

	r := sched.recipes["withdep"]
	require.NotNil(t, r)
	assert.Contains(t, r.DeclaredDeps, input)
}
