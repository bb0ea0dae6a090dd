// Package scheduler runs recipes as suspendable fibers, resolves dynamic
// dependencies, and avoids duplicate work, per spec.md §4.7.
package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rsepassi/rebuild/internal/buildererr"
	"github.com/rsepassi/rebuild/internal/hashtree"
	"github.com/rsepassi/rebuild/internal/recipe"
	"github.com/rsepassi/rebuild/internal/registry"
	"github.com/rsepassi/rebuild/internal/rbxlog"
	"github.com/rsepassi/rebuild/internal/script"
	"github.com/rsepassi/rebuild/internal/store"
	"github.com/rsepassi/rebuild/internal/trace"
)

// Scheduler owns the ready queue, waiters map, and completed map, and
// orchestrates cache probing, fiber execution, dynamic-dependency
// handling, waiter fan-out, and trace recording on success (spec.md
// §4.7).
type Scheduler struct {
	mu sync.Mutex

	Store       *store.Store
	Tools       *registry.ToolRegistry
	Targets     *registry.TargetRegistry
	Runtime     script.Runtime
	Log         *rbxlog.Logger
	ConfigHash  hashtree.Hash
	OutputRoot  string // default: "outputs" (spec.md's "outputs/<target>")

	recipes   map[string]*recipe.Recipe
	completed map[string]string   // target -> output path
	waiting   map[string][]string // target -> waiter target names

	readyQueue []string

	// pendingResume carries the YieldResult an async sys completion
	// computed, consumed by the next execute() call for that target.
	pendingResume map[string]*script.YieldResult

	buildHandle script.Handle // the compiled build file, passed to NewFiber

	failed       bool
	failedTarget string

	sysResults chan sysCompletion
	inFlight   int // number of outstanding async sys calls

	executedCount int // recipes that actually ran their fiber to completion
	cacheHitCount int // recipes resolved directly from a validated trace
}

// Stats reports how many recipes were executed versus served from the
// cache during this Scheduler's lifetime, for the CLI's post-build
// summary (SPEC_FULL.md §10).
func (s *Scheduler) Stats() (executed, cacheHits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executedCount, s.cacheHitCount
}

// New returns a Scheduler ready to accept build() calls once a build file
// has been compiled and loaded via LoadBuildFile.
func New(s *store.Store, tools *registry.ToolRegistry, targets *registry.TargetRegistry, rt script.Runtime, log *rbxlog.Logger) *Scheduler {
	targets.OnReplace = func(name string, old, new registry.TargetEntry) {
		log.Warn("target redefined", "target", name, "old_function", old.FunctionName, "new_function", new.FunctionName)
	}
	return &Scheduler{
		Store:      s,
		Tools:      tools,
		Targets:    targets,
		Runtime:    rt,
		Log:        log,
		OutputRoot: "outputs",
		recipes:       make(map[string]*recipe.Recipe),
		completed:     make(map[string]string),
		waiting:       make(map[string][]string),
		pendingResume: make(map[string]*script.YieldResult),
		sysResults:    make(chan sysCompletion, 16),
	}
}

// LoadBuildFile compiles source (named by name, for error messages),
// running its top-level statements with the scheduler bound as Host so
// register_target/log_info/log_debug calls at load time take effect
// immediately (spec.md §4.6's load-time context). The compiled handle is
// reused by every fiber the build file's targets spawn.
func (s *Scheduler) LoadBuildFile(source []byte, name string) error {
	handle, err := s.Runtime.Compile(source, name, &script.Context{Host: s})
	if err != nil {
		return fmt.Errorf("%w: %v", buildererr.ErrScriptLoadFailure, err)
	}
	s.mu.Lock()
	s.buildHandle = handle
	s.mu.Unlock()
	return nil
}

// Build runs build(T): materialize T's recipe, probe the cache, and
// either return immediately (cache hit or already completed) or drain
// the ready queue until T completes or the build fails.
func (s *Scheduler) Build(target string) (outputPath string, err error) {
	s.mu.Lock()
	if _, ok := s.Targets.Lookup(target); !ok {
		s.mu.Unlock()
		return "", buildererr.TargetNotFound(target)
	}
	r := s.getOrCreateRecipeLocked(target)
	if path, ok := s.completed[target]; ok {
		s.mu.Unlock()
		return path, nil
	}
	if r.State() != recipe.Pending {
		// Already queued/running from an earlier reference; just drain.
		s.mu.Unlock()
		return s.run(target)
	}
	s.enqueueLocked(target)
	s.mu.Unlock()
	return s.run(target)
}

// getOrCreateRecipeLocked returns the existing recipe for target, or
// creates one and immediately probes the cache for it — unifying
// build(T)'s top-level probe_cache step with the dynamic-dependency
// handler's get_or_create_recipe step, since both paths need identical
// first-reference behavior (spec.md §4.7 steps 1-3 and dynamic-dep step
// 3). Caller must hold s.mu.
func (s *Scheduler) getOrCreateRecipeLocked(target string) *recipe.Recipe {
	if r, ok := s.recipes[target]; ok {
		return r
	}
	entry, _ := s.Targets.Lookup(target)
	r := recipe.New(target, entry.CodeHash)
	r.ConfigHash = s.ConfigHash
	s.recipes[target] = r

	if s.probeCacheLocked(r) {
		s.completed[target] = r.OutputDir
	}
	return r
}

// probeCacheLocked implements probe_cache(R): compute the request key,
// load and validate the trace, and if it matches, mark R complete.
// Returns true on a cache hit.
func (s *Scheduler) probeCacheLocked(r *recipe.Recipe) bool {
	key := r.RequestKey()
	tr, err := trace.Load(key, s.Store)
	if err != nil {
		return false
	}
	if !tr.Validate() {
		return false
	}
	r.OutputDir = s.defaultOutputDir(r.TargetName)
	// The state machine has no Pending -> Complete edge, so a cache hit
	// steps through Running without ever starting a fiber.
	if err := r.Transition(recipe.Pending, recipe.Running); err != nil {
		return false
	}
	if err := r.Transition(recipe.Running, recipe.Complete); err != nil {
		return false
	}
	s.cacheHitCount++
	s.Log.Debug("cache hit", "target", r.TargetName)
	return true
}

func (s *Scheduler) defaultOutputDir(target string) string {
	return filepath.Join(s.OutputRoot, target)
}

func (s *Scheduler) enqueueLocked(target string) {
	s.readyQueue = append(s.readyQueue, target)
}

// run drains the ready queue (and any in-flight async sys completions)
// until the requested target is resolved or the build fails. It
// implements spec.md §4.7's main loop run(), generalized to report back
// the path of a specific target of interest so Build can return it.
func (s *Scheduler) run(want string) (string, error) {
	for {
		s.mu.Lock()
		if s.failed {
			failedTarget := s.failedTarget
			s.mu.Unlock()
			return "", buildererr.BuildFailure(failedTarget)
		}
		if path, ok := s.completed[want]; ok {
			s.mu.Unlock()
			return path, nil
		}
		if len(s.readyQueue) == 0 {
			if s.inFlight > 0 {
				s.mu.Unlock()
				s.awaitSysCompletion()
				continue
			}
			suspended := s.suspendedTargetsLocked()
			s.mu.Unlock()
			if len(suspended) > 0 {
				return "", buildererr.DependencyCycle(suspended)
			}
			return "", fmt.Errorf("scheduler: ready queue drained without resolving %q", want)
		}
		target := s.readyQueue[0]
		s.readyQueue = s.readyQueue[1:]
		r := s.recipes[target]
		s.mu.Unlock()

		if r.State() == recipe.Complete {
			continue // idempotent drain
		}
		s.execute(r)
	}
}

func (s *Scheduler) suspendedTargetsLocked() []string {
	var names []string
	for name, r := range s.recipes {
		if r.State() == recipe.Suspended {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// execute implements spec.md §4.7's execute(R): transition to Running,
// ensure output/temp dirs, bind the per-fiber context, and resume the
// fiber until it yields, completes, or errors.
func (s *Scheduler) execute(r *recipe.Recipe) {
	s.mu.Lock()
	if r.State() == recipe.Pending {
		if err := r.Transition(recipe.Pending, recipe.Running); err != nil {
			s.mu.Unlock()
			s.failWith(r.TargetName, err)
			return
		}
		r.StartTimeMillis = time.Now().UnixMilli()
	} else if r.State() == recipe.Suspended {
		if err := r.Transition(recipe.Suspended, recipe.Running); err != nil {
			s.mu.Unlock()
			s.failWith(r.TargetName, err)
			return
		}
	}

	if r.OutputDir == "" {
		r.OutputDir = s.defaultOutputDir(r.TargetName)
	}
	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		s.mu.Unlock()
		s.failWith(r.TargetName, fmt.Errorf("%w: create output dir: %v", buildererr.ErrIoFailure, err))
		return
	}
	if r.TempDir == "" {
		tmp, err := s.Store.TmpDir(r.TargetName, time.Now().Unix())
		if err != nil {
			s.mu.Unlock()
			s.failWith(r.TargetName, fmt.Errorf("%w: create temp dir: %v", buildererr.ErrIoFailure, err))
			return
		}
		r.TempDir = tmp
	}

	entry, _ := s.Targets.Lookup(r.TargetName)
	s.mu.Unlock()

	fiber := r.Fiber
	if fiber == nil {
		newFiber, err := s.Runtime.NewFiber(entry.ScriptHandle, entry.FunctionName, &script.Context{RecipeName: r.TargetName, Host: s})
		if err != nil {
			s.failWith(r.TargetName, fmt.Errorf("%w: %v", buildererr.ErrScriptLoadFailure, err))
			return
		}
		fiber = newFiber
		r.Fiber = fiber
	}

	s.mu.Lock()
	resumeWith := s.pendingResume[r.TargetName]
	delete(s.pendingResume, r.TargetName)
	s.mu.Unlock()

	outcome, err := fiber.(script.Fiber).Resume(resumeWith)
	if err != nil {
		s.failWith(r.TargetName, fmt.Errorf("%w: %v", buildererr.ErrScriptExecFailure, err))
		return
	}

	switch outcome.Kind {
	case script.OutcomeComplete:
		s.onRecipeComplete(r, true)
	case script.OutcomeYield:
		s.handleYield(r, outcome.Request)
	}
}

func (s *Scheduler) failWith(target string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.failed {
		s.failed = true
		s.failedTarget = target
	}
	s.Log.Error("build failed", "target", target, "err", err)
	if r, ok := s.recipes[target]; ok && r.State() == recipe.Running {
		_ = r.Transition(recipe.Running, recipe.Failed)
	}
}
