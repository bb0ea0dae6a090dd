package scheduler

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rsepassi/rebuild/internal/hashtree"
	"github.com/rsepassi/rebuild/internal/recipe"
	"github.com/rsepassi/rebuild/internal/script"
	"github.com/rsepassi/rebuild/internal/trace"
)

// handleYield dispatches a fiber's suspension to the right handler:
// depend_on/depend_on_all go through the dynamic-dependency handler;
// sys is dispatched to run asynchronously.
func (s *Scheduler) handleYield(r *recipe.Recipe, req *script.YieldRequest) {
	switch req.Primitive {
	case script.PrimitiveDependOn, script.PrimitiveDependOnAll:
		s.handleDependOn(r, req.Targets)
	case script.PrimitiveSys:
		s.handleSys(r, req.Sys)
	}
}

// handleDependOn implements spec.md §4.7's dynamic-dependency handler.
// For depend_on_all, each target is processed the same way; R suspends
// at most once, covering every not-yet-complete target in one
// suspension (spec.md §4.6's depend_on_all contract).
//
// Target names are never recorded in r.DeclaredDeps: that list holds
// stat-able filesystem paths for trace purposes (spec.md §4.3), and a
// bare target name like "base" is not one — os.Stat(dep) on it would
// fail at on_recipe_complete time. Waiter gating instead tracks target
// names separately via r.PendingDepTargets; resolveDepPaths converts a
// resolved target name to its output directory and is what actually
// appends to DeclaredDeps, once the path is known.
func (s *Scheduler) handleDependOn(r *recipe.Recipe, targets []string) {
	s.mu.Lock()

	var outstanding []string
	for _, target := range targets {
		if _, ok := s.Targets.Lookup(target); !ok {
			s.mu.Unlock()
			s.resolveYield(r, nil, fmt.Errorf("target not found: %q", target))
			return
		}

		// Step 2: already completed, no suspension needed.
		if _, ok := s.completed[target]; ok {
			continue
		}

		// Step 3: get_or_create_recipe(target_name).
		d := s.getOrCreateRecipeLocked(target)

		// Step 4: may have completed as part of creation's cache probe.
		if _, ok := s.completed[target]; ok {
			continue
		}

		outstanding = append(outstanding, target)

		switch d.State() {
		case recipe.Pending:
			// Step 5: push D onto the ready queue.
			s.enqueueLocked(target)
		case recipe.Running, recipe.Suspended:
			// Step 6: D already in flight; do not requeue it.
		}
	}

	if len(outstanding) == 0 {
		paths := s.resolveDepPaths(r, targets)
		s.mu.Unlock()
		s.resolveYield(r, paths, nil)
		return
	}

	// Suspend R once, waiting on every target (not just the outstanding
	// ones — resolveDepPaths needs the full, original-order list once
	// every one of them completes).
	if err := r.Transition(recipe.Running, recipe.Suspended); err != nil {
		s.mu.Unlock()
		s.failWith(r.TargetName, err)
		return
	}
	r.PendingDepTargets = targets
	for _, target := range outstanding {
		s.waiting[target] = append(s.waiting[target], r.TargetName)
	}
	s.mu.Unlock()
}

// resolveDepPaths resolves each of targets to its completed output path,
// in order, recording the resolved path (never the bare target name) as
// a declared dependency on r for trace purposes. Every entry of targets
// must already be present in s.completed. Caller must hold s.mu.
func (s *Scheduler) resolveDepPaths(r *recipe.Recipe, targets []string) []string {
	paths := make([]string, len(targets))
	for i, target := range targets {
		path := s.completed[target]
		r.AddDeclaredDep(path)
		paths[i] = path
	}
	return paths
}

// resolveYield resumes r immediately with the given result, without
// going through the ready queue — used when depend_on(_all) did not need
// to suspend at all (every target was already complete).
func (s *Scheduler) resolveYield(r *recipe.Recipe, paths []string, err error) {
	s.mu.Lock()
	s.pendingResume[r.TargetName] = &script.YieldResult{Paths: paths, Err: err}
	s.enqueueLocked(r.TargetName)
	s.mu.Unlock()
}

type sysCompletion struct {
	target string
	result *script.YieldResult
}

// handleSys runs req asynchronously on a goroutine of its own, per SPEC_FULL's
// concurrency model: the scheduler's shared state is untouched by the
// subprocess goroutine, which only computes a result and hands it back
// through s.sysResults for the single scheduler goroutine to apply.
func (s *Scheduler) handleSys(r *recipe.Recipe, req *script.SysRequest) {
	s.mu.Lock()
	if err := r.Transition(recipe.Running, recipe.Suspended); err != nil {
		s.mu.Unlock()
		s.failWith(r.TargetName, err)
		return
	}
	s.inFlight++
	cwd := req.Cwd
	if cwd == "" {
		cwd = r.TempDir
	}
	target := r.TargetName
	s.mu.Unlock()

	go s.runSysAsync(target, req, cwd)
}

// runSysAsync spawns the subprocess with an allowlist environment (the
// teacher's internal/core/executor.go convention: start from an empty
// environment, add back only the variables the caller declared) and a
// dedicated process group so the whole tree can be killed together.
func (s *Scheduler) runSysAsync(target string, req *script.SysRequest, cwd string) {
	if len(req.Argv) == 0 {
		s.sysResults <- sysCompletion{target: target, result: &script.YieldResult{Err: fmt.Errorf("sys: empty argv")}}
		return
	}
	cmd := exec.Command(req.Argv[0], req.Argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = buildAllowlistEnv(req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			s.sysResults <- sysCompletion{target: target, result: &script.YieldResult{Err: fmt.Errorf("%w: %v", os.ErrInvalid, runErr)}}
			return
		}
	}

	s.sysResults <- sysCompletion{
		target: target,
		result: &script.YieldResult{Sys: &script.SysResult{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}},
	}
}

func buildAllowlistEnv(env map[string]string) []string {
	if len(env) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// awaitSysCompletion blocks for the next async sys result and applies it:
// stores the resume value and re-queues the waiting recipe.
func (s *Scheduler) awaitSysCompletion() {
	completion := <-s.sysResults
	s.mu.Lock()
	s.inFlight--
	s.pendingResume[completion.target] = completion.result
	if r, ok := s.recipes[completion.target]; ok {
		if err := r.Transition(recipe.Suspended, recipe.Running); err == nil {
			s.enqueueLocked(completion.target)
		}
	}
	s.mu.Unlock()
}

// onRecipeComplete implements spec.md §4.7's on_recipe_complete.
func (s *Scheduler) onRecipeComplete(r *recipe.Recipe, success bool) {
	if !success {
		s.failWith(r.TargetName, fmt.Errorf("recipe failed"))
		return
	}

	s.mu.Lock()
	outputHash, err := hashtree.Tree(r.OutputDir)
	if err != nil {
		s.mu.Unlock()
		s.failWith(r.TargetName, fmt.Errorf("hash output tree: %w", err))
		return
	}

	tr := trace.Create(r.RequestKey())
	for _, dep := range r.DeclaredDeps {
		depHash, hashErr := hashDepPath(s, dep)
		if hashErr != nil {
			s.mu.Unlock()
			s.failWith(r.TargetName, fmt.Errorf("hash dependency %s: %w", dep, hashErr))
			return
		}
		tr.AddDependency(dep, depHash)
	}
	tr.OutputTreeHash = outputHash
	tr.WallMillis = uint64(time.Now().UnixMilli() - r.StartTimeMillis)

	if err := tr.Save(s.Store); err != nil {
		s.mu.Unlock()
		s.failWith(r.TargetName, fmt.Errorf("save trace: %w", err))
		return
	}

	if err := r.Transition(recipe.Running, recipe.Complete); err != nil {
		s.mu.Unlock()
		s.failWith(r.TargetName, err)
		return
	}
	s.completed[r.TargetName] = r.OutputDir
	s.executedCount++
	s.Log.Info("built", "target", r.TargetName, "wall_ms", tr.WallMillis)

	waiters := s.waiting[r.TargetName]
	delete(s.waiting, r.TargetName)
	for _, waiterName := range waiters {
		waiter, ok := s.recipes[waiterName]
		if !ok || waiter.State() != recipe.Suspended {
			continue
		}
		if !s.allDepsResolved(waiter) {
			continue
		}
		paths := s.resolveDepPaths(waiter, waiter.PendingDepTargets)
		waiter.PendingDepTargets = nil
		s.pendingResume[waiterName] = &script.YieldResult{Paths: paths}
		if err := waiter.Transition(recipe.Suspended, recipe.Running); err == nil {
			s.enqueueLocked(waiterName)
		}
	}
	s.mu.Unlock()
}

// hashDepPath hashes a recorded dependency path: a file via hash_file, a
// directory via hash_tree (spec.md §4.7's on_recipe_complete rule).
func hashDepPath(s *Scheduler, path string) (hashtree.Hash, error) {
	info, err := os.Stat(path)
	if err != nil {
		return hashtree.Hash{}, err
	}
	if info.IsDir() {
		return hashtree.Tree(path)
	}
	return hashtree.File(path)
}

// allDepsResolved reports whether every target waiter is suspended on
// (waiter.PendingDepTargets) is now in the completed map.
func (s *Scheduler) allDepsResolved(waiter *recipe.Recipe) bool {
	for _, target := range waiter.PendingDepTargets {
		if _, ok := s.completed[target]; !ok {
			return false
		}
	}
	return true
}
