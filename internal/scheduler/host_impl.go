package scheduler

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rsepassi/rebuild/internal/hashtree"
	"github.com/rsepassi/rebuild/internal/recipe"
	"github.com/rsepassi/rebuild/internal/registry"
	"github.com/rsepassi/rebuild/internal/script"
)

// Scheduler implements script.Host: the non-suspending primitives a fiber
// calls synchronously (spec.md §4.6). Every method resolves ctx.RecipeName
// to the owning recipe under the scheduler lock before mutating it.

var _ script.Host = (*Scheduler)(nil)

func (s *Scheduler) recipeFor(ctx *script.Context) (*recipe.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipes[ctx.RecipeName]
	if !ok {
		return nil, fmt.Errorf("scheduler: no recipe for %q", ctx.RecipeName)
	}
	return r, nil
}

// RegisterDep implements register_dep(path): add path to the calling
// recipe's declared dependency set (spec.md §4.6).
func (s *Scheduler) RegisterDep(ctx *script.Context, path string) error {
	r, err := s.recipeFor(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	r.AddDeclaredDep(path)
	s.mu.Unlock()
	return nil
}

// Glob implements glob(pattern): a plain filesystem glob, relative to the
// current working directory (spec.md §4.6). It does not register a
// dependency on the matched paths — callers must register_dep explicitly.
func (s *Scheduler) Glob(ctx *script.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("scheduler: glob %q: %w", pattern, err)
	}
	return matches, nil
}

// HashFile implements hash_file(path): hash a single file and return its
// hex digest, without registering it as a dependency.
func (s *Scheduler) HashFile(ctx *script.Context, path string) (string, error) {
	h, err := hashtree.File(path)
	if err != nil {
		return "", fmt.Errorf("scheduler: hash_file %s: %w", path, err)
	}
	return h.HexEncode(), nil
}

// DepTool implements deptool(name): resolve name via the tool registry,
// fold its (module_hash, binary_hash) into the calling recipe's request
// key inputs, and return a handle script code can invoke (spec.md §4.5,
// §4.6).
func (s *Scheduler) DepTool(ctx *script.Context, name string) (script.ToolHandle, error) {
	r, err := s.recipeFor(ctx)
	if err != nil {
		return script.ToolHandle{}, err
	}
	tool, err := s.Tools.Load(name)
	if err != nil {
		var notFound *registry.ErrToolNotFound
		if errors.As(err, &notFound) {
			return script.ToolHandle{}, err
		}
		return script.ToolHandle{}, fmt.Errorf("scheduler: load tool %q: %w", name, err)
	}

	s.mu.Lock()
	r.AddLoadedTool(recipe.ToolHashes{ModuleHash: tool.ModuleHash, BinaryHash: tool.BinaryHash})
	s.mu.Unlock()

	return script.ToolHandle{Name: tool.Name, BinaryPath: tool.BinaryPath}, nil
}

// RegisterTarget implements register_target(name, function_name): record
// the mapping in the shared target registry, along with a hash of the
// function's own body rather than the whole build file, so editing one
// target never invalidates its siblings' request keys (spec.md §4.4 step
// 1, §4.6). Called during build-file load, before any fiber exists —
// ctx.RecipeName is unused here.
func (s *Scheduler) RegisterTarget(ctx *script.Context, name, functionName string) error {
	s.mu.Lock()
	handle := s.buildHandle
	s.mu.Unlock()

	codeHash, err := s.Runtime.FunctionHash(handle, functionName)
	if err != nil {
		return fmt.Errorf("scheduler: register_target %q: %w", name, err)
	}
	s.Targets.Register(name, registry.TargetEntry{FunctionName: functionName, ScriptHandle: handle, CodeHash: codeHash})
	return nil
}

// LogInfo implements log_info(msg).
func (s *Scheduler) LogInfo(ctx *script.Context, msg string) {
	s.Log.Info(msg, "target", ctx.RecipeName)
}

// LogDebug implements log_debug(msg).
func (s *Scheduler) LogDebug(ctx *script.Context, msg string) {
	s.Log.Debug(msg, "target", ctx.RecipeName)
}
