package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rsepassi/rebuild/internal/buildererr"
	"github.com/rsepassi/rebuild/internal/config"
	"github.com/rsepassi/rebuild/internal/hashtree"
	"github.com/rsepassi/rebuild/internal/rbxlog"
	"github.com/rsepassi/rebuild/internal/registry"
	"github.com/rsepassi/rebuild/internal/scheduler"
	"github.com/rsepassi/rebuild/internal/script"
	"github.com/rsepassi/rebuild/internal/store"
)

// Exit codes (spec.md §6: "distinct code for build failure vs. usage
// error"; 0 on success).
const (
	ExitOK          = 0
	ExitUsageError  = 1
	ExitBuildFailed = 2
)

// ExitCode maps a runBuild error to the process exit code the spec
// requires: 0 on success, a distinct code for a usage/environment
// problem (bad CLI invocation, missing build file, unparseable config)
// versus an actual build failure (spec.md §6).
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		return ExitUsageError
	}
	return ExitBuildFailed
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func runBuild(targetArg string) error {
	log := rbxlog.New(verbose)
	hashtree.OnUnreadable = func(path string, err error) {
		log.Warn("skipping unreadable path while hashing", "path", path, "err", err)
	}
	buildID := uuid.New().String()
	log.Debug("starting build", "build_id", buildID)

	buildFilePath, err := findBuildFile()
	if err != nil {
		return &usageError{msg: err.Error()}
	}
	log.Info("found build file", "path", buildFilePath)

	projectDir := filepath.Dir(buildFilePath)
	cfg, err := config.Load(filepath.Join(projectDir, "rebuild.yml"))
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	target := targetArg
	if target == "" {
		target = cfg.DefaultTarget
	}
	if target == "" {
		return &usageError{msg: "no target specified and rebuild.yml has no default_target"}
	}

	source, err := os.ReadFile(buildFilePath)
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	s, err := store.Init()
	if err != nil {
		return fmt.Errorf("%w: %v", buildererr.ErrIoFailure, err)
	}
	log.Debug("storage initialized", "root", s.Root())

	tools := registry.NewToolRegistry("lua")
	if len(cfg.ToolDirs) > 0 {
		tools.SearchDirs = cfg.ToolDirs
	}
	targets := registry.NewTargetRegistry()
	runtime := script.NewLuaRuntime()

	sched := scheduler.New(s, tools, targets, runtime, log)
	sched.ConfigHash = cfg.Hash()
	sched.OutputRoot = filepath.Join(projectDir, "outputs")

	log.Debug("loading build file", "path", buildFilePath)
	if err := sched.LoadBuildFile(source, buildFilePath); err != nil {
		return err
	}
	log.Info("registered targets", "targets", targets.Names())

	log.Info("starting build", "target", target)
	start := time.Now()
	outputPath, buildErr := sched.Build(target)
	elapsed := time.Since(start)

	if buildErr != nil {
		log.Error("build failed", "target", target, "err", buildErr)
		return buildErr
	}

	executed, cacheHits := sched.Stats()
	log.Info("build succeeded",
		"target", target,
		"output", outputPath,
		"executed", executed,
		"cache_hits", cacheHits,
		"wall_time", elapsed,
	)
	return nil
}
