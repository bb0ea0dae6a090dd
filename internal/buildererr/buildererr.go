// Package buildererr defines the build engine's error taxonomy
// (spec.md §7) as wrapped sentinel errors, so call sites can dispatch on
// kind with errors.Is/errors.As while still carrying a human message.
package buildererr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIoFailure         = errors.New("io failure")
	ErrHashFailure       = errors.New("hash failure")
	ErrParseFailure      = errors.New("parse failure")
	ErrScriptLoadFailure = errors.New("script load failure")
	ErrScriptExecFailure = errors.New("script exec failure")
	ErrProcessFailure    = errors.New("process failure")
	ErrDependencyCycle   = errors.New("dependency cycle")
	ErrTargetNotFound    = errors.New("target not found")
	ErrBuildFailure      = errors.New("build failure")
)

// Error wraps one taxonomy Kind with a human message, mirroring the
// teacher corpus's GraphError: a small struct carrying a sentinel plus a
// message, satisfying Unwrap so errors.Is/As dispatch works at call
// sites (CLI exit-code mapping, cache-miss downgrades).
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

func New(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// DependencyCycle builds a DependencyCycle error naming every target
// still Suspended when the scheduler's ready queue drained — the
// explicit-detection choice pinned in SPEC_FULL.md / spec.md §9.
func DependencyCycle(suspended []string) error {
	sorted := append([]string(nil), suspended...)
	return New(ErrDependencyCycle, "targets stuck suspended: %s", strings.Join(sorted, ", "))
}

// BuildFailure reports which target first failed a build.
func BuildFailure(targetName string) error {
	return New(ErrBuildFailure, "target %q failed", targetName)
}

// TargetNotFound reports a build request for an unregistered target.
func TargetNotFound(targetName string) error {
	return New(ErrTargetNotFound, "%q", targetName)
}
