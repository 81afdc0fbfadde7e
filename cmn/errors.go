// Package cmn provides common types, constants, and configuration for the
// repository manager, provider scheduler, and multi-range fetch engine.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrKind enumerates the stable error taxonomy of §7: every wire protocol
// code (400-501, 700-701) and every registry/cache error maps to one kind.
type ErrKind uint8

const (
	KindUnknown ErrKind = iota
	KindInvalidInput
	KindAuth
	KindResource
	KindTransient
	KindUser
	KindIntegrity
	KindPermission
	KindConfiguration
	KindInternal
)

func (k ErrKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid-input"
	case KindAuth:
		return "auth"
	case KindResource:
		return "resource"
	case KindTransient:
		return "transient"
	case KindUser:
		return "user"
	case KindIntegrity:
		return "integrity"
	case KindPermission:
		return "permission"
	case KindConfiguration:
		return "configuration"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Transient reports whether the scheduler is authorized to retry/fail-over
// on this kind (§4.3.3, §7 propagation policy).
func (k ErrKind) Transient() bool { return k == KindTransient }

// Err is the "result type carrying an error kind, a primary message, and an
// ordered list of prior causes" called for in §9. The first cause is
// preserved across Wrap; additional causes are appended, never replaced
// (§7: "Remembered history").
type Err struct {
	Kind    ErrKind
	Code    int // worker-protocol code when applicable, §6.3; 0 otherwise
	Msg     string
	History []error
}

func NewErr(kind ErrKind, code int, format string, args ...interface{}) *Err {
	return &Err{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func (e *Err) Error() string {
	if len(e.History) == 0 {
		return e.Msg
	}
	parts := make([]string, 0, len(e.History)+1)
	parts = append(parts, e.Msg)
	for _, h := range e.History {
		parts = append(parts, h.Error())
	}
	return strings.Join(parts, "; caused by: ")
}

func (e *Err) Unwrap() error {
	if len(e.History) == 0 {
		return nil
	}
	return e.History[0]
}

// Wrap appends cause to the history, preserving whatever cause was already
// first (§8.6: "fails with the first error as cause; the error's history
// contains all subsequent attempts in order").
func (e *Err) Wrap(cause error) *Err {
	if cause == nil {
		return e
	}
	e.History = append(e.History, cause)
	return e
}

// FirstCause walks a chain of *Err (as produced by mirror fail-over) and
// returns the very first error recorded, per §8.6 and §7.
func FirstCause(err error) error {
	e, ok := err.(*Err)
	if !ok || len(e.History) == 0 {
		return err
	}
	return e.History[0]
}

// Terminal errors that stop mirror iteration outright (§4.5 mirror strategy).
type RepoNoPermissionException struct{ *Err }

func NewRepoNoPermissionException(path string) *RepoNoPermissionException {
	return &RepoNoPermissionException{NewErr(KindPermission, 0, "no write permission on %s", path)}
}

type RepoAlreadyExistsException struct{ *Err }

func NewRepoAlreadyExistsException(alias string) *RepoAlreadyExistsException {
	return &RepoAlreadyExistsException{NewErr(KindConfiguration, 0, "repository %q already exists", alias)}
}

type RepoUnknownTypeException struct{ *Err }

func NewRepoUnknownTypeException(alias string) *RepoUnknownTypeException {
	return &RepoUnknownTypeException{NewErr(KindConfiguration, 0, "repository %q: unknown type", alias)}
}

type RepoException struct{ *Err }

func NewRepoException(format string, args ...interface{}) *RepoException {
	return &RepoException{NewErr(KindInternal, 0, format, args...)}
}

// ServicePluginInformalException marks a plugin-service failure the caller
// should treat as advisory rather than terminal: the plugin ran and
// produced a diagnosable condition (bad output, non-zero exit with a
// message on stderr) short of "the binary could not be executed at all".
// RefreshService catches it, retries the plugin once, and only rethrows it
// as a hard failure if the retry also fails (§9 open question: the
// original's catch-and-rethink-after-further-work path is treated here as
// a deliberate single-retry policy, not a bug).
type ServicePluginInformalException struct{ *Err }

func NewServicePluginInformalException(alias string, cause error) *ServicePluginInformalException {
	return &ServicePluginInformalException{NewErr(KindTransient, 0, "service plugin %q: %v", alias, cause)}
}

// WrapPkg adorns err with a pkg/errors stack trace the first time it is
// seen, matching the teacher's convention of stack-annotating at the
// boundary where an error first crosses a package.
func WrapPkg(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
