// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for bridge and plugin failures.
const (
	CodeConstructionFailed = "CONSTRUCTION_FAILED"
	CodeFrameFailed        = "FRAME_FAILED"
	CodeProtocolError      = "PROTOCOL_ERROR"
	CodeRuntimeUnavailable = "RUNTIME_UNAVAILABLE"
	CodePoolOverload       = "POOL_OVERLOAD"
	CodeExecutorClosed     = "EXECUTOR_CLOSED"
)

// Kind groups error codes by the continuation policy the bridge applies.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	KindConstruction
	KindRuntime
	KindProtocol
	KindFatal
)

// String returns the kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindConstruction:
		return "construction"
	case KindRuntime:
		return "runtime"
	case KindProtocol:
		return "protocol"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrConstruction wraps a setup failure. The instance is never registered.
func ErrConstruction(stage string, cause error) error {
	return withKind(KindConstruction, oops.Code(CodeConstructionFailed).
		With("stage", stage).
		Wrapf(cause, "construction failed during %s", stage))
}

// ErrFrame wraps a per-frame failure. The rest of the frame is skipped.
func ErrFrame(step string, cause error) error {
	return withKind(KindRuntime, oops.Code(CodeFrameFailed).
		With("step", step).
		Wrapf(cause, "frame failed during %s", step))
}

// ErrProtocol reports an inbound message that could not be interpreted.
func ErrProtocol(reason string, payload []byte) error {
	return withKind(KindProtocol, oops.Code(CodeProtocolError).
		With("payload", truncate(payload, 256)).
		Errorf("unrecognized message: %s", reason))
}

// ErrRuntimeUnavailable reports that the task runtime could not be created.
func ErrRuntimeUnavailable(cause error) error {
	return withKind(KindFatal, oops.Code(CodeRuntimeUnavailable).
		Hint("the process cannot run plugins without a task runtime").
		Wrapf(cause, "task runtime unavailable"))
}

// ErrPoolOverload reports that a task could not be scheduled without blocking.
func ErrPoolOverload(task string, cause error) error {
	return withKind(KindRuntime, oops.Code(CodePoolOverload).
		With("task", task).
		Wrapf(cause, "cannot schedule task %s", task))
}

// ErrExecutorClosed reports use of a runtime after shutdown.
func ErrExecutorClosed(operation string) error {
	return withKind(KindRuntime, oops.Code(CodeExecutorClosed).
		With("operation", operation).
		Errorf("executor is closed"))
}

// kindError pins the kind of an error. oops reports the deepest code in a
// chain, so a construction failure caused by, say, POOL_OVERLOAD would
// otherwise classify by its cause.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

func withKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf classifies err. The outermost error built by this package decides;
// otherwise the deepest oops code does. Errors without a known code are
// treated as runtime errors, since that is the least disruptive policy.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	switch CodeOf(err) {
	case "":
		return KindRuntime
	case CodeConstructionFailed:
		return KindConstruction
	case CodeProtocolError:
		return KindProtocol
	case CodeRuntimeUnavailable:
		return KindFatal
	default:
		return KindRuntime
	}
}

// CodeOf returns the deepest oops code in err's chain, or "" if there is
// none.
func CodeOf(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
