// Package kerrors implements the structured error model shared by the Core
// orchestrator, the Worker Host and the frame transport. Every error that
// can cross the IPC boundary is a *Error: a kind tag, a human message, an
// ordered list of context notes appended as the error travels up the call
// stack, and a captured stack trace for local debugging. The whole thing
// round-trips through JSON so a Worker Host can report a failure back to
// the Core without losing the kind or the notes.
package kerrors

import (
	"fmt"
	"runtime/debug"
)

// Kind tags the category of failure. Callers on the receiving end of an
// IPC response switch on Kind rather than parsing Message.
type Kind string

const (
	// Core lifecycle.
	KindCoreSetupError     Kind = "CoreSetupError"
	KindCoreNotConfigured  Kind = "CoreNotConfigured"
	KindCoreConfigLoad     Kind = "CoreConfigLoadError"
	KindProcessAlreadyExists Kind = "ProcessAlreadyExists"
	KindProcessNotFound    Kind = "ProcessNotFound"
	KindProcessLaunchError Kind = "ProcessLaunchError"

	// Strategy registration.
	KindStrategyAlreadyRegistered Kind = "StrategyAlreadyRegistered"
	KindStrategyNotRegistered     Kind = "StrategyNotRegistered"
	KindStrategyNotFound          Kind = "StrategyNotFoundError"
	KindStrategyImportError       Kind = "KxProcessStrategyImportError"
	KindModuleLoadError           Kind = "ModuleLoadError"
	KindSchemaValidationError     Kind = "SchemaValidationError"

	// Process component registration.
	KindProcessComponentAlreadyRegistered Kind = "ProcessComponentAlreadyRegistered"
	KindComponentImportError              Kind = "ComponentImportError"
	KindComponentInitError                Kind = "ComponentInitError"

	// Worker lifecycle.
	KindWorkerAlreadyExists  Kind = "WorkerAlreadyExistsError"
	KindWorkerNotFound       Kind = "WorkerNotFoundError"
	KindWorkerInitError      Kind = "WorkerInitError"
	KindWorkerMethodCallError Kind = "WorkerMethodCallError"
	KindWorkerAlreadyStarted Kind = "WorkerAlreadyStarted"
	KindWorkerAlreadyStopped Kind = "WorkerAlreadyStopped"
	KindWorkerStoppingTimeout Kind = "WorkerStoppingTimeout"
	KindWorkerStoppingError  Kind = "WorkerStoppingError"

	// Strategy component lifecycle.
	KindStrategyComponentOpeningError Kind = "StrategyComponentOpeningError"
	KindStrategyComponentStartingError Kind = "StrategyComponentStartingError"
	KindStrategyComponentStoppingError Kind = "StrategyComponentStoppingError"
	KindStrategyComponentClosingError  Kind = "StrategyComponentClosingError"
	KindStrategyClosingError           Kind = "StrategyClosingError"

	// Transport / IPC.
	KindSocketServerEventCallbackError Kind = "SocketServerEventCallbackError"
	KindSocketClientConnectionError    Kind = "SocketClientConnectionError"
	KindSocketClientSendError          Kind = "SocketClientSendError"
	KindIpcRequestHandlerError         Kind = "IpcClientRequestHandlerError"
	KindUnknownEndpoint                Kind = "UnknownEndpoint"
	KindUnknownRid                     Kind = "UnknownRid"
	KindUnknownRequestType             Kind = "UnknownRequestType"
	KindAuthenticationFailed           Kind = "AuthenticationFailed"
	KindHandshakeError                 Kind = "HandshakeError"

	// Fallback for anything promoted from a plain Go error without a more
	// specific kind, mirroring GenericException in the source material.
	KindGeneric Kind = "GenericException"
)

// Error is the structured exception type that flows through the Core,
// the Worker Host, the transport layer, and across the wire.
type Error struct {
	Kind      Kind
	Message   string
	Notes     []string
	Traceback string
	Cause     error
}

// New creates an Error of the given kind with no cause.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Traceback: string(debug.Stack()),
	}
}

// Wrap promotes cause into an Error of the given kind, recording the
// original error's message as the first context note. This mirrors
// Exceptions.py's cast(): whatever failed underneath becomes the first
// entry in Notes, and the new Error carries its own message on top.
func Wrap(kind Kind, cause error, message string) *Error {
	e := &Error{
		Kind:      kind,
		Message:   message,
		Traceback: string(debug.Stack()),
		Cause:     cause,
	}
	if cause != nil {
		e.Notes = append(e.Notes, cause.Error())
	}
	return e
}

// AddCtx appends a context note and returns the same error, so callers can
// chain `return kerrors.AddCtx(err, "...")` as the error is returned up
// through several layers, same as the source's `e.add_ctx(...)` pattern.
func AddCtx(err error, note string) error {
	e, ok := err.(*Error)
	if !ok {
		e = Wrap(KindGeneric, err, err.Error())
	}
	e.Notes = append(e.Notes, note)
	return e
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the original cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Of returns true if err is an *Error carrying the given kind.
func Of(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
