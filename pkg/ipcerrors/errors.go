// Package ipcerrors implements the error taxonomy of spec §7: every
// operation surface (Open, Create, Attach/Wait, Notify) returns one of a
// fixed set of Kinds, wrapped with enough context (operation, service name,
// cause) for a caller to decide what to do.
package ipcerrors

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Kind enumerates the taxonomy from spec §7.
type Kind int

const (
	_ Kind = iota

	// Open
	DoesNotExist
	PermissionDenied
	EventInCorruptedState
	IncompatibleMessagingPattern
	InternalFailure
	HangsInCreation
	DoesNotSupportRequestedAmountOfNotifiers
	DoesNotSupportRequestedAmountOfListeners
	DoesNotSupportRequestedMaxEventId
	UnableToOpenDynamicServiceInformation

	// Create
	Corrupted
	IsBeingCreatedByAnotherInstance
	AlreadyExists
	UnableToCreateStaticServiceInformation
	OldConnectionsStillActive

	// Attach/Wait
	InsufficientCapacity
	AlreadyAttached
	InternalError
	InsufficientPermissions

	// Notify
	EventIdOutOfBounds

	// Registry / capacity
	ExceedsMaxSupportedListeners
	ExceedsMaxSupportedNotifiers
)

var names = map[Kind]string{
	DoesNotExist:                              "DoesNotExist",
	PermissionDenied:                          "PermissionDenied",
	EventInCorruptedState:                     "EventInCorruptedState",
	IncompatibleMessagingPattern:               "IncompatibleMessagingPattern",
	InternalFailure:                           "InternalFailure",
	HangsInCreation:                           "HangsInCreation",
	DoesNotSupportRequestedAmountOfNotifiers:  "DoesNotSupportRequestedAmountOfNotifiers",
	DoesNotSupportRequestedAmountOfListeners:  "DoesNotSupportRequestedAmountOfListeners",
	DoesNotSupportRequestedMaxEventId:         "DoesNotSupportRequestedMaxEventId",
	UnableToOpenDynamicServiceInformation:     "UnableToOpenDynamicServiceInformation",
	Corrupted:                                 "Corrupted",
	IsBeingCreatedByAnotherInstance:           "IsBeingCreatedByAnotherInstance",
	AlreadyExists:                             "AlreadyExists",
	UnableToCreateStaticServiceInformation:    "UnableToCreateStaticServiceInformation",
	OldConnectionsStillActive:                 "OldConnectionsStillActive",
	InsufficientCapacity:                      "InsufficientCapacity",
	AlreadyAttached:                           "AlreadyAttached",
	InternalError:                             "InternalError",
	InsufficientPermissions:                   "InsufficientPermissions",
	EventIdOutOfBounds:                        "EventIdOutOfBounds",
	ExceedsMaxSupportedListeners:              "ExceedsMaxSupportedListeners",
	ExceedsMaxSupportedNotifiers:              "ExceedsMaxSupportedNotifiers",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "UnknownKind"
}

// Error is the concrete error type returned across every package boundary
// in this module.
type Error struct {
	Kind        Kind
	Operation   string
	ServiceName string
	Cause       error

	// stack is populated via go-errors only for the internal class of kinds
	// (InternalFailure, InternalError, Corrupted, EventInCorruptedState; see
	// isInternal), mirroring the teacher's "only stack-trace the ones that
	// matter" main.go idiom rather than paying for a stack on every error.
	stack *goerrors.Error
}

func (e *Error) Error() string {
	if e.ServiceName != "" {
		return fmt.Sprintf("%s %q: %s", e.Operation, e.ServiceName, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ipcerrors.New(SomeKind, ...)) style comparisons
// work by Kind rather than by pointer identity.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// ErrorStack renders a captured stack trace for internal-class errors,
// mirroring the teacher's main.go `errors.Wrap(err, 0).ErrorStack()` call
// on its top-level fatal path. Returns "" for non-internal kinds.
func (e *Error) ErrorStack() string {
	if e.stack == nil {
		return ""
	}
	return e.stack.ErrorStack()
}

// New builds a tagged error for the given operation/service.
func New(kind Kind, operation, serviceName string, cause error) *Error {
	e := &Error{Kind: kind, Operation: operation, ServiceName: serviceName, Cause: cause}
	if isInternal(kind) {
		wrapped := cause
		if wrapped == nil {
			wrapped = e
		}
		e.stack = goerrors.Wrap(wrapped, 1)
	}
	return e
}

func isInternal(k Kind) bool {
	switch k {
	case InternalFailure, InternalError, Corrupted, EventInCorruptedState:
		return true
	default:
		return false
	}
}

// Of reports whether err (or something it wraps) is an *Error of kind k.
func Of(err error, k Kind) bool {
	var ie *Error
	if !goerrorsAs(err, &ie) {
		return false
	}
	return ie.Kind == k
}

func goerrorsAs(err error, target **Error) bool {
	for err != nil {
		if ie, ok := err.(*Error); ok {
			*target = ie
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
