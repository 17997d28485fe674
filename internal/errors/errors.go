// Package errors provides the error type shared by the vector engine, the
// evaluation bridge and the scripting host.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind classifies a failure so callers can react without parsing messages.
type Kind int

const (
	// KindUnknown is the zero Kind, used for errors that were never classified.
	KindUnknown Kind = iota
	// KindLoad means the host, its algebra library or the model failed to load,
	// or the model's returned unit is not a structured value.
	KindLoad
	// KindContract means a required operation or field is missing on the model
	// or on its result.
	KindContract
	// KindEvaluation means the model raised an error while running. The host
	// message is carried through verbatim.
	KindEvaluation
	// KindShape means extracted values do not have the expected vector shapes.
	KindShape
	// KindUsage means a caller broke a precondition (bad size, mismatched
	// lengths, invalid range, index out of bounds, wrong session state).
	KindUsage
)

// String returns the name used in logs and API responses.
func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "LoadError"
	case KindContract:
		return "ContractError"
	case KindEvaluation:
		return "EvaluationError"
	case KindShape:
		return "ShapeError"
	case KindUsage:
		return "UsageError"
	default:
		return "Error"
	}
}

// Error represents an error with a kind, context and stack trace.
type Error struct {
	// Kind classifies the failure
	Kind Kind
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// The component or package where the error occurred
	Component string
	// The stack trace
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var builder strings.Builder

	if e.Message != "" {
		builder.WriteString(e.Message)
	}

	if e.Operation != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString("operation=")
		builder.WriteString(e.Operation)
	}

	if e.Component != "" {
		if builder.Len() > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString("component=")
		builder.WriteString(e.Component)
	}

	if e.Err != nil {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Err.Error())
	}

	return builder.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOperation sets the operation.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent sets the component.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// New creates a new error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{
		Kind:    kind,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// Errorf creates a new error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Stack:   getStackTrace(),
	}
}

// Wrap wraps err as an error of the given kind. If err is already an *Error
// its kind is kept unless it was never classified.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if !stderrors.As(err, &e) || e.Message != "" && msg != "" {
		e = &Error{
			Kind:  kind,
			Err:   err,
			Stack: getStackTrace(),
		}
	}
	if e.Kind == KindUnknown {
		e.Kind = kind
	}
	if msg != "" {
		e.Message = msg
	}

	return e
}

// Wrapf wraps err with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(kind, err, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, getStackTrace, and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if err's
// type contains an Unwrap method returning error.
// Otherwise, Unwrap returns nil.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}
