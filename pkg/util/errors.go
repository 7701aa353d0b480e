// Package util provides logging, line helpers, and the error taxonomy shared
// by sessions, transports, and the batch orchestrator.
package util

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every per-target failure classifies into exactly one of
// the kind sentinels below.
var (
	ErrConnection   = errors.New("connection failed")
	ErrAuth         = errors.New("authentication failed")
	ErrTimeout      = errors.New("operation timed out")
	ErrDevice       = errors.New("device rejected request")
	ErrTransport    = errors.New("transport failure")
	ErrCancelled    = errors.New("batch cancelled")
	ErrLifecycle    = errors.New("session not ready")
	ErrDeviceLocked = errors.New("device locked by another holder")

	// ErrUnsupported reports an operation the target's transport cannot
	// perform. It classifies as a transport error.
	ErrUnsupported = errors.New("operation not supported by transport")

	ErrValidationFailed = errors.New("validation failed")
	ErrDuplicateResult  = errors.New("duplicate result")
)

// ErrorKind names one class of per-target failure.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindConnection ErrorKind = "connection"
	KindAuth       ErrorKind = "auth"
	KindTimeout    ErrorKind = "timeout"
	KindDevice     ErrorKind = "device"
	KindTransport  ErrorKind = "transport"
	KindCancelled  ErrorKind = "cancelled"
	KindLifecycle  ErrorKind = "lifecycle"
	KindLocked     ErrorKind = "locked"
)

// Sentinel returns the sentinel error for a kind.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindAuth:
		return ErrAuth
	case KindTimeout:
		return ErrTimeout
	case KindDevice:
		return ErrDevice
	case KindCancelled:
		return ErrCancelled
	case KindLifecycle:
		return ErrLifecycle
	case KindLocked:
		return ErrDeviceLocked
	case KindNone:
		return nil
	}
	return ErrTransport
}

// Classify maps an error onto the taxonomy. Explicit kinds win over context
// errors so that a transport that already classified a failure keeps it.
// Anything unrecognised is a transport error.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var oe *OpError
	if errors.As(err, &oe) && oe.Kind != KindNone {
		return oe.Kind
	}
	switch {
	case errors.Is(err, ErrLifecycle):
		return KindLifecycle
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrDeviceLocked):
		return KindLocked
	case errors.Is(err, ErrDevice):
		return KindDevice
	case errors.Is(err, ErrConnection):
		return KindConnection
	}
	return KindTransport
}

// OpError is a classified failure of one operation against one device.
type OpError struct {
	Kind   ErrorKind
	Device string
	Op     string
	Err    error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" error during ")
		b.WriteString(e.Op)
	} else {
		b.WriteString(" error")
	}
	if e.Device != "" {
		b.WriteString(" on ")
		b.WriteString(e.Device)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is.
func (e *OpError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.Sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewOpError classifies err and wraps it with device and operation context.
// A nil err returns nil.
func NewOpError(device, op string, err error) *OpError {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		if oe.Device == device && oe.Op == op {
			return oe
		}
	}
	return &OpError{Kind: Classify(err), Device: device, Op: op, Err: err}
}

// Wrap attaches a kind to err without device context. Transports use it to
// classify failures at the point where the protocol knows what went wrong.
func Wrap(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Kind: kind, Err: err}
}

// Wrapf is Wrap with a formatted message in front of the cause.
func Wrapf(kind ErrorKind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &OpError{Kind: kind, Err: fmt.Errorf(format+": %w", append(args, err)...)}
}

// DeviceError is a rejection reported by the device itself, such as an
// rpc-error or a failed commit check.
type DeviceError struct {
	Device  string
	Message string
	Details []string
}

func (e *DeviceError) Error() string {
	msg := e.Message
	if e.Device != "" {
		msg = e.Device + ": " + msg
	}
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

func (e *DeviceError) Unwrap() error {
	return ErrDevice
}

// NewDeviceError creates a device rejection error
func NewDeviceError(device, message string, details ...string) *DeviceError {
	return &DeviceError{Device: device, Message: message, Details: details}
}

// LifecycleError reports an operation invoked on a session outside the
// ready state.
type LifecycleError struct {
	Device string
	Op     string
	State  string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s on %s: session is %s, not ready", e.Op, e.Device, e.State)
}

func (e *LifecycleError) Unwrap() error {
	return ErrLifecycle
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// Merge folds the messages of another validation error into the builder.
// Other errors are added by message.
func (v *ValidationBuilder) Merge(err error) *ValidationBuilder {
	if err == nil {
		return v
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		v.errors = append(v.errors, ve.Errors...)
		return v
	}
	v.errors = append(v.errors, err.Error())
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
