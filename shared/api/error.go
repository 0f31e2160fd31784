package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Names of daemon-side exception types, as they appear in the error envelope.
const (
	ErrnameGeneric                = "QubesException"
	ErrnameVMNotFound             = "QubesVMNotFoundError"
	ErrnameVMInvalidUUID          = "QubesVMInvalidUUIDError"
	ErrnameVM                     = "QubesVMError"
	ErrnameVMInUse                = "QubesVMInUseError"
	ErrnameVMNotStarted           = "QubesVMNotStartedError"
	ErrnameVMNotRunning           = "QubesVMNotRunningError"
	ErrnameVMNotPaused            = "QubesVMNotPausedError"
	ErrnameVMNotSuspended         = "QubesVMNotSuspendedError"
	ErrnameVMNotHalted            = "QubesVMNotHaltedError"
	ErrnameVMShutdownTimeout      = "QubesVMShutdownTimeoutError"
	ErrnameNoTemplate             = "QubesNoTemplateError"
	ErrnamePoolInUse              = "QubesPoolInUseError"
	ErrnameValue                  = "QubesValueError"
	ErrnamePropertyValue          = "QubesPropertyValueError"
	ErrnameNoSuchProperty         = "QubesNoSuchPropertyError"
	ErrnameNotImplemented         = "QubesNotImplementedError"
	ErrnameBackupCancelled        = "BackupCancelledError"
	ErrnameBackupAlreadyRunning   = "BackupAlreadyRunningError"
	ErrnameBackupRestore          = "BackupRestoreError"
	ErrnameMemory                 = "QubesMemoryError"
	ErrnameFeatureNotFound        = "QubesFeatureNotFoundError"
	ErrnameTagNotFound            = "QubesTagNotFoundError"
	ErrnameLabelNotFound          = "QubesLabelNotFoundError"
	ErrnameDeviceNotAssigned      = "DeviceNotAssigned"
	ErrnameDeviceAlreadyAttached  = "DeviceAlreadyAttached"
	ErrnameDeviceAlreadyAssigned  = "DeviceAlreadyAssigned"
	ErrnameUnrecognizedDevice     = "UnrecognizedDevice"
	ErrnameUnexpectedDeviceProp   = "UnexpectedDeviceProperty"
	ErrnameStoragePool            = "StoragePoolException"
	ErrnameDaemonCommunication    = "QubesDaemonCommunicationError"
	ErrnameDaemonAccess           = "QubesDaemonAccessError"
	ErrnamePropertyAccessRejected = "QubesPropertyAccessError"
	ErrnameNotes                  = "QubesNotesError"
)

// errorParents encodes the daemon-side exception hierarchy. Every known name
// eventually links up to ErrnameGeneric.
var errorParents = map[string]string{
	ErrnameVMNotFound:             ErrnameGeneric,
	ErrnameVMInvalidUUID:          ErrnameGeneric,
	ErrnameVM:                     ErrnameGeneric,
	ErrnameVMInUse:                ErrnameVM,
	ErrnameVMNotStarted:           ErrnameVM,
	ErrnameVMNotRunning:           ErrnameVMNotStarted,
	ErrnameVMNotPaused:            ErrnameVMNotStarted,
	ErrnameVMNotSuspended:         ErrnameVM,
	ErrnameVMNotHalted:            ErrnameVM,
	ErrnameVMShutdownTimeout:      ErrnameVM,
	ErrnameNoTemplate:             ErrnameVM,
	ErrnamePoolInUse:              ErrnameGeneric,
	ErrnameValue:                  ErrnameGeneric,
	ErrnamePropertyValue:          ErrnameValue,
	ErrnameNoSuchProperty:         ErrnameGeneric,
	ErrnameNotImplemented:         ErrnameGeneric,
	ErrnameBackupCancelled:        ErrnameGeneric,
	ErrnameBackupAlreadyRunning:   ErrnameGeneric,
	ErrnameBackupRestore:          ErrnameGeneric,
	ErrnameMemory:                 ErrnameVM,
	ErrnameFeatureNotFound:        ErrnameGeneric,
	ErrnameTagNotFound:            ErrnameGeneric,
	ErrnameLabelNotFound:          ErrnameGeneric,
	ErrnameDeviceNotAssigned:      ErrnameGeneric,
	ErrnameDeviceAlreadyAttached:  ErrnameGeneric,
	ErrnameDeviceAlreadyAssigned:  ErrnameGeneric,
	ErrnameUnrecognizedDevice:     ErrnameGeneric,
	ErrnameUnexpectedDeviceProp:   ErrnameGeneric,
	ErrnameStoragePool:            ErrnameGeneric,
	ErrnameDaemonCommunication:    ErrnameGeneric,
	ErrnameDaemonAccess:           ErrnameDaemonCommunication,
	ErrnamePropertyAccessRejected: ErrnameDaemonAccess,
	ErrnameNotes:                  ErrnameGeneric,
}

// ServerError is an error explicitly reported by the daemon through the
// error response envelope. The message is rendered locally from the format
// string and arguments carried on the wire, so it matches the remote text.
type ServerError struct {
	// Name is the daemon-side exception type name.
	Name string

	msg string
}

// NewServerError builds a ServerError from the decoded error envelope
// fields. Unknown type names are preserved verbatim; they behave like the
// generic daemon exception.
func NewServerError(name string, format string, args ...string) *ServerError {
	return &ServerError{
		Name: name,
		msg:  renderFormat(format, args),
	}
}

// Error returns the rendered remote error message.
func (e *ServerError) Error() string {
	return e.msg
}

// IsA reports whether the error's remote type equals name or inherits from
// it. Unknown names are treated as direct children of the generic exception.
func (e *ServerError) IsA(name string) bool {
	current := e.Name
	for current != "" {
		if current == name {
			return true
		}

		parent, ok := errorParents[current]
		if !ok {
			if current != ErrnameGeneric {
				parent = ErrnameGeneric
			}
		}

		if parent == current {
			break
		}

		current = parent
	}

	return false
}

// renderFormat applies Python-style %-formatting with the given string
// arguments so that the rendered message reproduces the remote error text.
// Only %s, %d and %% occur in practice; any other verb consumes an argument
// and emits it verbatim.
func renderFormat(format string, args []string) string {
	var sb strings.Builder
	next := 0

	takeArg := func() string {
		if next >= len(args) {
			return ""
		}

		arg := args[next]
		next++
		return arg
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i == len(format)-1 {
			sb.WriteByte(c)
			continue
		}

		i++
		verb := format[i]
		switch verb {
		case '%':
			sb.WriteByte('%')
		case 'd':
			arg := takeArg()
			if n, err := strconv.Atoi(arg); err == nil {
				sb.WriteString(strconv.Itoa(n))
			} else {
				sb.WriteString(arg)
			}
		default:
			sb.WriteString(takeArg())
		}
	}

	return sb.String()
}

// NoResponseError indicates the daemon returned an empty response to a call.
// This usually means the call was denied by policy or failed server-side.
type NoResponseError struct {
	msg string
}

// NoResponseErrorf returns a NoResponseError with a specific message.
func NoResponseErrorf(format string, a ...any) *NoResponseError {
	return &NoResponseError{msg: fmt.Sprintf(format, a...)}
}

// Error implements the error interface.
func (e *NoResponseError) Error() string {
	if e.msg != "" {
		return e.msg
	}

	return "Got empty response from qubesd, see host-side logs for details"
}

// CommunicationError indicates a malformed response or a broken connection;
// the peer or transport is incompatible and the call is not retryable.
type CommunicationError struct {
	msg string
}

// CommunicationErrorf returns a new CommunicationError with a formatted message.
func CommunicationErrorf(format string, a ...any) *CommunicationError {
	return &CommunicationError{msg: fmt.Sprintf(format, a...)}
}

// Error implements the error interface.
func (e *CommunicationError) Error() string {
	return e.msg
}

// PropertyAccessError indicates a property could not be read or written:
// it does not exist, or access to it was denied.
type PropertyAccessError struct {
	// Property is the property name the access failed for.
	Property string
}

// Error implements the error interface.
func (e *PropertyAccessError) Error() string {
	return fmt.Sprintf("Failed to access %q property", e.Property)
}

// IsNoResponse reports whether err represents the daemon's empty-response
// condition, either detected locally or reported through the error envelope.
func IsNoResponse(err error) bool {
	var noResp *NoResponseError
	if errors.As(err, &noResp) {
		return true
	}

	var srv *ServerError
	return errors.As(err, &srv) && srv.IsA(ErrnameDaemonAccess)
}

// IsCommunicationError reports whether err is a communication-level failure.
func IsCommunicationError(err error) bool {
	var comm *CommunicationError
	if errors.As(err, &comm) {
		return true
	}

	var srv *ServerError
	return errors.As(err, &srv) && srv.IsA(ErrnameDaemonCommunication)
}

// IsPropertyAccess reports whether err is a property-access failure.
func IsPropertyAccess(err error) bool {
	var prop *PropertyAccessError
	return errors.As(err, &prop)
}

// IsServerError reports whether err (or anything it wraps) is a daemon-side
// error of the given type name, honouring the exception hierarchy.
func IsServerError(err error, name string) bool {
	var srv *ServerError
	return errors.As(err, &srv) && srv.IsA(name)
}

// IsVMNotFound reports whether err says the domain does not exist.
func IsVMNotFound(err error) bool {
	return IsServerError(err, ErrnameVMNotFound)
}

// IsVMNotHalted reports whether err says the domain is already running.
func IsVMNotHalted(err error) bool {
	return IsServerError(err, ErrnameVMNotHalted)
}

// IsVMNotRunning reports whether err says the domain is not running.
func IsVMNotRunning(err error) bool {
	return IsServerError(err, ErrnameVMNotRunning)
}
