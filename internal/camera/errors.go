package camera

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// AccessErrorKind classifies camera acquisition failures.
type AccessErrorKind int

const (
	PermissionDenied AccessErrorKind = iota + 1
	NotFound
	Aborted
	NotReadable
	NoCameraAvailable
)

func (k AccessErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission denied"
	case NotFound:
		return "not found"
	case Aborted:
		return "aborted"
	case NotReadable:
		return "not readable"
	case NoCameraAvailable:
		return "no camera available"
	}
	return fmt.Sprintf("AccessErrorKind(%d)", int(k))
}

// AccessError is returned by camera-facing operations. It matches
// errors.Is against another *AccessError of the same Kind.
type AccessError struct {
	Kind   AccessErrorKind
	Device string
	Err    error
}

func (e *AccessError) Error() string {
	msg := "camera " + e.Kind.String()
	if e.Device != "" {
		msg += " (" + e.Device + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AccessError) Unwrap() error { return e.Err }

// Is reports whether target is an *AccessError of the same kind.
func (e *AccessError) Is(target error) bool {
	t, ok := target.(*AccessError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrPermissionDenied  = &AccessError{Kind: PermissionDenied}
	ErrNotFound          = &AccessError{Kind: NotFound}
	ErrAborted           = &AccessError{Kind: Aborted}
	ErrNotReadable       = &AccessError{Kind: NotReadable}
	ErrNoCameraAvailable = &AccessError{Kind: NoCameraAvailable}

	ErrTorchUnsupported = errors.New("torch not supported by the active camera")
	ErrManagerClosed    = errors.New("camera manager closed")
)

// classify maps an error from opening or probing a device to an AccessError.
func classify(device string, err error) *AccessError {
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae
	}
	kind := NotReadable
	switch {
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		kind = PermissionDenied
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENODEV):
		kind = NotFound
	}
	return &AccessError{Kind: kind, Device: device, Err: err}
}

// busy reports whether err means another process holds the device.
func busy(err error) bool {
	return errors.Is(err, syscall.EBUSY)
}
