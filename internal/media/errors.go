package media

import (
	"errors"
	"fmt"
)

type DeviceErrorKind string

const (
	KindPermissionDenied DeviceErrorKind = "permission_denied"
	KindNotFound         DeviceErrorKind = "not_found"
	KindHardwareBusy     DeviceErrorKind = "hardware_busy"
	KindUnknown          DeviceErrorKind = "unknown"
)

var (
	ErrPermissionDenied = errors.New("media: permission denied")
	ErrDeviceNotFound   = errors.New("media: device not found")
	ErrHardwareBusy     = errors.New("media: hardware busy")

	ErrNoLocalStream = errors.New("media: no local stream")
	ErrReleased      = errors.New("media: controller released")
)

// DeviceError is a recoverable capture failure surfaced to the user.
type DeviceError struct {
	Kind DeviceErrorKind
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media: device error: %s", e.Kind)
	}
	return fmt.Sprintf("media: device error: %s: %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func (e *DeviceError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Kind == KindPermissionDenied
	case ErrDeviceNotFound:
		return e.Kind == KindNotFound
	case ErrHardwareBusy:
		return e.Kind == KindHardwareBusy
	}
	return false
}

// asDeviceError keeps a provider's *DeviceError and classifies anything else.
func asDeviceError(err error) error {
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return &DeviceError{Kind: KindPermissionDenied, Err: err}
	case errors.Is(err, ErrDeviceNotFound):
		return &DeviceError{Kind: KindNotFound, Err: err}
	case errors.Is(err, ErrHardwareBusy):
		return &DeviceError{Kind: KindHardwareBusy, Err: err}
	}
	return &DeviceError{Kind: KindUnknown, Err: err}
}
