package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// CaptureDevice acquires the microphone for one recording at a time.
type CaptureDevice interface {
	EncodingInfo() EncodingInfo
	// OpenCapture acquires the microphone and starts delivering encoded chunks
	// to onAudio. The chunk slice may be reused by the device after onAudio
	// returns.
	OpenCapture(ctx context.Context, onAudio func(chunk []byte)) (CaptureStream, error)
}

// CaptureStream is a live microphone handle. Close stops every underlying
// track; calling it again is a no-op.
type CaptureStream interface {
	Close() error
}

// PlaybackDevice plays one clip at a time.
type PlaybackDevice interface {
	// Play starts playing clip and calls onEnded when the clip has been fully
	// played. onEnded is not called when Play returns an error or when
	// playback is stopped through StopPlayback.
	Play(ctx context.Context, clip Clip, onEnded func()) error
	// StopPlayback pauses and clears the current clip, if any.
	StopPlayback() error
}

type DeviceErrorKind string

const (
	DeviceNotFound         DeviceErrorKind = "not_found"
	DevicePermissionDenied DeviceErrorKind = "permission_denied"
	DeviceOther            DeviceErrorKind = "other"
)

// DeviceError reports that capture could not start.
type DeviceError struct {
	Kind DeviceErrorKind
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture device error (%s)", e.Kind)
	}
	return fmt.Sprintf("capture device error (%s): %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func NewDeviceError(kind DeviceErrorKind, err error) *DeviceError {
	return &DeviceError{Kind: kind, Err: err}
}

// ClassifyDeviceError turns a backend failure into a DeviceError. Errors that
// already are DeviceErrors are returned unchanged.
func ClassifyDeviceError(err error) *DeviceError {
	if err == nil {
		return nil
	}

	var deviceErr *DeviceError
	if errors.As(err, &deviceErr) {
		return deviceErr
	}

	if errors.Is(err, os.ErrPermission) {
		return NewDeviceError(DevicePermissionDenied, err)
	}
	if errors.Is(err, os.ErrNotExist) {
		return NewDeviceError(DeviceNotFound, err)
	}

	// Native audio backends only report these through their messages.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "access denied"), strings.Contains(msg, "not allowed"):
		return NewDeviceError(DevicePermissionDenied, err)
	case strings.Contains(msg, "no device"), strings.Contains(msg, "device not found"), strings.Contains(msg, "invalid device"):
		return NewDeviceError(DeviceNotFound, err)
	}
	return NewDeviceError(DeviceOther, err)
}

// PlaybackError reports that the environment refused to play a clip.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string { return fmt.Sprintf("playback failed: %v", e.Err) }
func (e *PlaybackError) Unwrap() error { return e.Err }
