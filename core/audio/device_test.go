package audio

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestClassifyDeviceError(t *testing.T) {
	existing := NewDeviceError(DeviceNotFound, errors.New("gone"))

	tests := []struct {
		name string
		err  error
		want DeviceErrorKind
	}{
		{name: "already classified", err: fmt.Errorf("wrapped: %w", existing), want: DeviceNotFound},
		{name: "os permission", err: fmt.Errorf("open: %w", os.ErrPermission), want: DevicePermissionDenied},
		{name: "os not exist", err: fmt.Errorf("open: %w", os.ErrNotExist), want: DeviceNotFound},
		{name: "backend permission message", err: errors.New("Permission denied by the system"), want: DevicePermissionDenied},
		{name: "backend missing device message", err: errors.New("No device available"), want: DeviceNotFound},
		{name: "anything else", err: errors.New("device busy"), want: DeviceOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyDeviceError(tt.err)
			if got == nil {
				t.Fatalf("expected a device error")
			}
			if got.Kind != tt.want {
				t.Fatalf("expected kind %q, got %q", tt.want, got.Kind)
			}
		})
	}

	if ClassifyDeviceError(nil) != nil {
		t.Fatalf("expected nil error to stay nil")
	}
}
