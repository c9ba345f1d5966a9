//go:build !darwin

package permissions

import "errors"

// ErrCameraDenied is returned when camera access has not been granted.
var ErrCameraDenied = errors.New("camera permission not granted")

// EnsureCameraPermission is a no-op on non-macOS platforms.
func EnsureCameraPermission() error {
	return nil
}
