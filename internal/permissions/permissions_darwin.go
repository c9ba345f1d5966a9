//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int checkCameraPermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeVideo];
    return (int)status;
}

void requestCameraPermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeVideo completionHandler:^(BOOL granted) {}];
}
*/
import "C"

import (
	"errors"
	"fmt"
)

const (
	PermissionNotDetermined = 0
	PermissionRestricted    = 1
	PermissionDenied        = 2
	PermissionAuthorized    = 3
)

// ErrCameraDenied is returned when camera access has not been granted.
var ErrCameraDenied = errors.New("camera permission not granted")

// CheckCamera returns the current camera permission status
func CheckCamera() int {
	return int(C.checkCameraPermission())
}

// RequestCamera triggers the system camera permission dialog
func RequestCamera() {
	C.requestCameraPermission()
}

// EnsureCameraPermission checks camera access and, if it is undecided,
// triggers the system prompt. It returns ErrCameraDenied until the user
// has approved access.
func EnsureCameraPermission() error {
	switch status := CheckCamera(); status {
	case PermissionAuthorized:
		return nil
	case PermissionNotDetermined:
		RequestCamera()
		return fmt.Errorf("%w: approve the prompt and restart", ErrCameraDenied)
	default:
		return fmt.Errorf("%w: enable it in System Settings → Privacy & Security → Camera (status %d)", ErrCameraDenied, status)
	}
}
