//go:build !darwin

package permissions

import "testing"

func TestEnsureCameraPermissionIsNoop(t *testing.T) {
	if err := EnsureCameraPermission(); err != nil {
		t.Fatalf("expected no error off macOS, got %v", err)
	}
}
