// SPDX-License-Identifier: GPL-2.0-only

package dialect

// OSType identifies the operating system of a remote host.
type OSType string

const (
	OSLinux   OSType = "linux"
	OSWindows OSType = "windows"
	OSDarwin  OSType = "darwin"
)

// RemoteHostProfile describes the command dialect a remote host speaks.
// It is detected once per SSH session and cached for the session's lifetime.
type RemoteHostProfile struct {
	OS OSType `json:"os"`
	// HasNativeService is true when the Windows usbipd management service
	// is installed and running. Only then does the columnar usbipd dialect
	// apply; a Windows host without the service falls back to the
	// traditional usbip tool pair.
	HasNativeService bool `json:"has_native_service"`
}

// NativeService reports whether commands should use the Windows usbipd
// dialect. The native-service path is the only one that runs unprivileged.
func (p RemoteHostProfile) NativeService() bool {
	return p.OS == OSWindows && p.HasNativeService
}
