// SPDX-License-Identifier: GPL-2.0-only

// Package dialect resolves logical USB/IP operations (list, bind, unbind,
// attach, detach) into the concrete command shape a given host understands.
// All identifier validation lives here: a busid that fails the identity
// grammar is rejected before any command text exists, which is the sole
// injection defense for values interpolated into a remote shell.
package dialect

import (
	"net/netip"
	"regexp"
	"strings"

	"github.com/efficientgo/core/errors"
	"k8s.io/apimachinery/pkg/util/validation"
)

// ErrInvalidIdentity is returned when a bus identifier does not match the
// identity grammar. No command is ever constructed from such input.
var ErrInvalidIdentity = errors.New("invalid bus identifier")

const maxBusIDLen = 20

var (
	busIDPattern    = regexp.MustCompile(`^[0-9]+-[0-9]+(\.[0-9]+)*$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// ValidBusID reports whether busid matches the identity grammar N-N[.N]*
// and does not exceed the length bound.
func ValidBusID(busid string) bool {
	if busid == "" || len(busid) > maxBusIDLen {
		return false
	}
	return busIDPattern.MatchString(busid)
}

// ValidHost accepts IP addresses and DNS-1123 subdomains.
func ValidHost(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return true
	}
	return len(validation.IsDNS1123Subdomain(host)) == 0
}

// ValidUsername reports whether name is acceptable as an SSH login name.
func ValidUsername(name string) bool {
	if name == "" || len(name) > 32 {
		return false
	}
	return usernamePattern.MatchString(name)
}

// CommandSpec is an executable unit produced by the resolver. Argv is the
// local exec form, Line the remote shell form; exactly one is populated
// depending on which constructor built the spec. Elevate marks commands
// that need sudo (or Administrator) wrapping; the executor applies the
// wrapping at run time so no secret ever appears in a spec. Display is the
// form safe to log.
type CommandSpec struct {
	Argv    []string
	Line    string
	Elevate bool
	Display string
}

func remoteSpec(line string, elevate bool) CommandSpec {
	display := line
	if elevate {
		display = "sudo " + line
	}
	return CommandSpec{Line: line, Elevate: elevate, Display: display}
}

func localSpec(elevate bool, argv ...string) CommandSpec {
	display := strings.Join(argv, " ")
	if elevate {
		display = "sudo " + display
	}
	return CommandSpec{Argv: argv, Elevate: elevate, Display: display}
}

// ListCommand returns the remote shared-device listing command for profile.
func ListCommand(profile RemoteHostProfile) CommandSpec {
	if profile.NativeService() {
		return remoteSpec("usbipd list", false)
	}
	return remoteSpec("usbip list -l", false)
}

// BindCommand returns the remote bind command for busid, or
// ErrInvalidIdentity when busid violates the identity grammar.
func BindCommand(profile RemoteHostProfile, busid string) (CommandSpec, error) {
	if !ValidBusID(busid) {
		return CommandSpec{}, errors.Wrapf(ErrInvalidIdentity, "bind %q", busid)
	}
	if profile.NativeService() {
		return remoteSpec("usbipd bind --busid "+busid, false), nil
	}
	return remoteSpec("usbip bind -b "+busid, true), nil
}

// UnbindCommand returns the remote unbind command for busid, or
// ErrInvalidIdentity when busid violates the identity grammar.
func UnbindCommand(profile RemoteHostProfile, busid string) (CommandSpec, error) {
	if !ValidBusID(busid) {
		return CommandSpec{}, errors.Wrapf(ErrInvalidIdentity, "unbind %q", busid)
	}
	if profile.NativeService() {
		return remoteSpec("usbipd unbind --busid "+busid, false), nil
	}
	return remoteSpec("usbip unbind -b "+busid, true), nil
}

// RemoteListCommand lists the devices host exports, run from the local
// machine with the usbip client tool.
func RemoteListCommand(host string) (CommandSpec, error) {
	if !ValidHost(host) {
		return CommandSpec{}, errors.Newf("invalid host %q", host)
	}
	return localSpec(false, "usbip", "list", "-r", host), nil
}

// PortListCommand reports the local virtual port status.
func PortListCommand() CommandSpec {
	return localSpec(false, "usbip", "port")
}

// AttachCommand pulls busid from host into the local USB stack.
func AttachCommand(host, busid string) (CommandSpec, error) {
	if !ValidHost(host) {
		return CommandSpec{}, errors.Newf("invalid host %q", host)
	}
	if !ValidBusID(busid) {
		return CommandSpec{}, errors.Wrapf(ErrInvalidIdentity, "attach %q", busid)
	}
	return localSpec(true, "usbip", "attach", "-r", host, "-b", busid), nil
}

// DetachCommand releases the device on the given local port.
func DetachCommand(port string) (CommandSpec, error) {
	for _, r := range port {
		if r < '0' || r > '9' {
			return CommandSpec{}, errors.Newf("invalid port %q", port)
		}
	}
	if port == "" {
		return CommandSpec{}, errors.New("invalid empty port")
	}
	return localSpec(true, "usbip", "detach", "-p", port), nil
}

// ServiceRestartCommand restarts the sharing daemon on a remote host.
func ServiceRestartCommand(profile RemoteHostProfile) CommandSpec {
	if profile.OS == OSWindows {
		return remoteSpec("sc stop usbipd & sc start usbipd", false)
	}
	return remoteSpec("systemctl restart usbipd", true)
}

// ServiceStatusCommand queries the sharing daemon state on a remote host.
func ServiceStatusCommand(profile RemoteHostProfile) CommandSpec {
	if profile.OS == OSWindows {
		return remoteSpec("sc query usbipd", false)
	}
	return remoteSpec("systemctl status usbipd", true)
}
