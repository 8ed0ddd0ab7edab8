package ops

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/bdrman/bdrman/pkg/gateway"
)

var (
	containerNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,127}$`)
	serviceNameRe   = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9@._:-]{0,127}$`)
	backupFileRe    = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,254}$`)
	vpnClientRe     = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)
)

var (
	containerActions = map[string]bool{"start": true, "stop": true, "restart": true}
	serviceActions   = map[string]bool{"start": true, "stop": true, "restart": true, "status": true}
)

func invalid(kind, value string) error {
	return fmt.Errorf("%s %q: %w", kind, value, gateway.ErrInvalidArgument)
}

func ValidateContainerName(name string) error {
	if !containerNameRe.MatchString(name) {
		return invalid("container name", name)
	}
	return nil
}

func ValidateServiceName(name string) error {
	if !serviceNameRe.MatchString(name) {
		return invalid("service name", name)
	}
	return nil
}

// ValidateBackupFile accepts a bare file name; anything resembling a path is rejected.
func ValidateBackupFile(name string) error {
	if !backupFileRe.MatchString(name) || strings.Contains(name, "..") {
		return invalid("backup file", name)
	}
	return nil
}

func ValidateVPNClient(name string) error {
	if !vpnClientRe.MatchString(name) {
		return invalid("vpn client", name)
	}
	return nil
}

// ParseIP returns the canonical text form of a literal IPv4 or IPv6 address.
func ParseIP(s string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil || addr.Zone() != "" {
		return "", invalid("ip address", s)
	}
	return addr.Unmap().String(), nil
}

func validateContainerAction(action string) error {
	if !containerActions[action] {
		return invalid("container action", action)
	}
	return nil
}

func validateServiceAction(action string) error {
	if !serviceActions[action] {
		return invalid("service action", action)
	}
	return nil
}
