// Package egress is the SSRF-safety collaborator: it vets every
// operator-supplied outbound URL before anything on the network is touched.
package egress

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"

	"github.com/vapormail/vapormail/pkg/domain"
)

// cgnatRange is 100.64.0.0/10, used by carrier-grade NAT deployments and
// not covered by netip's private checks.
var cgnatRange = netip.MustParsePrefix("100.64.0.0/10")

type Validator struct {
	resolver *net.Resolver
}

func NewValidator() *Validator {
	return &Validator{resolver: net.DefaultResolver}
}

// ValidateEgressURL accepts absolute http(s) URLs whose host, after DNS
// resolution, points only at public unicast addresses. Literal IPs are
// checked directly; hostnames are re-validated against every resolved
// address so a split-horizon record cannot smuggle a private target past
// the check.
func (v *Validator) ValidateEgressURL(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEgressRejected, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q is not allowed", domain.ErrEgressRejected, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: url has no host", domain.ErrEgressRejected)
	}

	if addr, parseErr := netip.ParseAddr(host); parseErr == nil {
		if reason := blockedAddrReason(addr); reason != "" {
			return "", fmt.Errorf("%w: %s address %s", domain.ErrEgressRejected, reason, addr)
		}

		return parsed.String(), nil
	}

	addrs, err := v.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return "", fmt.Errorf("%w: failed to resolve %q: %v", domain.ErrEgressRejected, host, err)
	}

	if len(addrs) == 0 {
		return "", fmt.Errorf("%w: %q resolves to no addresses", domain.ErrEgressRejected, host)
	}

	for _, addr := range addrs {
		if reason := blockedAddrReason(addr); reason != "" {
			return "", fmt.Errorf("%w: %q resolves to %s address %s", domain.ErrEgressRejected, host, reason, addr)
		}
	}

	return parsed.String(), nil
}

func blockedAddrReason(addr netip.Addr) string {
	addr = addr.Unmap()

	switch {
	case addr.IsLoopback():
		return "loopback"
	case addr.IsPrivate():
		return "private"
	case addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast():
		return "link-local"
	case addr.IsUnspecified():
		return "unspecified"
	case addr.IsMulticast():
		return "multicast"
	case cgnatRange.Contains(addr):
		return "carrier-grade NAT"
	default:
		return ""
	}
}
