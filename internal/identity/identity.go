// Package identity derives the abuse-tracking key for a caller and checks
// allow-list membership.
package identity

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// FromRequest extracts the caller identity: the first entry of the
// X-Forwarded-For header when present, else X-Real-IP, else the transport
// peer address with any port stripped. IPv4-mapped IPv6 forms are normalised
// to plain IPv4 so a caller cannot split its ledger across notations.
func FromRequest(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return normalize(strings.TrimSpace(fwd))
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return normalize(real)
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return normalize(strings.TrimSpace(r.RemoteAddr))
	}
	return normalize(host)
}

func normalize(s string) string {
	if ip := net.ParseIP(s); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4.String()
		}
		return ip.String()
	}
	return s
}

// AllowList is a set of exempt identities, expressed as IPs or CIDRs.
// Membership exempts a caller from all strike, throttle, and cost logic.
type AllowList struct {
	nets []*net.IPNet
}

// ParseAllowList parses IP and CIDR entries into an AllowList. Single IPs are
// widened to /32 or /128. Empty entries are skipped.
func ParseAllowList(entries []string) (*AllowList, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("invalid allowlist entry %q", e)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			e = fmt.Sprintf("%s/%d", ip.String(), bits)
		}
		_, cidr, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist CIDR %q: %w", e, err)
		}
		nets = append(nets, cidr)
	}
	return &AllowList{nets: nets}, nil
}

// Contains reports whether id falls inside any allow-list entry.
// Non-IP identities are never allow-listed.
func (a *AllowList) Contains(id string) bool {
	if a == nil {
		return false
	}
	ip := net.ParseIP(id)
	if ip == nil {
		return false
	}
	for _, n := range a.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Len reports the number of allow-list entries.
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.nets)
}
