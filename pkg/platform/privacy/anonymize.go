// Package privacy reduces personal data to what fraud evidence and logs need.
package privacy

import (
	"net/netip"
	"strings"
)

// AnonymizeIP masks an address to its network prefix: /24 for IPv4 (and
// IPv4-mapped IPv6), /48 for IPv6. Reporter evidence and access logs keep
// only this form.
func AnonymizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap().WithZone("")
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}
