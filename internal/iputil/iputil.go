// Package iputil holds pure IP address and CIDR helpers used on the
// block-check hot path. All functions are total: malformed input yields
// false, never a panic or an error.
package iputil

import (
	"net"
	"strconv"
	"strings"
)

// IsValidIPAddress reports whether s is a syntactically valid IPv4 or
// IPv6 literal.
func IsValidIPAddress(s string) bool {
	return net.ParseIP(s) != nil
}

// IsValidCIDR reports whether s is either a bare valid address (treated
// as a single-host range) or address/prefixLength with the prefix inside
// the bit width of the address family.
func IsValidCIDR(s string) bool {
	if !strings.Contains(s, "/") {
		return IsValidIPAddress(s)
	}
	parts := strings.SplitN(s, "/", 2)
	prefix, err := strconv.Atoi(parts[1])
	if err != nil || prefix < 0 {
		return false
	}
	ip := net.ParseIP(parts[0])
	if ip == nil {
		return false
	}
	bits := 128
	if ip.To4() != nil {
		bits = 32
	}
	return prefix <= bits
}

// IsInCIDRRange reports whether ipStr falls inside rangeExpr. A range
// without a "/" matches only the exact address. Mixed address families
// never match.
func IsInCIDRRange(ipStr, rangeExpr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	if !strings.Contains(rangeExpr, "/") {
		base := net.ParseIP(rangeExpr)
		return base != nil && ip.Equal(base)
	}

	parts := strings.SplitN(rangeExpr, "/", 2)
	prefix, err := strconv.Atoi(parts[1])
	if err != nil || prefix < 0 {
		return false
	}
	base := net.ParseIP(parts[0])
	if base == nil {
		return false
	}

	ip4, base4 := ip.To4(), base.To4()
	if (ip4 == nil) != (base4 == nil) {
		return false
	}

	bits := 128
	if ip4 != nil {
		ip, base, bits = ip4, base4, 32
	}
	if prefix > bits {
		return false
	}

	mask := net.CIDRMask(prefix, bits)
	return ip.Mask(mask).Equal(base.Mask(mask))
}
