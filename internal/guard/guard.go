// Package guard validates proxy targets before any outbound connection is
// made: URL shape, shared-secret check, scheme-implied port, and DNS-resolved
// address filtering against forbidden ranges (SSRF defense).
package guard

import "net"

// ipv4Broadcast is the limited broadcast address 255.255.255.255.
var ipv4Broadcast = net.IPv4(255, 255, 255, 255)

// Forbidden classifies a resolved address. It returns a stable reason label
// and true when the address must not be fetched from: loopback, private,
// link-local, multicast, broadcast and unspecified ranges for IPv4;
// loopback, link-local, multicast and unspecified for IPv6.
func Forbidden(ip net.IP) (string, bool) {
	switch {
	case ip.IsLoopback():
		return "loopback", true
	case ip.IsPrivate():
		return "private", true
	case ip.IsLinkLocalUnicast():
		return "link_local", true
	case ip.IsMulticast():
		return "multicast", true
	case ip.To4() != nil && ip.Equal(ipv4Broadcast):
		return "broadcast", true
	case ip.IsUnspecified():
		return "unspecified", true
	}
	return "", false
}
