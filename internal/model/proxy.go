// Package model defines shared types for the proxy.
package model

import "net"

// ProxyRequest is the client's request as parsed from the /proxy query string.
// Both fields must be non-empty before any network action is taken.
type ProxyRequest struct {
	TargetURL string
	Key       string
}

// ResolvedTarget is a validated fetch target: scheme, host, the port implied
// by the scheme, and every address the host resolved to. Created once per
// request by the validator and immutable afterwards.
type ResolvedTarget struct {
	Scheme string
	Host   string
	Port   uint16
	Addrs  []net.IP
}

// Fetched is the raw upstream response body and its content type.
type Fetched struct {
	Body        []byte
	ContentType string
}

// ProxyResult is the composed body for a successful proxy request.
// BinaryPassthrough marks bodies that did not parse as a playlist and are
// relayed byte-for-byte with Accept-Ranges set.
type ProxyResult struct {
	ContentType       string
	Body              []byte
	BinaryPassthrough bool
}
