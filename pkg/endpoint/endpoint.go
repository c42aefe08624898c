// Package endpoint parses a configured Target (host:port) and resolves it
// to one or more concrete, dialable Endpoints. Grounded in the original
// implementation's types/target.rs (rsplit_once(':') parsing, so IPv6
// literals like "[::1]:443" keep their brackets inside host) and
// store/endpoint.rs (IP-literal short circuit vs A+AAAA lookup).
package endpoint

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/netwatch/tls-certificate-exporter/pkg/apperror"
)

// Target is a configured host:port pair, prior to DNS resolution.
type Target struct {
	Host string
	Port uint16
}

// String renders the target the way it was addressed.
func (t Target) String() string {
	if strings.Contains(t.Host, ":") {
		return fmt.Sprintf("[%s]:%d", t.Host, t.Port)
	}
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// ParseTarget splits "host:port" on the right-most colon, so that an IPv6
// literal written as "[::1]:443" or a bare "::1:443" does not confuse the
// port split.
func ParseTarget(s string) (Target, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return Target{}, apperror.Newf(apperror.InvalidEndpoint, "%q has no port", s)
	}

	host := strings.TrimSuffix(strings.TrimPrefix(s[:idx], "["), "]")
	portStr := s[idx+1:]

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Target{}, apperror.Newf(apperror.InvalidEndpoint, "%q has an invalid port", s)
	}
	if host == "" {
		return Target{}, apperror.Newf(apperror.InvalidEndpoint, "%q has an empty host", s)
	}

	return Target{Host: host, Port: uint16(port)}, nil
}

// Endpoint is one concrete, dialable address derived from a Target: a
// socket address plus the server name to present for SNI / hostname
// verification (the dial target's original name, even when the socket
// address is one of several resolved IPs).
type Endpoint struct {
	SockAddr   netAddr
	ServerName string
}

// netAddr avoids importing net.TCPAddr's mutability concerns while still
// giving callers a real address to dial.
type netAddr struct {
	IP   net.IP
	Port uint16
}

// Address returns the dialable "ip:port" string.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.SockAddr.IP.String(), strconv.Itoa(int(e.SockAddr.Port)))
}

// String matches the original's Display impl: "addr(server_name)" when the
// server name is a DNS name, plain "addr" for IP-literal targets.
func (e Endpoint) String() string {
	addr := e.Address()
	if net.ParseIP(e.ServerName) != nil {
		return addr
	}
	return fmt.Sprintf("%s(%s)", addr, e.ServerName)
}

// Resolver resolves Targets to Endpoints. The zero value uses net.DefaultResolver.
type Resolver struct {
	res *net.Resolver
}

// NewResolver returns a Resolver backed by the given net.Resolver, or the
// package default when r is nil.
func NewResolver(r *net.Resolver) Resolver {
	return Resolver{res: r}
}

// Resolve produces one Endpoint per resolved address. If host is an IP
// literal, it short-circuits to a single Endpoint with no DNS lookup, and
// the server name is the literal itself. Otherwise it performs an A+AAAA
// lookup against ctx's deadline and emits one Endpoint per returned
// address, all sharing the DNS name as server name. A resolver error is
// reported as apperror.ResolveError; zero results as apperror.ResolveEmpty.
func (r Resolver) Resolve(ctx context.Context, t Target) ([]Endpoint, error) {
	if ip := net.ParseIP(t.Host); ip != nil {
		return []Endpoint{{
			SockAddr:   netAddr{IP: ip, Port: t.Port},
			ServerName: ip.String(),
		}}, nil
	}

	resolver := r.res
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	addrs, err := resolver.LookupIPAddr(ctx, t.Host)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperror.New(apperror.ResolveTimeout, err)
		}
		return nil, apperror.New(apperror.ResolveError, err)
	}
	if len(addrs) == 0 {
		return nil, apperror.Newf(apperror.ResolveEmpty, "no addresses for %q", t.Host)
	}

	endpoints := make([]Endpoint, 0, len(addrs))
	for _, a := range addrs {
		endpoints = append(endpoints, Endpoint{
			SockAddr:   netAddr{IP: a.IP, Port: t.Port},
			ServerName: t.Host,
		})
	}
	return endpoints, nil
}
