// Package prober dials resolved endpoints, drives the TLS (and, where
// configured, STARTTLS) handshake, and classifies the outcome against the
// certificate the intercepting verifier captured. Grounded in the
// original implementation's prober.rs control flow and in
// other_examples' auucnn-cf-edgescout prober's per-endpoint Measurement
// result shape.
package prober

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/netwatch/tls-certificate-exporter/internal/starttls"
	"github.com/netwatch/tls-certificate-exporter/pkg/apperror"
	"github.com/netwatch/tls-certificate-exporter/pkg/certmodel"
	"github.com/netwatch/tls-certificate-exporter/pkg/endpoint"
	"github.com/netwatch/tls-certificate-exporter/pkg/filecache"
	"github.com/netwatch/tls-certificate-exporter/pkg/profile"
	"github.com/netwatch/tls-certificate-exporter/pkg/prober/verifier"
)

// Outcome classifies how a single endpoint probe ended.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeHandshakeFailed
	OutcomeConnectError
	OutcomeUnknown
)

// ProbeResult is the outcome of probing one Endpoint.
type ProbeResult struct {
	Endpoint     endpoint.Endpoint
	Outcome      Outcome
	ErrorText    string
	Certificates []*certmodel.Certificate
}

// Dialer abstracts net.Dialer so tests can substitute a fake transport.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober drives handshakes for one resolved profile's parameters.
type Prober struct {
	Dialer Dialer
	Cache  *filecache.Cache

	// DefaultRoots, when set, is used in place of the system trust store
	// for any probe whose resolved profile does not configure its own
	// trusted_anchors — the global "trusted_anchors" config list
	// augmenting the platform web-PKI roots per spec.
	DefaultRoots *x509.CertPool
}

// New returns a Prober using a standard net.Dialer and the given file cache.
func New(cache *filecache.Cache) *Prober {
	return &Prober{Dialer: &net.Dialer{}, Cache: cache}
}

// Probe resolves target's endpoints within timeout, then probes each one
// concurrently. It does not short-circuit on one endpoint's failure — all
// results (successes and failures alike) are returned. A resolution
// failure aborts the whole target with the resolver's apperror.
func (p *Prober) Probe(ctx context.Context, resolver endpoint.Resolver, target endpoint.Target, params profile.ResolvedModuleProfile) ([]ProbeResult, error) {
	resolveCtx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	endpoints, err := resolver.Resolve(resolveCtx, target)
	if err != nil {
		return nil, err
	}

	results := make([]ProbeResult, len(endpoints))
	var wg sync.WaitGroup
	wg.Add(len(endpoints))
	for i, ep := range endpoints {
		i, ep := i, ep
		go func() {
			defer wg.Done()
			results[i] = p.probeEndpoint(ctx, ep, params)
		}()
	}
	wg.Wait()

	return results, nil
}

// probeEndpoint implements the single-endpoint handshake-and-classify
// sequence. It never returns a Go error — every outcome, including
// connect-level failures, is encoded in the returned ProbeResult so that
// one endpoint's failure never aborts the others.
func (p *Prober) probeEndpoint(ctx context.Context, ep endpoint.Endpoint, params profile.ResolvedModuleProfile) ProbeResult {
	result := ProbeResult{Endpoint: ep}

	tlsConfig, v, err := p.buildTLSConfig(ctx, ep, params)
	if err != nil {
		result.Outcome = OutcomeConnectError
		result.ErrorText = strings.ToLower(err.Error())
		return result
	}

	dialCtx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	conn, err := p.Dialer.DialContext(dialCtx, "tcp", ep.Address())
	if err != nil {
		result.Outcome = OutcomeConnectError
		result.ErrorText = strings.ToLower(err.Error())
		return result
	}
	defer conn.Close()

	if params.StartTLS != nil {
		deadline, ok := dialCtx.Deadline()
		if ok {
			_ = conn.SetDeadline(deadline)
		}
		if err := starttls.Upgrade(conn, starttls.Dialect(*params.StartTLS)); err != nil {
			result.Outcome = OutcomeConnectError
			result.ErrorText = strings.ToLower(err.Error())
			return result
		}
		_ = conn.SetDeadline(time.Time{})
	}

	tlsConn := tls.Client(conn, tlsConfig)
	handshakeErr := tlsConn.HandshakeContext(dialCtx)

	chain := v.TakeChain()

	switch {
	case len(chain) > 0 && handshakeErr == nil:
		result.Outcome = OutcomeOK
	case len(chain) > 0 && handshakeErr != nil:
		result.Outcome = OutcomeHandshakeFailed
		result.ErrorText = strings.ToLower(handshakeErr.Error())
	case len(chain) == 0 && handshakeErr != nil:
		result.Outcome = OutcomeConnectError
		result.ErrorText = strings.ToLower(handshakeErr.Error())
		return result
	default: // chain absent, handshake reported success: should not occur
		result.Outcome = OutcomeUnknown
		result.ErrorText = "handshake succeeded without a captured certificate chain"
		return result
	}

	rawChain := make([][]byte, len(chain))
	for i, c := range chain {
		rawChain[i] = c.Raw
	}
	certs, err := certmodel.ParseChain(rawChain)
	if err != nil {
		result.Outcome = OutcomeUnknown
		result.ErrorText = strings.ToLower(apperror.New(apperror.CertificateParse, err).Error())
		return result
	}
	result.Certificates = certs

	return result
}

// buildTLSConfig resolves trust anchors, client certificate, and server
// name for params, then wires a fresh intercepting verifier into a
// tls.Config for this handshake attempt.
func (p *Prober) buildTLSConfig(ctx context.Context, ep endpoint.Endpoint, params profile.ResolvedModuleProfile) (*tls.Config, *verifier.Verifier, error) {
	roots, err := p.loadTrustAnchors(ctx, params)
	if err != nil {
		return nil, nil, err
	}

	serverName := ep.ServerName
	if params.ServerName != nil {
		serverName = *params.ServerName
	}

	v := verifier.New(roots, serverName, params.InsecureSkipVerify)

	conf := &tls.Config{ServerName: serverName}
	v.ConfigureClient(conf)

	if params.Certs != nil && params.Key != nil {
		cert, err := p.loadClientCert(ctx, params)
		if err != nil {
			return nil, nil, err
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	return conf, v, nil
}

func (p *Prober) loadTrustAnchors(ctx context.Context, params profile.ResolvedModuleProfile) (*x509.CertPool, error) {
	if params.TrustedAnchors.Content != nil {
		v, err := filecache.Inline(filecache.KindTrustAnchors, params.TrustedAnchors.Content)
		if err != nil {
			return nil, err
		}
		return v.(*x509.CertPool), nil
	}
	if params.TrustedAnchors.Path == "" {
		return p.DefaultRoots, nil
	}
	return p.Cache.TrustAnchors(ctx, params.TrustedAnchors.Path)
}

func (p *Prober) loadClientCert(ctx context.Context, params profile.ResolvedModuleProfile) (tls.Certificate, error) {
	if params.Certs.Content != nil && params.Key.Content != nil {
		chainVal, err := filecache.Inline(filecache.KindCertificateChain, params.Certs.Content)
		if err != nil {
			return tls.Certificate{}, err
		}
		chain := chainVal.([][]byte)

		var pemCerts []byte
		for _, der := range chain {
			pemCerts = append(pemCerts, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
		}

		cert, err := tls.X509KeyPair(pemCerts, params.Key.Content)
		if err != nil {
			return tls.Certificate{}, apperror.New(apperror.MissingPrivateKey, err)
		}
		return cert, nil
	}
	if params.Certs.Path == "" || params.Key.Path == "" {
		return tls.Certificate{}, apperror.Newf(apperror.MissingPrivateKey, "both certs and key must be configured")
	}
	return p.Cache.LoadKeyPair(ctx, params.Certs.Path, params.Key.Path)
}
