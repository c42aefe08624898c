// Package verifier implements the certificate-intercepting TLS verifier:
// a tls.Config.VerifyConnection hook that captures the presented chain
// regardless of whether verification succeeds, so a probe can still
// report on an expired or hostname-mismatched certificate. The capture
// happens once, behind a single-shot cell, with an insecure_skip_verify
// short circuit that still captures the chain without validating it.
package verifier

import (
	"crypto/tls"
	"crypto/x509"
	"sync"

	"github.com/netwatch/tls-certificate-exporter/pkg/apperror"
)

// Verifier captures the chain presented during a single TLS handshake
// into a write-once cell, then either accepts it unconditionally
// (InsecureSkipVerify) or runs ordinary x509 path verification against
// the supplied trust anchors.
//
// Not safe to reuse across handshakes: construct one Verifier per dial
// attempt. Concurrent verify calls on one instance are not expected — a
// handshake invokes VerifyConnection at most once.
type Verifier struct {
	roots              *x509.CertPool
	serverName         string
	insecureSkipVerify bool

	once  sync.Once
	chain []*x509.Certificate
}

// New returns a Verifier that checks presented chains against roots for
// serverName, unless insecureSkipVerify is set, in which case any chain
// is accepted (but still captured).
func New(roots *x509.CertPool, serverName string, insecureSkipVerify bool) *Verifier {
	return &Verifier{
		roots:              roots,
		serverName:         serverName,
		insecureSkipVerify: insecureSkipVerify,
	}
}

// ConfigureClient wires v into conf as the sole verification path:
// InsecureSkipVerify disables crypto/tls's own verification so that
// VerifyConnection fires unconditionally and is the only place an error
// is raised.
func (v *Verifier) ConfigureClient(conf *tls.Config) {
	conf.InsecureSkipVerify = true
	conf.VerifyConnection = v.verifyConnection
}

// verifyConnection is the tls.Config.VerifyConnection hook. It captures
// cs.PeerCertificates into the cell before doing anything else, because
// this hook runs during the handshake — by the time HandshakeContext
// returns an error, there is no ConnectionState to read from.
func (v *Verifier) verifyConnection(cs tls.ConnectionState) error {
	v.once.Do(func() {
		v.chain = append([]*x509.Certificate(nil), cs.PeerCertificates...)
	})

	if v.insecureSkipVerify {
		return nil
	}
	if len(cs.PeerCertificates) == 0 {
		return apperror.Newf(apperror.HandshakeError, "no certificates presented")
	}

	opts := x509.VerifyOptions{
		DNSName:       v.serverName,
		Roots:         v.roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}

	if _, err := cs.PeerCertificates[0].Verify(opts); err != nil {
		return apperror.New(apperror.HandshakeError, err)
	}
	return nil
}

// TakeChain returns the captured chain, or nil if the hook never fired
// (e.g. the TCP connection never reached a TLS handshake). Safe to call
// after the handshake has exited, success or failure alike.
func (v *Verifier) TakeChain() []*x509.Certificate {
	return v.chain
}
