// Package certmodel parses raw DER certificates into the immutable
// representation the rest of the probe pipeline keys on: subject/issuer
// common names, serial number, validity window, and the SHA-256
// fingerprint used to dedup observations in the store.
package certmodel

import (
	"crypto/sha256"
	"crypto/x509"
	"log/slog"
	"math/big"
	"time"

	"github.com/netwatch/tls-certificate-exporter/pkg/apperror"
)

// Certificate is the parsed, immutable view of a leaf or intermediate
// certificate presented during a TLS handshake.
type Certificate struct {
	SubjectCommonName string
	IssuerCommonName  string
	SerialNumber      *big.Int
	NotBefore         time.Time
	NotAfter          time.Time
	Fingerprint       [sha256.Size]byte

	der []byte
}

// Identifier is the dedup key for the certificate store: structurally
// equal identifiers (same serial number AND same fingerprint) are treated
// as the same certificate, so an adversary cannot collide on serial alone.
type Identifier struct {
	SerialNumber string // big.Int.String(), comparable and hashable as a map key
	Fingerprint  [sha256.Size]byte
}

// Parse decodes a single DER-encoded certificate. Failures are reported as
// apperror.CertificateParse.
func Parse(der []byte) (*Certificate, error) {
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, apperror.New(apperror.CertificateParse, err)
	}

	cert := &Certificate{
		SubjectCommonName: parsed.Subject.CommonName,
		IssuerCommonName:  parsed.Issuer.CommonName,
		SerialNumber:      parsed.SerialNumber,
		NotBefore:         parsed.NotBefore.UTC(),
		NotAfter:          parsed.NotAfter.UTC(),
		Fingerprint:       sha256.Sum256(der),
		der:               append([]byte(nil), der...),
	}
	return cert, nil
}

// ParseChain decodes an ordered leaf-first chain of DER certificates. It
// aborts on the first failure, per spec: a parse failure aborts the whole
// endpoint's probe with apperror.CertificateParse.
func ParseChain(rawCerts [][]byte) ([]*Certificate, error) {
	certs := make([]*Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// DER returns the original encoded bytes this Certificate was parsed from.
func (c *Certificate) DER() []byte {
	return append([]byte(nil), c.der...)
}

// Identifier derives the store dedup key for this certificate.
func (c *Certificate) Identifier() Identifier {
	return Identifier{
		SerialNumber: c.SerialNumber.String(),
		Fingerprint:  c.Fingerprint,
	}
}

// LogValue renders the certificate as a structured slog group, matching
// the density of the rest of the probe pipeline's structured logging.
func (c *Certificate) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("subject", c.SubjectCommonName),
		slog.String("issuer", c.IssuerCommonName),
		slog.String("serial", c.SerialNumber.String()),
		slog.Time("not_before", c.NotBefore),
		slog.Time("not_after", c.NotAfter),
	)
}

func (c *Certificate) String() string {
	return c.SubjectCommonName + " (" + c.IssuerCommonName + ") [" + c.SerialNumber.String() + "] " +
		c.NotBefore.Format(time.RFC3339) + ".." + c.NotAfter.Format(time.RFC3339)
}
