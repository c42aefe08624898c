package certmodel_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netwatch/tls-certificate-exporter/pkg/certmodel"
)

func generateTestCertDER(t *testing.T, serial int64, notBefore, notAfter time.Time) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "leaf.example.test"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	// CreateCertificate takes the issuer name from the parent's Subject.
	parent := &x509.Certificate{Subject: pkix.Name{CommonName: "ca.example.test"}}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func TestParse(t *testing.T) {
	notBefore := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	der := generateTestCertDER(t, 42, notBefore, notAfter)

	cert, err := certmodel.Parse(der)
	require.NoError(t, err)

	require.Equal(t, "leaf.example.test", cert.SubjectCommonName)
	require.Equal(t, "ca.example.test", cert.IssuerCommonName)
	require.Equal(t, "42", cert.SerialNumber.String())
	require.True(t, cert.NotBefore.Equal(notBefore))
	require.True(t, cert.NotAfter.Equal(notAfter))
	require.True(t, cert.NotBefore.Before(cert.NotAfter) || cert.NotBefore.Equal(cert.NotAfter))
}

func TestParse_InvalidDER(t *testing.T) {
	_, err := certmodel.Parse([]byte("not a certificate"))
	require.Error(t, err)
}

func TestIdentifier_StableAcrossReparse(t *testing.T) {
	der := generateTestCertDER(t, 7, time.Now(), time.Now().Add(time.Hour))

	a, err := certmodel.Parse(der)
	require.NoError(t, err)
	b, err := certmodel.Parse(der)
	require.NoError(t, err)

	require.Equal(t, a.Identifier(), b.Identifier())
}

func TestIdentifier_DiffersOnSerialEvenWithSameFingerprintSpace(t *testing.T) {
	now := time.Now()
	derA := generateTestCertDER(t, 1, now, now.Add(time.Hour))
	derB := generateTestCertDER(t, 2, now, now.Add(time.Hour))

	a, err := certmodel.Parse(derA)
	require.NoError(t, err)
	b, err := certmodel.Parse(derB)
	require.NoError(t, err)

	require.NotEqual(t, a.Identifier(), b.Identifier())
}

func TestParseChain_AbortsOnFirstFailure(t *testing.T) {
	good := generateTestCertDER(t, 1, time.Now(), time.Now().Add(time.Hour))
	_, err := certmodel.ParseChain([][]byte{good, []byte("garbage")})
	require.Error(t, err)
}
