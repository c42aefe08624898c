package metrics_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netwatch/tls-certificate-exporter/pkg/certmodel"
	"github.com/netwatch/tls-certificate-exporter/pkg/endpoint"
	"github.com/netwatch/tls-certificate-exporter/pkg/metrics"
	"github.com/netwatch/tls-certificate-exporter/pkg/prober"
	"github.com/netwatch/tls-certificate-exporter/pkg/store"
)

func genCert(t *testing.T, serial int64) *certmodel.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "leaf.example.test"},
		NotBefore:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	// CreateCertificate takes the issuer name from the parent's Subject.
	parent := &x509.Certificate{Subject: pkix.Name{CommonName: "ca.example.test"}}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := certmodel.Parse(der)
	require.NoError(t, err)
	return cert
}

func TestExporter_HandlerRendersCertificateGauges(t *testing.T) {
	s := store.New()
	target := endpoint.Target{Host: "example.test", Port: 443}
	s.RegisterTarget(target, "default", time.Minute)

	cert := genCert(t, 99)
	s.ApplyProbe(target, []prober.ProbeResult{
		{Outcome: prober.OutcomeOK, Certificates: []*certmodel.Certificate{cert}},
	}, time.Now())

	exp := metrics.New(s)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	text := string(body)
	require.Contains(t, text, "tlsce_cert_not_before")
	require.Contains(t, text, "tlsce_cert_not_after")
	require.Contains(t, text, `serial_number="99"`)
	require.Contains(t, text, `subject="leaf.example.test"`)
	require.Contains(t, text, `issuer="ca.example.test"`)
}

func TestExporter_HandlerEmptyStoreStillServes200(t *testing.T) {
	s := store.New()
	exp := metrics.New(s)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestExporter_Run_StopsOnContextCancel(t *testing.T) {
	s := store.New()
	exp := metrics.New(s)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := exp.Run(ctx, "127.0.0.1:0")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
