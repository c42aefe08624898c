package app

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netwatch/tls-certificate-exporter/pkg/config"
	"github.com/netwatch/tls-certificate-exporter/pkg/filecache"
	"github.com/netwatch/tls-certificate-exporter/pkg/profile"
)

func selfSignedPEM(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "root.example.test"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestResolveTargets_DefaultsToImplicitModule(t *testing.T) {
	resolved, err := profile.ResolveModules(nil)
	require.NoError(t, err)

	cfg := config.GlobalConfig{
		Targets: []config.TargetConfig{{Target: "example.test:443"}},
	}

	targets, err := resolveTargets(cfg, resolved)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	require.Equal(t, "example.test", targets[0].target.Host)
	require.Equal(t, uint16(443), targets[0].target.Port)
	require.Equal(t, profile.DefaultTimeout, targets[0].params.Timeout)
}

func TestResolveTargets_UnknownModuleIsRejected(t *testing.T) {
	resolved, err := profile.ResolveModules(nil)
	require.NoError(t, err)

	cfg := config.GlobalConfig{
		Targets: []config.TargetConfig{{Target: "example.test:443", Module: "does-not-exist"}},
	}

	_, err = resolveTargets(cfg, resolved)
	require.Error(t, err)
}

func TestResolveTargets_InvalidTargetSyntaxIsRejected(t *testing.T) {
	resolved, err := profile.ResolveModules(nil)
	require.NoError(t, err)

	cfg := config.GlobalConfig{
		Targets: []config.TargetConfig{{Target: "no-port-here"}},
	}

	_, err = resolveTargets(cfg, resolved)
	require.Error(t, err)
}

func TestResolveTargets_PerTargetIntervalOverridesScheduler(t *testing.T) {
	resolved, err := profile.ResolveModules(nil)
	require.NoError(t, err)

	override := 5 * time.Second
	cfg := config.GlobalConfig{
		Scheduler: config.SchedulerConfig{Interval: time.Minute},
		Targets:   []config.TargetConfig{{Target: "example.test:443", Interval: &override}},
	}

	targets, err := resolveTargets(cfg, resolved)
	require.NoError(t, err)
	require.Equal(t, override, targets[0].interval)
}

func TestApplyTargetOverrides_PresentFieldsWinOverModule(t *testing.T) {
	base := profile.ResolvedModuleProfile{
		Timeout:            3 * time.Second,
		InsecureSkipVerify: false,
	}

	skip := true
	name := "override.example.test"
	tc := config.TargetConfig{
		TLSConfig: &config.TargetTLSConfig{
			ServerName:         &name,
			InsecureSkipVerify: &skip,
		},
	}

	out := applyTargetOverrides(base, tc)
	require.Equal(t, 3*time.Second, out.Timeout, "absent timeout override inherits the module's")
	require.True(t, out.InsecureSkipVerify)
	require.Equal(t, name, *out.ServerName)
}

func TestApplyTargetOverrides_AbsentOverrideBlockInheritsEverything(t *testing.T) {
	base := profile.ResolvedModuleProfile{Timeout: 7 * time.Second}
	out := applyTargetOverrides(base, config.TargetConfig{})
	require.Equal(t, base, out)
}

func TestBuildDefaultRoots_SeedsFromSystemPoolAndAppendsConfiguredAnchors(t *testing.T) {
	cache := filecache.New()
	pemBytes := selfSignedPEM(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "anchor.pem")
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))

	pool, err := buildDefaultRoots(context.Background(), cache, []profile.FileSource{
		{Path: path},
	})
	require.NoError(t, err)
	require.NotNil(t, pool)
	require.NotEmpty(t, pool.Subjects()) //nolint:staticcheck // simplest non-empty check available
}

func TestBuildDefaultRoots_InlineContentWithNoCertificateBlocksFails(t *testing.T) {
	cache := filecache.New()

	_, err := buildDefaultRoots(context.Background(), cache, []profile.FileSource{
		{Content: []byte("not a pem file")},
	})
	require.Error(t, err)
}

func TestBuildDefaultRoots_EmptySourcesStillReturnsAUsablePool(t *testing.T) {
	cache := filecache.New()

	pool, err := buildDefaultRoots(context.Background(), cache, nil)
	require.NoError(t, err)
	require.NotNil(t, pool)
}
