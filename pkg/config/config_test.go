package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netwatch/tls-certificate-exporter/pkg/config"
	"github.com/netwatch/tls-certificate-exporter/pkg/phctx"
)

func newCtx() context.Context {
	return phctx.ContextWithViper(context.Background(), phctx.NewViper())
}

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
}

func TestLoad_DefaultsWhenNoFilePresent(t *testing.T) {
	dir := t.TempDir()

	r, err := config.Load(newCtx(), []string{dir}, "config", true)
	require.NoError(t, err)
	require.False(t, r.HasErrors())

	cfg := r.Config()
	require.Equal(t, 3*time.Second, cfg.DefaultTimeout)
	require.Equal(t, 600*time.Second, cfg.Scheduler.Interval)
}

func TestLoad_DecodesModulesAndTargets(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
default_timeout: 5s
scheduler:
  interval: 120s
modules:
  base:
    timeout: 5s
    server_name: base.example.test
  child:
    extends: ["base"]
    insecure_skip_verify: true
targets:
  - target: "example.test:443"
    module: child
`)

	r, err := config.Load(newCtx(), []string{dir}, "config", true)
	require.NoError(t, err)
	require.False(t, r.HasErrors())

	cfg := r.Config()
	require.Equal(t, 5*time.Second, cfg.DefaultTimeout)
	require.Equal(t, 120*time.Second, cfg.Scheduler.Interval)
	require.Len(t, cfg.Modules, 2)
	require.Equal(t, []string{"base"}, cfg.Modules["child"].Extends)
	require.True(t, *cfg.Modules["child"].InsecureSkipVerify)
	require.Len(t, cfg.Targets, 1)
	require.Equal(t, "example.test:443", cfg.Targets[0].Target)
	require.Equal(t, "child", cfg.Targets[0].Module)
}

func TestLoad_InlineTrustedAnchorContent(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
trusted_anchors:
  - "/etc/ssl/certs/ca-certificates.crt"
  - content: "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"
`)

	r, err := config.Load(newCtx(), []string{dir}, "config", true)
	require.NoError(t, err)

	cfg := r.Config()
	require.Len(t, cfg.TrustedAnchors, 2)
	require.Equal(t, "/etc/ssl/certs/ca-certificates.crt", cfg.TrustedAnchors[0].Path)
	require.Contains(t, string(cfg.TrustedAnchors[1].Content), "BEGIN CERTIFICATE")
}

func TestLoad_UnrecognizedStartTLSDialectFailsStrict(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
modules:
  broken:
    starttls: carrier-pigeon
`)

	_, err := config.Load(newCtx(), []string{dir}, "config", true)
	require.Error(t, err)
}

func TestLoad_UnrecognizedStartTLSDialectRecordedWhenNotStrict(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
modules:
  broken:
    starttls: carrier-pigeon
`)

	r, err := config.Load(newCtx(), []string{dir}, "config", false)
	require.NoError(t, err)
	require.True(t, r.HasErrors())
	require.Error(t, r.Err())
}

func TestLoad_MissingTargetHostFailsValidation(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
targets:
  - timeout: 5s
`)

	_, err := config.Load(newCtx(), []string{dir}, "config", true)
	require.Error(t, err)
}

func TestLoad_PreloadFileCachingRejected(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
filecaching: preload
`)

	_, err := config.Load(newCtx(), []string{dir}, "config", true)
	require.Error(t, err)
}

func TestLoad_EnvironmentOverridesDefaultTimeout(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TLSCE_DEFAULT_TIMEOUT", "9s")

	r, err := config.Load(newCtx(), []string{dir}, "config", true)
	require.NoError(t, err)
	require.Equal(t, 9*time.Second, r.Config().DefaultTimeout)
}
