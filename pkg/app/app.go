// Package app wires the loaded configuration into a running probe
// pipeline: resolve the module graph, register every target with the
// scheduler, and run the scheduler alongside the metrics exporter until
// either exits, joined with golang.org/x/sync/errgroup so the first
// failure or cancellation tears down both.
package app

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/netwatch/tls-certificate-exporter/pkg/apperror"
	"github.com/netwatch/tls-certificate-exporter/pkg/config"
	"github.com/netwatch/tls-certificate-exporter/pkg/endpoint"
	"github.com/netwatch/tls-certificate-exporter/pkg/filecache"
	"github.com/netwatch/tls-certificate-exporter/pkg/metrics"
	"github.com/netwatch/tls-certificate-exporter/pkg/profile"
	"github.com/netwatch/tls-certificate-exporter/pkg/prober"
	"github.com/netwatch/tls-certificate-exporter/pkg/scheduler"
	"github.com/netwatch/tls-certificate-exporter/pkg/store"
)

// Options configures one run of the application.
type Options struct {
	ListenAddress string
	Oneshot       bool
	Logger        *slog.Logger
}

// Run wires cfg into a scheduler and metrics exporter and blocks until
// ctx is canceled or either exits, per spec's first-complete join
// semantics — unless Oneshot is set, in which case it probes every
// target exactly once, prints the resulting snapshot, and returns.
func Run(ctx context.Context, cfg config.GlobalConfig, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("run_id", uuid.New().String()))

	resolvedModules, err := profile.ResolveModules(cfg.Modules)
	if err != nil {
		return err
	}

	cache := filecache.New()

	defaultRoots, err := buildDefaultRoots(ctx, cache, cfg.TrustedAnchors)
	if err != nil {
		return err
	}

	pr := prober.New(cache)
	pr.DefaultRoots = defaultRoots

	resolver := endpoint.NewResolver(nil)
	st := store.New()

	targets, err := resolveTargets(cfg, resolvedModules)
	if err != nil {
		return err
	}

	if opts.Oneshot {
		return runOneshot(ctx, pr, resolver, st, targets, log)
	}

	sch := scheduler.New(st, pr, resolver, log)
	for _, rt := range targets {
		sch.AddTarget(rt.target, rt.params, rt.interval)
	}

	exporter := metrics.New(st)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return sch.Run(groupCtx) })
	group.Go(func() error { return exporter.Run(groupCtx, opts.ListenAddress) })

	return group.Wait()
}

type resolvedTarget struct {
	target   endpoint.Target
	params   profile.ResolvedModuleProfile
	interval time.Duration
}

func resolveTargets(cfg config.GlobalConfig, modules map[string]profile.ResolvedModuleProfile) ([]resolvedTarget, error) {
	out := make([]resolvedTarget, 0, len(cfg.Targets))

	for i, tc := range cfg.Targets {
		target, err := endpoint.ParseTarget(tc.Target)
		if err != nil {
			return nil, apperror.Newf(apperror.InvalidEndpoint, "targets[%d]: %v", i, err)
		}

		moduleName := tc.Module
		if moduleName == "" {
			moduleName = "_default"
		}
		base, ok := modules[moduleName]
		if !ok {
			return nil, apperror.Newf(apperror.UnknownModule, "targets[%d]: references unknown module %q", i, moduleName)
		}

		params := applyTargetOverrides(base, tc)

		interval := cfg.Scheduler.Interval
		if tc.Interval != nil {
			interval = *tc.Interval
		}

		out = append(out, resolvedTarget{target: target, params: params, interval: interval})
	}

	return out, nil
}

func applyTargetOverrides(base profile.ResolvedModuleProfile, tc config.TargetConfig) profile.ResolvedModuleProfile {
	out := base

	if tc.Timeout != nil {
		out.Timeout = *tc.Timeout
	}

	if tc.TLSConfig != nil {
		tlsCfg := tc.TLSConfig
		if tlsCfg.CA != nil {
			out.TrustedAnchors = *tlsCfg.CA
		}
		if tlsCfg.Cert != nil {
			out.Certs = tlsCfg.Cert
		}
		if tlsCfg.Key != nil {
			out.Key = tlsCfg.Key
		}
		if tlsCfg.ServerName != nil {
			out.ServerName = tlsCfg.ServerName
		}
		if tlsCfg.InsecureSkipVerify != nil {
			out.InsecureSkipVerify = *tlsCfg.InsecureSkipVerify
		}
	}

	return out
}

func buildDefaultRoots(ctx context.Context, cache *filecache.Cache, sources []profile.FileSource) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	for i, src := range sources {
		var data []byte
		switch {
		case src.Content != nil:
			data = src.Content
		case src.Path != "":
			raw, err := cache.RawBytes(ctx, src.Path)
			if err != nil {
				return nil, err
			}
			data = raw
		default:
			continue
		}

		if ok := pool.AppendCertsFromPEM(data); !ok {
			return nil, apperror.Newf(apperror.InvalidPemTag, "trusted_anchors[%d]: no CERTIFICATE blocks found", i)
		}
	}

	return pool, nil
}

func runOneshot(ctx context.Context, pr *prober.Prober, resolver endpoint.Resolver, st *store.Store, targets []resolvedTarget, log *slog.Logger) error {
	for _, rt := range targets {
		st.RegisterTarget(rt.target, "", rt.interval)
	}

	for _, rt := range targets {
		results, err := pr.Probe(ctx, resolver, rt.target, rt.params)
		if err != nil {
			log.Error("oneshot probe failed", "target", rt.target.String(), "error", err)
			continue
		}
		st.ApplyProbe(rt.target, results, time.Now())
	}

	for _, sample := range st.SnapshotGauges() {
		fmt.Fprintf(os.Stdout, "%s %s serial=%s subject=%q issuer=%q not_before=%s not_after=%s\n",
			sample.Target, sample.Endpoint, sample.SerialNumber, sample.Subject, sample.Issuer,
			sample.NotBefore.Format("2006-01-02T15:04:05Z07:00"), sample.NotAfter.Format("2006-01-02T15:04:05Z07:00"))
	}

	return nil
}
