// Package scheduler runs the timer loop that decides which targets are
// due for a probe, fans out concurrent prober tasks, and folds their
// results back into the store: a minimum-wait fold across every target's
// next_probe, a per-target last_probe/next_probe pair, and a
// fan-out-then-join probe cycle each time the wait elapses.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/netwatch/tls-certificate-exporter/pkg/endpoint"
	"github.com/netwatch/tls-certificate-exporter/pkg/profile"
	"github.com/netwatch/tls-certificate-exporter/pkg/prober"
	"github.com/netwatch/tls-certificate-exporter/pkg/store"
)

// Prober is the subset of *prober.Prober the scheduler depends on,
// narrowed to ease substitution in tests.
type Prober interface {
	Probe(ctx context.Context, resolver endpoint.Resolver, target endpoint.Target, params profile.ResolvedModuleProfile) ([]prober.ProbeResult, error)
}

// Scheduler owns the probe timer loop for every registered target.
type Scheduler struct {
	store    *store.Store
	prober   Prober
	resolver endpoint.Resolver
	params   map[endpoint.Target]profile.ResolvedModuleProfile
	logger   *slog.Logger

	mu sync.RWMutex
}

// New returns a Scheduler backed by s, using p to probe and r to resolve
// endpoints, logging through logger (defaults to slog.Default() if nil).
func New(s *store.Store, p Prober, r endpoint.Resolver, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		prober:   p,
		resolver: r,
		params:   make(map[endpoint.Target]profile.ResolvedModuleProfile),
		logger:   logger,
	}
}

// AddTarget registers target with its resolved parameters and its probe
// interval, as already resolved by the caller (scheduling intervals aren't
// part of ResolvedModuleProfile, so the interval is threaded through
// separately). An interval <= 0 falls back to store.DefaultInterval.
func (s *Scheduler) AddTarget(target endpoint.Target, params profile.ResolvedModuleProfile, interval time.Duration) {
	s.mu.Lock()
	s.params[target] = params
	s.mu.Unlock()

	s.store.RegisterTarget(target, "", interval)
}

// Run executes the timer loop until ctx is canceled. Per iteration: wait
// for the soonest due target (bounded by store.DefaultInterval), snapshot
// due targets, fan out a probe per target, and apply each result as it
// completes.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := time.Now()
		wait := s.store.WaitDuration(now)
		if len(s.store.IterNeedsProbe(now)) > 0 {
			// A target that was never probed has no next_probe yet and is
			// already due, so the cycle starts without waiting.
			wait = 0
		}
		s.logger.DebugContext(ctx, "scheduler sleeping", "wait", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		due := s.store.IterNeedsProbe(time.Now())
		if len(due) == 0 {
			continue
		}

		var wg sync.WaitGroup
		wg.Add(len(due))
		for _, ts := range due {
			ts := ts
			go func() {
				defer wg.Done()
				s.probeOne(ctx, ts)
			}()
		}
		wg.Wait()
	}
}

func (s *Scheduler) probeOne(ctx context.Context, ts store.TargetState) {
	s.mu.RLock()
	params, ok := s.params[ts.Target]
	s.mu.RUnlock()
	if !ok {
		s.logger.WarnContext(ctx, "target has no resolved parameters, skipping", "target", ts.Target.String())
		return
	}

	now := time.Now()
	results, err := s.prober.Probe(ctx, s.resolver, ts.Target, params)
	if err != nil {
		s.logger.ErrorContext(ctx, "probe failed", "target", ts.Target.String(), "error", err)
		s.store.MarkProbeFailed(ts.Target, now, now.Add(store.BackoffInterval))
		return
	}

	s.store.ApplyProbe(ts.Target, results, now)
	s.store.MarkNextProbe(ts.Target, now.Add(effectiveInterval(ts.Interval)))
}

func effectiveInterval(interval time.Duration) time.Duration {
	if interval <= 0 {
		return store.DefaultInterval
	}
	return interval
}
