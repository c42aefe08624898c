// Package store holds the scheduler's view of the world: the write-once
// certificate table, per-target scheduling state, and per-endpoint probe
// outcomes. The scheduler is the sole writer; the metrics exporter is a
// reader, guarded by a plain sync.RWMutex rather than channel hand-off.
package store

import (
	"sync"
	"time"

	"github.com/netwatch/tls-certificate-exporter/pkg/certmodel"
	"github.com/netwatch/tls-certificate-exporter/pkg/endpoint"
	"github.com/netwatch/tls-certificate-exporter/pkg/prober"
)

// DefaultInterval is the fallback wait returned by WaitDuration when no
// target has a next_probe set yet.
const DefaultInterval = 600 * time.Second

// BackoffInterval is applied to a target's next_probe after a failed probe cycle.
const BackoffInterval = 20 * time.Second

// EndpointState is the most recent probe outcome for one endpoint.
type EndpointState struct {
	Endpoint        endpoint.Endpoint
	Target          endpoint.Target
	CertIdentifiers []certmodel.Identifier
	ProbeError      string // empty on success
	LastUpdate      time.Time
}

// TargetState tracks one configured target's scheduling state and its
// endpoints' last-known probe results.
type TargetState struct {
	Target       endpoint.Target
	ModuleName   string
	Interval     time.Duration
	Endpoints    []EndpointState
	LastProbe    time.Time
	NextProbe    time.Time
	hasLastProbe bool
	hasNextProbe bool
}

// Store is the scheduler's exclusive-write, metrics-exporter-readable
// state. Construct with New; the zero value has no maps and is not usable.
type Store struct {
	mu      sync.RWMutex
	targets map[endpoint.Target]*TargetState
	certs   map[certmodel.Identifier]*certmodel.Certificate
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		targets: make(map[endpoint.Target]*TargetState),
		certs:   make(map[certmodel.Identifier]*certmodel.Certificate),
	}
}

// RegisterTarget adds or replaces the scheduling parameters for a target.
// Existing endpoint state for that target, if any, is preserved.
func (s *Store) RegisterTarget(target endpoint.Target, moduleName string, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.targets[target]
	if !ok {
		s.targets[target] = &TargetState{Target: target, ModuleName: moduleName, Interval: interval}
		return
	}
	existing.ModuleName = moduleName
	existing.Interval = interval
}

// AddCertificate computes cert's identifier, inserts it iff absent, and
// returns the identifier either way. Write-once: a certificate already
// present under its identifier is never overwritten.
func (s *Store) AddCertificate(cert *certmodel.Certificate) certmodel.Identifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addCertificateLocked(cert)
}

func (s *Store) addCertificateLocked(cert *certmodel.Certificate) certmodel.Identifier {
	id := cert.Identifier()
	if _, exists := s.certs[id]; !exists {
		s.certs[id] = cert
	}
	return id
}

// AddCertificates is the order-preserving bulk form of AddCertificate.
func (s *Store) AddCertificates(certs []*certmodel.Certificate) []certmodel.Identifier {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]certmodel.Identifier, len(certs))
	for i, c := range certs {
		ids[i] = s.addCertificateLocked(c)
	}
	return ids
}

// Certificate looks up a previously stored certificate by identifier.
func (s *Store) Certificate(id certmodel.Identifier) (*certmodel.Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certs[id]
	return c, ok
}

// ApplyProbe inserts every certificate observed across results, then
// atomically replaces the target's endpoint list with fresh
// EndpointStates built from results, and stamps LastProbe. The target
// must already be registered; ApplyProbe on an unknown target is a no-op.
func (s *Store) ApplyProbe(target endpoint.Target, results []prober.ProbeResult, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.targets[target]
	if !ok {
		return
	}

	endpoints := make([]EndpointState, len(results))
	for i, r := range results {
		ids := make([]certmodel.Identifier, len(r.Certificates))
		for j, c := range r.Certificates {
			ids[j] = s.addCertificateLocked(c)
		}
		endpoints[i] = EndpointState{
			Endpoint:        r.Endpoint,
			Target:          target,
			CertIdentifiers: ids,
			ProbeError:      r.ErrorText,
			LastUpdate:      now,
		}
	}

	ts.Endpoints = endpoints
	ts.LastProbe = now
	ts.hasLastProbe = true
}

// MarkNextProbe sets a target's next_probe time. Called by the scheduler
// after ApplyProbe succeeds, with next = now + effective interval.
func (s *Store) MarkNextProbe(target endpoint.Target, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.targets[target]
	if !ok {
		return
	}
	ts.NextProbe = next
	ts.hasNextProbe = true
}

// MarkProbeFailed records a failed probe cycle: last_probe is stamped to
// now (the cycle still happened, even though it produced no result to
// apply) and next_probe to next, so the following scheduling decision
// uses fresh timing rather than a stale or unset last_probe.
func (s *Store) MarkProbeFailed(target endpoint.Target, now, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.targets[target]
	if !ok {
		return
	}
	ts.LastProbe = now
	ts.hasLastProbe = true
	ts.NextProbe = next
	ts.hasNextProbe = true
}

// IterNeedsProbe returns the targets whose next_probe is unset or has
// already passed, as of now.
func (s *Store) IterNeedsProbe(now time.Time) []TargetState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []TargetState
	for _, ts := range s.targets {
		if !ts.hasNextProbe || !ts.NextProbe.After(now) {
			due = append(due, *ts)
		}
	}
	return due
}

// WaitDuration returns the smallest non-negative delta to any target's
// next_probe, or DefaultInterval if no target has one set yet.
func (s *Store) WaitDuration(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wait := DefaultInterval
	found := false
	for _, ts := range s.targets {
		if !ts.hasNextProbe {
			continue
		}
		delta := ts.NextProbe.Sub(now)
		if delta < 0 {
			delta = 0
		}
		if !found || delta < wait {
			wait = delta
			found = true
		}
	}
	return wait
}

// GaugeSample is one (labels, not_before, not_after) triple for the
// metrics exporter to render.
type GaugeSample struct {
	Target       string
	Endpoint     string
	SerialNumber string
	Subject      string
	Issuer       string
	NotBefore    time.Time
	NotAfter     time.Time
}

// SnapshotGauges yields one GaugeSample per (endpoint, certificate) pair
// currently known to the store, as a consistent point-in-time view.
func (s *Store) SnapshotGauges() []GaugeSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var samples []GaugeSample
	for _, ts := range s.targets {
		for _, ep := range ts.Endpoints {
			for _, id := range ep.CertIdentifiers {
				cert, ok := s.certs[id]
				if !ok {
					continue
				}
				samples = append(samples, GaugeSample{
					Target:       ts.Target.String(),
					Endpoint:     ep.Endpoint.String(),
					SerialNumber: cert.SerialNumber.String(),
					Subject:      cert.SubjectCommonName,
					Issuer:       cert.IssuerCommonName,
					NotBefore:    cert.NotBefore,
					NotAfter:     cert.NotAfter,
				})
			}
		}
	}
	return samples
}
