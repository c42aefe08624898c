// Package metrics renders the store's certificate snapshot as Prometheus
// gauges and serves them over an HTTP listener (loopback by default): namespace
// "tlsce", subsystem "cert", a private Registry rather than the global
// default registerer, and "not_before"/"not_after" gauges keyed by
// target/endpoint/serial_number/subject/issuer.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netwatch/tls-certificate-exporter/pkg/store"
)

// DefaultAddr is the loopback-only address the metrics exporter binds to
// per spec, matching the original's Ipv4Addr::LOCALHOST:9880.
const DefaultAddr = "127.0.0.1:9880"

var certLabels = []string{"target", "endpoint", "serial_number", "subject", "issuer"}

// Exporter serves /metrics by rebuilding both gauge vectors from a fresh
// store snapshot on every scrape. It never mutates the store.
type Exporter struct {
	store     *store.Store
	registry  *prometheus.Registry
	notBefore *prometheus.GaugeVec
	notAfter  *prometheus.GaugeVec
}

// New builds an Exporter reading from s, registering its gauges against a
// private registry (not prometheus.DefaultRegisterer).
func New(s *store.Store) *Exporter {
	registry := prometheus.NewRegistry()

	notBefore := promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tlsce",
		Subsystem: "cert",
		Name:      "not_before",
		Help:      "Certificate not-before time, as a Unix timestamp.",
	}, certLabels)

	notAfter := promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tlsce",
		Subsystem: "cert",
		Name:      "not_after",
		Help:      "Certificate not-after time, as a Unix timestamp.",
	}, certLabels)

	return &Exporter{
		store:     s,
		registry:  registry,
		notBefore: notBefore,
		notAfter:  notAfter,
	}
}

// Handler returns the /metrics http.Handler, rebuilding gauges from the
// store on every request so readers always see point-in-time data.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.refresh()
		promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

func (e *Exporter) refresh() {
	e.notBefore.Reset()
	e.notAfter.Reset()

	for _, sample := range e.store.SnapshotGauges() {
		labels := prometheus.Labels{
			"target":        sample.Target,
			"endpoint":      sample.Endpoint,
			"serial_number": sample.SerialNumber,
			"subject":       sample.Subject,
			"issuer":        sample.Issuer,
		}
		e.notBefore.With(labels).Set(float64(sample.NotBefore.Unix()))
		e.notAfter.With(labels).Set(float64(sample.NotAfter.Unix()))
	}
}

// Run starts an HTTP server on addr (DefaultAddr if empty) serving
// /metrics, and blocks until ctx is canceled or the server fails.
func (e *Exporter) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
