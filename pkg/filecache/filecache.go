// Package filecache loads and memoizes PEM-decoded material referenced by
// path from configuration: trust anchor bundles, client certificate
// chains, and private keys. A successful parse is memoized per (path,
// kind), a failed one is not, so the next caller retries against the
// filesystem rather than being stuck with a stale failure. Loads are not
// coalesced: concurrent first loads of the same path each read and parse it.
package filecache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"sync"

	"github.com/netwatch/tls-certificate-exporter/pkg/apperror"
)

// Kind identifies what a cached path is expected to decode to.
type Kind int

const (
	KindTrustAnchors Kind = iota
	KindCertificateChain
	KindPrivateKey
	KindRawBytes
)

type cacheKey struct {
	path string
	kind Kind
}

// Cache memoizes at most one successful parse per (path, kind). Reads are
// safe for concurrent use; a failed parse is never memoized, so the next
// caller retries against the filesystem.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]any
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[cacheKey]any)}
}

// TrustAnchors loads and caches a PEM bundle of CA certificates from path.
func (c *Cache) TrustAnchors(ctx context.Context, path string) (*x509.CertPool, error) {
	v, err := c.load(ctx, path, KindTrustAnchors, func(data []byte) (any, error) {
		return parseTrustAnchors(data)
	})
	if err != nil {
		return nil, err
	}
	return v.(*x509.CertPool), nil
}

// CertificateChain loads and caches a PEM bundle of client certificates from path.
func (c *Cache) CertificateChain(ctx context.Context, path string) ([][]byte, error) {
	v, err := c.load(ctx, path, KindCertificateChain, func(data []byte) (any, error) {
		return parseCertificateChain(data)
	})
	if err != nil {
		return nil, err
	}
	return v.([][]byte), nil
}

// PrivateKey loads and caches a PEM-encoded private key from path.
func (c *Cache) PrivateKey(ctx context.Context, path string) (any, error) {
	return c.load(ctx, path, KindPrivateKey, func(data []byte) (any, error) {
		return parsePrivateKey(data)
	})
}

// RawBytes loads and caches the raw contents of path without parsing.
func (c *Cache) RawBytes(ctx context.Context, path string) ([]byte, error) {
	v, err := c.load(ctx, path, KindRawBytes, func(data []byte) (any, error) {
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Inline parses byte content supplied directly by configuration. Inline
// content has no path key, so it is never cached — parsed fresh every call.
func Inline(kind Kind, content []byte) (any, error) {
	switch kind {
	case KindTrustAnchors:
		return parseTrustAnchors(content)
	case KindCertificateChain:
		return parseCertificateChain(content)
	case KindPrivateKey:
		return parsePrivateKey(content)
	default:
		return content, nil
	}
}

func (c *Cache) load(_ context.Context, path string, kind Kind, parse func([]byte) (any, error)) (any, error) {
	key := cacheKey{path: path, kind: kind}

	c.mu.Lock()
	if v, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.New(apperror.ConfigLoad, err)
	}

	v, err := parse(data)
	if err != nil {
		// Failed parses are never memoized.
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()

	return v, nil
}

func parseTrustAnchors(data []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, apperror.Newf(apperror.InvalidPemTag, "no CERTIFICATE blocks found")
	}
	return pool, nil
}

func parseCertificateChain(data []byte) ([][]byte, error) {
	var chain [][]byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			return nil, apperror.Newf(apperror.InvalidPemTag, "expected CERTIFICATE, got %s", block.Type)
		}
		chain = append(chain, block.Bytes)
	}
	if len(chain) == 0 {
		return nil, apperror.Newf(apperror.InvalidPemTag, "no CERTIFICATE blocks found")
	}
	return chain, nil
}

func parsePrivateKey(data []byte) (any, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, apperror.Newf(apperror.InvalidPemTag, "no PEM block found")
	}

	switch block.Type {
	case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
	default:
		return nil, apperror.Newf(apperror.InvalidPemTag, "expected a private key block, got %s", block.Type)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		return key, nil
	}

	if rsaKey, rsaErr := x509.ParsePKCS1PrivateKey(block.Bytes); rsaErr == nil {
		return rsaKey, nil
	}
	if ecKey, ecErr := x509.ParseECPrivateKey(block.Bytes); ecErr == nil {
		return ecKey, nil
	}

	return nil, apperror.New(apperror.InvalidPemTag, err)
}

// LoadKeyPair builds a tls.Certificate from cached certificate-chain and
// private-key paths, mirroring tls.LoadX509KeyPair's PEM assembly but
// sourced from the cache so repeated probes don't re-read disk.
func (c *Cache) LoadKeyPair(ctx context.Context, certPath, keyPath string) (tls.Certificate, error) {
	chain, err := c.CertificateChain(ctx, certPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	rawKey, err := c.RawBytes(ctx, keyPath)
	if err != nil {
		return tls.Certificate{}, err
	}

	var pemCerts []byte
	for _, der := range chain {
		pemCerts = append(pemCerts, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}

	cert, err := tls.X509KeyPair(pemCerts, rawKey)
	if err != nil {
		return tls.Certificate{}, apperror.New(apperror.MissingPrivateKey, err)
	}
	return cert, nil
}
