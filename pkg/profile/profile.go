// Package profile resolves the named TLS connection profiles ("modules")
// declared in configuration, flattening each one's extends chain into a
// fully-populated ResolvedModuleProfile. Grounded in the original
// implementation's configs/resolved.rs and configs/module.rs, with the
// cycle-detecting topological fold delegated to internal/graph.
package profile

import (
	"time"

	"github.com/netwatch/tls-certificate-exporter/internal/graph"
	"github.com/netwatch/tls-certificate-exporter/pkg/apperror"
)

// FileSource is a path-or-inline-content reference to PEM material, as
// accepted in configuration for trusted_anchors, certs, and key fields.
type FileSource struct {
	Path    string
	Content []byte
}

func (f FileSource) isZero() bool {
	return f.Path == "" && f.Content == nil
}

// StartTLS identifies a plaintext-to-TLS upgrade dialect.
type StartTLS string

const (
	StartTLSLdap     StartTLS = "ldap"
	StartTLSSmtp     StartTLS = "smtp"
	StartTLSImap     StartTLS = "imap"
	StartTLSPop3     StartTLS = "pop3"
	StartTLSFtp      StartTLS = "ftp"
	StartTLSXmpp     StartTLS = "xmpp"
	StartTLSNntp     StartTLS = "nntp"
	StartTLSPostgres StartTLS = "postgres"
)

// DefaultTimeout is the handshake timeout applied when no profile in a
// node's extends chain sets one.
const DefaultTimeout = 3 * time.Second

// ModuleProfile is one named module as declared in configuration, prior to
// resolution. Every field besides Extends is optional; an absent field
// means "inherit from what this module extends, or the default profile."
type ModuleProfile struct {
	Extends []string `mapstructure:"extends"`

	Timeout            *time.Duration `mapstructure:"timeout"`
	TrustedAnchors     *FileSource    `mapstructure:"trustedanchors"`
	Certs              *FileSource    `mapstructure:"certs"`
	Key                *FileSource    `mapstructure:"key"`
	ServerName         *string        `mapstructure:"server_name"`
	StartTLS           *StartTLS      `mapstructure:"starttls"`
	InsecureSkipVerify *bool          `mapstructure:"insecure_skip_verify"`
}

// ResolvedModuleProfile is the flat, fully-populated profile produced by
// resolution: every field has a concrete value (nil pointers for optional
// sources mean "not configured", not "not yet resolved").
type ResolvedModuleProfile struct {
	Timeout            time.Duration
	TrustedAnchors     FileSource
	Certs              *FileSource
	Key                *FileSource
	ServerName         *string
	StartTLS           *StartTLS
	InsecureSkipVerify bool
}

func defaultProfile() ResolvedModuleProfile {
	return ResolvedModuleProfile{
		Timeout:            DefaultTimeout,
		TrustedAnchors:     FileSource{},
		InsecureSkipVerify: false,
	}
}

// merge folds override on top of base: a present field in override wins,
// an absent one inherits base's value. There is no list-merging — the
// trusted-anchors source resolves to exactly one reference.
func merge(base ResolvedModuleProfile, override ModuleProfile) ResolvedModuleProfile {
	out := base

	if override.Timeout != nil {
		out.Timeout = *override.Timeout
	}
	if override.TrustedAnchors != nil && !override.TrustedAnchors.isZero() {
		out.TrustedAnchors = *override.TrustedAnchors
	}
	if override.Certs != nil {
		out.Certs = override.Certs
	}
	if override.Key != nil {
		out.Key = override.Key
	}
	if override.ServerName != nil {
		out.ServerName = override.ServerName
	}
	if override.StartTLS != nil {
		out.StartTLS = override.StartTLS
	}
	if override.InsecureSkipVerify != nil {
		out.InsecureSkipVerify = *override.InsecureSkipVerify
	}

	return out
}

// ResolveModules flattens name -> ModuleProfile into name -> ResolvedModuleProfile.
// Every module implicitly extends the built-in "_default" profile even when
// its own extends list is empty.
func ResolveModules(modules map[string]ModuleProfile) (map[string]ResolvedModuleProfile, error) {
	const defaultNode = "_default"

	g := graph.New()
	g.AddNode(defaultNode)
	for name := range modules {
		g.AddNode(name)
	}

	for name, m := range modules {
		if len(m.Extends) == 0 {
			if err := g.AddEdge(name, defaultNode); err != nil {
				return nil, apperror.New(apperror.CyclicExtends, err)
			}
			continue
		}
		for _, parent := range m.Extends {
			if _, ok := modules[parent]; !ok && parent != defaultNode {
				return nil, apperror.Newf(apperror.UnknownModule, "module %q extends unknown module %q", name, parent)
			}
			if err := g.AddEdge(name, parent); err != nil {
				return nil, apperror.New(apperror.CyclicExtends, err)
			}
		}
	}

	resolved := map[string]ResolvedModuleProfile{
		defaultNode: defaultProfile(),
	}

	for _, name := range g.ReverseTopoOrder() {
		if name == defaultNode {
			continue
		}
		m := modules[name]

		folded := defaultProfile()
		parents := m.Extends
		if len(parents) == 0 {
			parents = []string{defaultNode}
		}
		for _, parent := range parents {
			parentResolved, ok := resolved[parent]
			if !ok {
				return nil, apperror.Newf(apperror.UnknownModule, "module %q extends unresolved module %q", name, parent)
			}
			folded = mergeResolved(folded, parentResolved)
		}
		folded = merge(folded, m)

		resolved[name] = folded
	}

	return resolved, nil
}

// mergeResolved folds a fully-resolved parent profile into the
// accumulator, used when a node has multiple parents in its extends list:
// each parent is folded in declared order before the node's own fields.
func mergeResolved(acc, parent ResolvedModuleProfile) ResolvedModuleProfile {
	out := acc
	out.Timeout = parent.Timeout
	if !parent.TrustedAnchors.isZero() {
		out.TrustedAnchors = parent.TrustedAnchors
	}
	if parent.Certs != nil {
		out.Certs = parent.Certs
	}
	if parent.Key != nil {
		out.Key = parent.Key
	}
	if parent.ServerName != nil {
		out.ServerName = parent.ServerName
	}
	if parent.StartTLS != nil {
		out.StartTLS = parent.StartTLS
	}
	out.InsecureSkipVerify = parent.InsecureSkipVerify
	return out
}
