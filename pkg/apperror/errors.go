// Package apperror defines the error taxonomy shared by the probe pipeline.
//
// Errors are identified by a Reason sentinel, compared with errors.Is, and
// carry their originating message as a cause wrapped by github.com/pkg/errors
// (WithStack/Errorf), which records a stack trace at the call site that
// first observed the failure. Formatting that cause (errors.Unwrap of the
// returned error) with "%+v" prints the trace; *Error itself implements no
// fmt.Formatter, so "%+v" on the returned error prints only its message.
package apperror

import "github.com/pkg/errors"

// Reason identifies the kind of failure, independent of the wrapped message.
type Reason string

const (
	// ConfigLoad: malformed or unreadable configuration. Fatal during startup.
	ConfigLoad Reason = "config_load"
	// CyclicExtends: module graph has a cycle. Fatal during startup.
	CyclicExtends Reason = "cyclic_extends"
	// InvalidPemTag: a file parsed as PEM but its tag did not match the
	// expected kind.
	InvalidPemTag Reason = "invalid_pem_tag"
	// InvalidEndpoint: target syntax error or empty resolution.
	InvalidEndpoint Reason = "invalid_endpoint"
	// ResolveTimeout: DNS lookup exceeded its timeout budget.
	ResolveTimeout Reason = "resolve_timeout"
	// ResolveError: DNS lookup failed.
	ResolveError Reason = "resolve_error"
	// ResolveEmpty: DNS lookup returned zero addresses.
	ResolveEmpty Reason = "resolve_empty"
	// ConnectError: TCP dial failure.
	ConnectError Reason = "connect_error"
	// HandshakeError: TLS handshake failed; message retained verbatim by the caller.
	HandshakeError Reason = "handshake_error"
	// MissingPrivateKey: client certs configured without a matching key.
	MissingPrivateKey Reason = "missing_private_key"
	// CertificateParse: DER parse failure on a presented certificate.
	CertificateParse Reason = "certificate_parse"
	// UnknownModule: a module/profile name referenced but never defined.
	UnknownModule Reason = "unknown_module"
	// UnsupportedStartTLS: a STARTTLS dialect was configured but has no wire upgrade.
	UnsupportedStartTLS Reason = "unsupported_starttls"
	// Unknown: chain not captured and no error reported. Should be impossible.
	Unknown Reason = "unknown"
)

// Error pairs a Reason with the context that produced it.
type Error struct {
	Reason Reason
	cause  error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is the same Reason, so errors.Is(err, apperror.New(ResolveTimeout, nil)) works.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Reason == e.Reason
}

// New wraps cause (which may be nil) under reason, attaching a stack trace
// at the call site via pkg/errors.
func New(reason Reason, cause error) error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Reason: reason, cause: cause}
}

// Newf behaves like New but formats a message as the cause.
func Newf(reason Reason, format string, args ...any) error {
	return New(reason, errors.Errorf(format, args...))
}

// Is reports whether err carries the given Reason anywhere in its chain.
func Is(err error, reason Reason) bool {
	var appErr *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			appErr = e
			if appErr.Reason == reason {
				return true
			}
			err = e.cause
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
