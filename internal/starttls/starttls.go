// Package starttls performs the plaintext-to-TLS upgrade handshake that
// precedes the TLS ClientHello on protocols that multiplex cleartext and
// encrypted traffic on one port. Implemented by hand over net.Conn, the
// way other_examples' mail-server and probing repos do it — there is no
// third-party STARTTLS library anywhere in the retrieved corpus.
package starttls

import (
	"bufio"
	"net"
	"strings"

	"github.com/netwatch/tls-certificate-exporter/pkg/apperror"
)

// Dialect identifies a STARTTLS-capable protocol.
type Dialect string

const (
	Ldap     Dialect = "ldap"
	Smtp     Dialect = "smtp"
	Imap     Dialect = "imap"
	Pop3     Dialect = "pop3"
	Ftp      Dialect = "ftp"
	Xmpp     Dialect = "xmpp"
	Nntp     Dialect = "nntp"
	Postgres Dialect = "postgres"
)

// Upgrade drives the given dialect's plaintext handshake over conn,
// leaving conn ready for an immediate TLS ClientHello on success. conn's
// read/write deadlines are the caller's responsibility (set them before
// calling Upgrade so the handshake is bounded by the same timeout budget
// as the TLS handshake that follows).
func Upgrade(conn net.Conn, dialect Dialect) error {
	switch dialect {
	case Smtp:
		return upgradeSMTP(conn)
	case Imap:
		return upgradeIMAP(conn)
	case Pop3:
		return upgradePOP3(conn)
	case Ldap, Ftp, Xmpp, Nntp, Postgres:
		return apperror.Newf(apperror.UnsupportedStartTLS, "starttls dialect %q is not implemented", dialect)
	default:
		return apperror.Newf(apperror.UnsupportedStartTLS, "unknown starttls dialect %q", dialect)
	}
}

// upgradeSMTP implements RFC 3207: read the greeting, EHLO, issue
// STARTTLS, and read the 220 response that hands control to the TLS layer.
func upgradeSMTP(conn net.Conn) error {
	// bufio.NewReader may read ahead of the reply it's asked for; fine here
	// since SMTP/IMAP/POP3 servers don't speak again until addressed.
	r := bufio.NewReader(conn)

	if err := readSMTPReply(r); err != nil {
		return err
	}
	if _, err := conn.Write([]byte("EHLO tls-certificate-exporter\r\n")); err != nil {
		return apperror.New(apperror.ConnectError, err)
	}
	if err := readSMTPReply(r); err != nil {
		return err
	}
	if _, err := conn.Write([]byte("STARTTLS\r\n")); err != nil {
		return apperror.New(apperror.ConnectError, err)
	}
	if err := readSMTPReply(r); err != nil {
		return err
	}
	return nil
}

// readSMTPReply consumes a (possibly multi-line) SMTP reply and fails
// unless the status code starts with '2'.
func readSMTPReply(r *bufio.Reader) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return apperror.New(apperror.ConnectError, err)
		}
		if len(line) < 4 {
			return apperror.Newf(apperror.HandshakeError, "malformed smtp reply line %q", line)
		}
		if line[0] != '2' {
			return apperror.Newf(apperror.HandshakeError, "smtp rejected starttls handshake: %s", strings.TrimSpace(line))
		}
		if line[3] != '-' {
			return nil // final line of a (possibly multi-line) reply
		}
	}
}

// upgradeIMAP implements RFC 2595: read the greeting, issue tagged
// a1 STARTTLS, and await the tagged OK (untagged lines are skipped).
// CAPABILITY is not queried first.
func upgradeIMAP(conn net.Conn) error {
	r := bufio.NewReader(conn)

	// Server greeting, e.g. "* OK IMAP4rev1 Service Ready".
	if _, err := r.ReadString('\n'); err != nil {
		return apperror.New(apperror.ConnectError, err)
	}

	if _, err := conn.Write([]byte("a1 STARTTLS\r\n")); err != nil {
		return apperror.New(apperror.ConnectError, err)
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return apperror.New(apperror.ConnectError, err)
		}
		if strings.HasPrefix(line, "a1 OK") {
			return nil
		}
		if strings.HasPrefix(line, "a1 ") {
			return apperror.Newf(apperror.HandshakeError, "imap rejected starttls handshake: %s", strings.TrimSpace(line))
		}
		// untagged response (e.g. capability list); keep reading.
	}
}

// upgradePOP3 implements RFC 2595: STLS, awaiting a single "+OK" line.
func upgradePOP3(conn net.Conn) error {
	r := bufio.NewReader(conn)

	greeting, err := r.ReadString('\n')
	if err != nil {
		return apperror.New(apperror.ConnectError, err)
	}
	if !strings.HasPrefix(greeting, "+OK") {
		return apperror.Newf(apperror.HandshakeError, "unexpected pop3 greeting: %s", strings.TrimSpace(greeting))
	}

	if _, err := conn.Write([]byte("STLS\r\n")); err != nil {
		return apperror.New(apperror.ConnectError, err)
	}

	reply, err := r.ReadString('\n')
	if err != nil {
		return apperror.New(apperror.ConnectError, err)
	}
	if !strings.HasPrefix(reply, "+OK") {
		return apperror.Newf(apperror.HandshakeError, "pop3 rejected starttls handshake: %s", strings.TrimSpace(reply))
	}
	return nil
}
