// Package identity defines the value that decides which logical handles share
// a physical connection.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Scheme is the transport used to reach the server.
type Scheme string

const (
	SchemeTCP  Scheme = "tcp"
	SchemeUnix Scheme = "unix"
	SchemeTLS  Scheme = "tls"
)

const (
	DefaultHost   = "127.0.0.1"
	DefaultPort   = 6379
	DefaultScheme = SchemeTCP
)

// ParseScheme maps a configuration string to a Scheme. Empty means tcp.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemeTCP:
		return SchemeTCP, nil
	case SchemeUnix:
		return SchemeUnix, nil
	case SchemeTLS:
		return SchemeTLS, nil
	default:
		return "", fmt.Errorf("unsupported scheme %q (want tcp, unix or tls)", s)
	}
}

// Identity is the (host, port, scheme, credential, persistence) tuple.
// The database index is deliberately absent: handles targeting different
// databases on the same server and credential share one connection.
type Identity struct {
	Host       string
	Port       uint16
	Scheme     Scheme
	Credential string

	// Persistent marks a connection that outlives the pool bookkeeping.
	Persistent bool
	// PersistenceTag names a persistent connection. The pool assigns it.
	PersistenceTag string
}

// New returns an Identity with defaults applied to empty fields.
func New(host string, port uint16, scheme Scheme, credential string, persistent bool) Identity {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	if scheme == "" {
		scheme = DefaultScheme
	}
	return Identity{
		Host:       host,
		Port:       port,
		Scheme:     scheme,
		Credential: credential,
		Persistent: persistent,
	}
}

// Fingerprint is a stable digest of every field, used as the pool key.
func (id Identity) Fingerprint() string {
	h := sha256.New()
	for _, field := range []string{
		id.Host,
		strconv.Itoa(int(id.Port)),
		string(id.Scheme),
		id.Credential,
		strconv.FormatBool(id.Persistent),
		id.PersistenceTag,
	} {
		// Length prefix keeps ("ab","c") and ("a","bc") apart.
		fmt.Fprintf(h, "%d:%s;", len(field), field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Equal compares all fields.
func (id Identity) Equal(other Identity) bool {
	return id == other
}

// WithPersistenceTag returns a copy carrying the given tag.
func (id Identity) WithPersistenceTag(tag string) Identity {
	id.PersistenceTag = tag
	return id
}

// Network returns the dial network for the scheme.
func (id Identity) Network() string {
	if id.Scheme == SchemeUnix {
		return "unix"
	}
	return "tcp"
}

// Addr is host:port, or the socket path for unix connections.
func (id Identity) Addr() string {
	if id.Scheme == SchemeUnix {
		return id.Host
	}
	return net.JoinHostPort(id.Host, strconv.Itoa(int(id.Port)))
}

// PersistentName is the name the driver layer files a persistent socket
// under. Empty for non-persistent identities or before the pool tags one.
func (id Identity) PersistentName() string {
	if !id.Persistent || id.PersistenceTag == "" {
		return ""
	}
	return "persistent_" + id.PersistenceTag
}

// String never includes the credential.
func (id Identity) String() string {
	var b strings.Builder
	b.WriteString(string(id.Scheme))
	b.WriteString("://")
	if id.Credential != "" {
		b.WriteString("[REDACTED]@")
	}
	b.WriteString(id.Addr())
	if id.Persistent {
		b.WriteString("?persistent=")
		if id.PersistenceTag != "" {
			b.WriteString(id.PersistenceTag)
		} else {
			b.WriteString("true")
		}
	}
	return b.String()
}
