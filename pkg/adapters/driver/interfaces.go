// Package driver defines the boundary to the store-protocol drivers. Pool and
// Gateway code only ever talks to a Handle; the wire protocol belongs to the
// concrete families in the subpackages.
package driver

import (
	"context"
	"time"

	"github.com/kvgate/kvgate/pkg/identity"
)

// Family names a driver implementation.
type Family string

const (
	FamilyGoRedis Family = "go-redis"
	FamilyRedigo  Family = "redigo"
)

// Handle wraps one physical connection. Implementations serialize commands
// internally since several Gateways may share a Handle.
type Handle interface {
	// Connect dials and authenticates. Connecting an already connected handle
	// is a no-op.
	Connect(ctx context.Context) (bool, error)

	// Disconnect closes the physical connection.
	Disconnect() error

	// IsConnected reports local state only; it does not touch the network.
	IsConnected() bool

	// Ping returns a bool or a Status token.
	Ping(ctx context.Context) (any, error)

	// Select switches the database of the physical connection. Returns a bool
	// or a Status token.
	Select(ctx context.Context, db int) (any, error)

	// ClientList returns one descriptor per connection open on the server.
	ClientList(ctx context.Context) ([]Descriptor, error)

	// ClientID returns the server-assigned id of this connection.
	ClientID(ctx context.Context) (int64, error)

	// Persistent reports whether the connection outlives pool teardown.
	Persistent() bool

	// Identify returns the driver family.
	Identify() Family
}

// Factory builds a Handle for an identity. It must not connect.
type Factory interface {
	NewHandle(ctx context.Context, id identity.Identity) (Handle, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, id identity.Identity) (Handle, error)

// NewHandle calls f.
func (f FactoryFunc) NewHandle(ctx context.Context, id identity.Identity) (Handle, error) {
	return f(ctx, id)
}

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 3 * time.Second
	DefaultWriteTimeout   = 3 * time.Second
)

// Options are the knobs shared by every family.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// TLSInsecureSkipVerify disables certificate checks for the tls scheme.
	TLSInsecureSkipVerify bool
}

// WithDefaults fills zero durations.
func (o Options) WithDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	return o
}
