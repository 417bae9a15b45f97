package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	id := New("", 0, "", "", false)

	assert.Equal(t, "127.0.0.1", id.Host)
	assert.Equal(t, uint16(6379), id.Port)
	assert.Equal(t, SchemeTCP, id.Scheme)
	assert.Equal(t, "127.0.0.1:6379", id.Addr())
	assert.Equal(t, "tcp", id.Network())
}

func TestFingerprint_EqualIdentities(t *testing.T) {
	a := New("10.0.0.1", 6380, SchemeTCP, "secret", false)
	b := New("10.0.0.1", 6380, SchemeTCP, "secret", false)

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprint_DifferingFields(t *testing.T) {
	base := New("10.0.0.1", 6380, SchemeTCP, "secret", false)

	variants := map[string]Identity{
		"host":       New("10.0.0.2", 6380, SchemeTCP, "secret", false),
		"port":       New("10.0.0.1", 6381, SchemeTCP, "secret", false),
		"scheme":     New("10.0.0.1", 6380, SchemeTLS, "secret", false),
		"credential": New("10.0.0.1", 6380, SchemeTCP, "other", false),
		"persistent": New("10.0.0.1", 6380, SchemeTCP, "secret", true),
	}

	for name, v := range variants {
		t.Run(name, func(t *testing.T) {
			assert.False(t, base.Equal(v))
			assert.NotEqual(t, base.Fingerprint(), v.Fingerprint())
		})
	}
}

func TestFingerprint_PersistenceTagParticipates(t *testing.T) {
	plain := New("127.0.0.1", 6379, SchemeTCP, "", true)
	two := plain.WithPersistenceTag("2")
	three := plain.WithPersistenceTag("3")

	assert.NotEqual(t, plain.Fingerprint(), two.Fingerprint())
	assert.NotEqual(t, two.Fingerprint(), three.Fingerprint())
	assert.Equal(t, "", plain.PersistenceTag, "WithPersistenceTag must not mutate the receiver")
}

func TestFingerprint_FieldBoundaries(t *testing.T) {
	a := Identity{Host: "ab", Credential: "c"}
	b := Identity{Host: "a", Credential: "bc"}

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestParseScheme(t *testing.T) {
	tests := []struct {
		in      string
		want    Scheme
		wantErr bool
	}{
		{"", SchemeTCP, false},
		{"tcp", SchemeTCP, false},
		{"TLS", SchemeTLS, false},
		{" unix ", SchemeUnix, false},
		{"udp", "", true},
	}

	for _, tt := range tests {
		got, err := ParseScheme(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestUnixAddr(t *testing.T) {
	id := New("/var/run/redis.sock", 0, SchemeUnix, "", false)

	assert.Equal(t, "/var/run/redis.sock", id.Addr())
	assert.Equal(t, "unix", id.Network())
}

func TestPersistentName(t *testing.T) {
	id := New("", 0, "", "", true)
	assert.Empty(t, id.PersistentName(), "untagged identity has no name yet")

	assert.Equal(t, "persistent_4", id.WithPersistenceTag("4").PersistentName())
	assert.Empty(t, New("", 0, "", "", false).WithPersistenceTag("4").PersistentName())
}

func TestString_RedactsCredential(t *testing.T) {
	id := New("cache.internal", 6379, SchemeTLS, "hunter2", true).WithPersistenceTag("1")

	s := id.String()
	assert.NotContains(t, s, "hunter2")
	assert.Equal(t, "tls://[REDACTED]@cache.internal:6379?persistent=1", s)
}
