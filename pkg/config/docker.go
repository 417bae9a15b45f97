package config

import (
	"os"
	"strconv"
	"sync"
)

// dockerMarker exists in every Docker container.
var dockerMarker = "/.dockerenv"

var (
	inDockerOnce sync.Once
	inDocker     bool
)

// IsRunningInDocker reports whether the process runs inside a container.
// KVGATE_IN_DOCKER=true|false overrides detection. Cached after first use.
func IsRunningInDocker() bool {
	inDockerOnce.Do(func() {
		if v, ok := os.LookupEnv("KVGATE_IN_DOCKER"); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				inDocker = b
				return
			}
		}
		_, err := os.Stat(dockerMarker)
		inDocker = err == nil
	})
	return inDocker
}

// ResolveHostForDocker maps loopback hosts to host.docker.internal when
// running in a container, so a Redis on the host machine stays reachable.
// Drivers call it right before dialing; identities keep the configured host.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return "host.docker.internal"
	default:
		return host
	}
}
