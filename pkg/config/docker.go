package config

import (
	"os"
	"strconv"
	"sync"
)

const dockerHostAlias = "host.docker.internal"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether the engine runs inside a container.
// RUNNING_IN_DOCKER, when set to a boolean, wins over detection via
// /.dockerenv. The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		isDockerResult = detectDocker(os.Getenv("RUNNING_IN_DOCKER"), "/.dockerenv")
	})
	return isDockerResult
}

func detectDocker(override, marker string) bool {
	if v, err := strconv.ParseBool(override); err == nil {
		return v
	}
	_, err := os.Stat(marker)
	return err == nil
}

// ResolveHostForDocker rewrites loopback hosts to host.docker.internal when
// running in Docker so backends on the host machine stay reachable.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, inDocker bool) string {
	if !inDocker {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return dockerHostAlias
	}
	return host
}
