package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveHost(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		inDocker bool
		want     string
	}{
		{name: "remote host untouched in docker", host: "reports.example.com", inDocker: true, want: "reports.example.com"},
		{name: "localhost in docker", host: "localhost", inDocker: true, want: dockerHostAlias},
		{name: "ipv4 loopback in docker", host: "127.0.0.1", inDocker: true, want: dockerHostAlias},
		{name: "ipv6 loopback in docker", host: "::1", inDocker: true, want: dockerHostAlias},
		{name: "localhost outside docker", host: "localhost", inDocker: false, want: "localhost"},
		{name: "empty host", host: "", inDocker: true, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveHost(tt.host, tt.inDocker))
		})
	}
}

func TestDetectDocker(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, ".dockerenv")
	missing := filepath.Join(dir, "absent")
	assert.NoError(t, os.WriteFile(marker, nil, 0o644))

	tests := []struct {
		name     string
		override string
		marker   string
		want     bool
	}{
		{name: "marker present", marker: marker, want: true},
		{name: "marker absent", marker: missing, want: false},
		{name: "override true wins", override: "true", marker: missing, want: true},
		{name: "override false wins", override: "0", marker: marker, want: false},
		{name: "garbage override ignored", override: "maybe", marker: marker, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDocker(tt.override, tt.marker))
		})
	}
}
