package engine

import "time"

const (
	defaultBinary         = "docker"
	defaultMaxOutputBytes = 1024 * 1024
	defaultKillTimeout    = 10 * time.Second
	defaultWaitDelay      = 2 * time.Second
)

// Config controls the docker engine.
type Config struct {
	// Binary is the container CLI, "docker" unless overridden (podman works too).
	Binary string
	// MaxOutputBytes caps each of stdout and stderr.
	MaxOutputBytes int64
	// KillTimeout bounds the `docker kill` issued on timeout.
	KillTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = defaultBinary
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = defaultMaxOutputBytes
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = defaultKillTimeout
	}
	return c
}
