// Package config implements the server-level TOML configuration (spec §9
// ambient stack): sandbox scope, shell pool limits, operation monitor
// retention, the force-sync flag, and the default environment-filtering
// policy. Tool definitions (MTDF) are loaded independently, from their own
// JSON directory (spec §3/§6) — this package never touches them.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/paulirotta/ahma-mcp-go/internal/envfilter"
)

// SandboxConfig mirrors sandbox.Policy's fields for TOML decoding.
type SandboxConfig struct {
	Scope              string   `toml:"scope"`
	ExtraWritableRoots []string `toml:"extra_writable_roots"`
	Disabled           bool     `toml:"disabled"`
}

// ShellPoolConfig bounds the C2 shell pool.
type ShellPoolConfig struct {
	MaxPerDirectory int64 `toml:"max_per_directory"`
	IdleTTLSeconds  int   `toml:"idle_ttl_seconds"`
}

// MonitorConfig bounds the C4 completion history.
type MonitorConfig struct {
	RetentionSeconds int `toml:"retention_seconds"`
	MaxHistory       int `toml:"max_history"`
}

// DispatchConfig carries dispatcher-wide flags.
type DispatchConfig struct {
	// ForceSync overrides every tool/subcommand's declared execution
	// mode to synchronous (spec §4.7 resolution precedence, highest
	// priority); intended for CI or single-shot CLI invocations where
	// async receipts have no polling loop to consume them.
	ForceSync bool `toml:"force_sync"`
}

// ServerConfig points at the MTDF definitions directory and the
// callback-channel buffer depth.
type ServerConfig struct {
	DefinitionsDir      string `toml:"definitions_dir"`
	NotificationBufSize int    `toml:"notification_buffer_size"`
}

// Config is the top-level server configuration document (spec §9: "a
// single TOML document").
type Config struct {
	Server    ServerConfig     `toml:"server"`
	Sandbox   SandboxConfig    `toml:"sandbox"`
	ShellPool ShellPoolConfig  `toml:"shellpool"`
	Monitor   MonitorConfig    `toml:"monitor"`
	Dispatch  DispatchConfig   `toml:"dispatch"`
	Exec      ExecConfig       `toml:"exec"`
}

// ExecConfig nests the environment-filtering policy under [exec.env], so
// the TOML document reads "[exec.env]" rather than a dotted top-level key.
type ExecConfig struct {
	Env envfilter.Policy `toml:"env"`
}

// Default returns the configuration used when no TOML file is supplied:
// environment inheritance filters default-excluded secrets (see
// DESIGN.md's Open Question decision on envfilter), shell pool and
// monitor bounds match their own package defaults, force-sync is off.
func Default() Config {
	return Config{
		Server: ServerConfig{
			DefinitionsDir:      "tools.d",
			NotificationBufSize: 256,
		},
		Exec: ExecConfig{Env: envfilter.Default()},
	}
}

// Load decodes path into Config, starting from Default() so any field the
// document omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}

// RetentionWindow converts MonitorConfig.RetentionSeconds to a Duration,
// falling back to the opmon package's own default (0 signals "unset").
func (c Config) RetentionWindow() time.Duration {
	if c.Monitor.RetentionSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Monitor.RetentionSeconds) * time.Second
}

// IdleTTL converts ShellPoolConfig.IdleTTLSeconds to a Duration.
func (c Config) IdleTTL() time.Duration {
	if c.ShellPool.IdleTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ShellPool.IdleTTLSeconds) * time.Second
}
