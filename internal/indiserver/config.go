package indiserver

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// StartMode selects indiserver's verbosity.
type StartMode string

const (
	// ModeNormal runs without verbosity flags.
	ModeNormal StartMode = "normal"

	// ModeVerbose passes -v.
	ModeVerbose StartMode = "verbose"

	// ModeVeryVerbose passes -vv.
	ModeVeryVerbose StartMode = "very_verbose"

	// ModeDebug passes -vvv.
	ModeDebug StartMode = "debug"
)

// Config holds the configuration for the indiserver process.
type Config struct {
	// Host is the address clients use to reach the server.
	// indiserver itself always listens on all interfaces.
	// Default: "localhost"
	Host string `yaml:"host"`

	// Port is the INDI TCP port (-p).
	// Default: 7624
	Port int `yaml:"port"`

	// Binary is the indiserver executable, resolved through PATH if not absolute.
	// Default: "indiserver"
	Binary string `yaml:"binary"`

	// FifoPath is the control pipe created before spawn and passed with -f.
	// Default: "/tmp/indiFIFO"
	FifoPath string `yaml:"fifo_path"`

	// LogPath receives the server's stdout and stderr when EnableLogging is set.
	// Default: "/tmp/indiserver.log"
	LogPath string `yaml:"log_path"`

	// ConfigDir is exported to drivers as INDICONFIG.
	ConfigDir string `yaml:"config_dir"`

	// DataDir is exported to drivers as INDIDATA.
	DataDir string `yaml:"data_dir"`

	// MaxClients is the client limit (-m).
	// Default: 100
	MaxClients int `yaml:"max_clients"`

	// StartMode controls the verbosity flag.
	// Options: "normal", "verbose", "very_verbose", "debug"
	// Default: "verbose"
	StartMode StartMode `yaml:"start_mode"`

	// EnableFifo creates the control pipe and passes -f.
	// Default: true
	EnableFifo bool `yaml:"enable_fifo"`

	// EnableLogging redirects server output to LogPath.
	// Default: true
	EnableLogging bool `yaml:"enable_logging"`

	// AutoRestart runs the health monitor while the server is up.
	// Default: true
	AutoRestart bool `yaml:"auto_restart"`

	// RestartDelay is the pause between stop and start during a restart.
	// Default: 1s
	RestartDelay time.Duration `yaml:"restart_delay"`

	// MaxRestartAttempts bounds consecutive automatic restarts. 0 means unlimited.
	// Default: 3
	MaxRestartAttempts int `yaml:"max_restart_attempts"`

	// StartupTimeout bounds the wait for a stable process after spawn.
	// Default: 10s
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	// ShutdownTimeout bounds the graceful stop before escalating to SIGKILL.
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// HealthCheckInterval is how often the monitor probes the process.
	// Default: 5s
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// Env holds extra environment variables for the server and its drivers.
	Env map[string]string `yaml:"env,omitempty"`

	// PIDFile, when set, records the server PID while it runs.
	PIDFile string `yaml:"pid_file,omitempty"`
}

// DefaultConfig returns a Config for a local indiserver with a control pipe.
func DefaultConfig() Config {
	return Config{
		Host:                "localhost",
		Port:                7624,
		Binary:              "indiserver",
		FifoPath:            "/tmp/indiFIFO",
		LogPath:             "/tmp/indiserver.log",
		MaxClients:          100,
		StartMode:           ModeVerbose,
		EnableFifo:          true,
		EnableLogging:       true,
		AutoRestart:         true,
		RestartDelay:        time.Second,
		MaxRestartAttempts:  3,
		StartupTimeout:      10 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		HealthCheckInterval: 5 * time.Second,
	}
}

// Validate checks the configuration for errors. The returned error wraps
// ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port number: %d", ErrInvalidConfig, c.Port)
	}
	if strings.TrimSpace(c.Binary) == "" {
		return fmt.Errorf("%w: binary path is empty", ErrInvalidConfig)
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("%w: invalid max clients: %d", ErrInvalidConfig, c.MaxClients)
	}
	if c.EnableFifo && c.FifoPath == "" {
		return fmt.Errorf("%w: FIFO enabled but path is empty", ErrInvalidConfig)
	}
	if c.EnableLogging && c.LogPath == "" {
		return fmt.Errorf("%w: logging enabled but log path is empty", ErrInvalidConfig)
	}
	if c.StartupTimeout <= 0 {
		return fmt.Errorf("%w: invalid startup timeout: %v", ErrInvalidConfig, c.StartupTimeout)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: invalid shutdown timeout: %v", ErrInvalidConfig, c.ShutdownTimeout)
	}
	if c.MaxRestartAttempts < 0 {
		return fmt.Errorf("%w: max restart attempts cannot be negative", ErrInvalidConfig)
	}
	if c.AutoRestart && c.HealthCheckInterval <= 0 {
		return fmt.Errorf("%w: auto restart needs a positive health check interval", ErrInvalidConfig)
	}
	switch c.StartMode {
	case "", ModeNormal, ModeVerbose, ModeVeryVerbose, ModeDebug:
	default:
		return fmt.Errorf("%w: unknown start mode %q", ErrInvalidConfig, c.StartMode)
	}
	return nil
}

// VerbosityFlag returns the indiserver flag for StartMode, or "" for normal.
// An empty mode is treated as verbose.
func (c *Config) VerbosityFlag() string {
	switch c.StartMode {
	case ModeNormal:
		return ""
	case ModeVeryVerbose:
		return "-vv"
	case ModeDebug:
		return "-vvv"
	default:
		return "-v"
	}
}

// BuildArgs constructs the argv for indiserver:
//
//	<binary> [<verbosity>] -p <port> [-f <fifo>] -m <maxClients>
func (c *Config) BuildArgs() []string {
	args := []string{c.Binary}

	if v := c.VerbosityFlag(); v != "" {
		args = append(args, v)
	}

	args = append(args, "-p", strconv.Itoa(c.Port))

	if c.EnableFifo && c.FifoPath != "" {
		args = append(args, "-f", c.FifoPath)
	}

	args = append(args, "-m", strconv.Itoa(c.MaxClients))
	return args
}

// Environ returns Env as sorted KEY=VALUE pairs, with INDICONFIG and INDIDATA
// added from ConfigDir and DataDir unless Env already sets them.
func (c *Config) Environ() []string {
	env := make(map[string]string, len(c.Env)+2)
	if c.ConfigDir != "" {
		env["INDICONFIG"] = c.ConfigDir
	}
	if c.DataDir != "" {
		env["INDIDATA"] = c.DataDir
	}
	for k, v := range c.Env {
		env[k] = v
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

// Address returns host:port for INDI clients.
func (c *Config) Address() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// clone returns a deep copy so callers cannot mutate the manager's Env map.
func (c Config) clone() Config {
	if c.Env != nil {
		env := make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			env[k] = v
		}
		c.Env = env
	}
	return c
}
