package indiserver

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error: %v", err)
	}
	if cfg.Port != 7624 {
		t.Errorf("Port = %d, want 7624", cfg.Port)
	}
	if cfg.FifoPath != "/tmp/indiFIFO" {
		t.Errorf("FifoPath = %q, want /tmp/indiFIFO", cfg.FifoPath)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too high", func(c *Config) { c.Port = 65536 }},
		{"empty binary", func(c *Config) { c.Binary = " " }},
		{"no clients", func(c *Config) { c.MaxClients = 0 }},
		{"fifo without path", func(c *Config) { c.FifoPath = "" }},
		{"logging without path", func(c *Config) { c.LogPath = "" }},
		{"zero startup timeout", func(c *Config) { c.StartupTimeout = 0 }},
		{"negative restarts", func(c *Config) { c.MaxRestartAttempts = -1 }},
		{"monitor without interval", func(c *Config) { c.HealthCheckInterval = 0 }},
		{"unknown mode", func(c *Config) { c.StartMode = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfig_ValidateFifoDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableFifo = false
	cfg.FifoPath = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with FIFO disabled error = %v, want nil", err)
	}
}

func TestConfig_BuildArgs(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   []string
	}{
		{
			name:   "defaults",
			modify: func(*Config) {},
			want:   []string{"indiserver", "-v", "-p", "7624", "-f", "/tmp/indiFIFO", "-m", "100"},
		},
		{
			name: "normal mode without fifo",
			modify: func(c *Config) {
				c.StartMode = ModeNormal
				c.EnableFifo = false
			},
			want: []string{"indiserver", "-p", "7624", "-m", "100"},
		},
		{
			name: "debug mode custom port",
			modify: func(c *Config) {
				c.StartMode = ModeDebug
				c.Port = 7700
				c.MaxClients = 5
				c.FifoPath = "/tmp/x.fifo"
			},
			want: []string{"indiserver", "-vvv", "-p", "7700", "-f", "/tmp/x.fifo", "-m", "5"},
		},
		{
			name:   "very verbose",
			modify: func(c *Config) { c.StartMode = ModeVeryVerbose },
			want:   []string{"indiserver", "-vv", "-p", "7624", "-f", "/tmp/indiFIFO", "-m", "100"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if got := cfg.BuildArgs(); !slices.Equal(got, tt.want) {
				t.Errorf("BuildArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_Environ(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfigDir = "/home/obs/.indi"
	cfg.DataDir = "/usr/share/indi"
	cfg.Env = map[string]string{"INDIDATA": "/opt/indi", "TZ": "UTC"}

	want := []string{"INDICONFIG=/home/obs/.indi", "INDIDATA=/opt/indi", "TZ=UTC"}
	if got := cfg.Environ(); !slices.Equal(got, want) {
		t.Errorf("Environ() = %v, want %v", got, want)
	}
}

func TestConfig_Address(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = ""
	cfg.Port = 7625
	if got := cfg.Address(); got != "localhost:7625" {
		t.Errorf("Address() = %q", got)
	}
}

func TestNewManager_CopiesEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Env = map[string]string{"A": "1"}
	m := NewManager(cfg)

	cfg.Env["A"] = "2"
	if got := m.Config().Env["A"]; got != "1" {
		t.Errorf("Config().Env[A] = %q, want 1 (caller mutation leaked)", got)
	}

	c := m.Config()
	c.Env["A"] = "3"
	if got := m.Config().Env["A"]; got != "1" {
		t.Errorf("Config().Env[A] = %q, want 1 (returned copy aliased)", got)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateStopped:  "stopped",
		StateStarting: "starting",
		StateRunning:  "running",
		StateStopping: "stopping",
		StateError:    "error",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestDefaultTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.StartupTimeout < stableSamples*probeInterval {
		t.Errorf("StartupTimeout %v cannot fit %d probes", cfg.StartupTimeout, stableSamples)
	}
	if cfg.ShutdownTimeout <= 0 || cfg.RestartDelay <= 0 || cfg.HealthCheckInterval < time.Second {
		t.Errorf("unexpected default timings: %+v", cfg)
	}
}
