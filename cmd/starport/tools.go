package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/starport-core/internal/auth"
	"github.com/nerrad567/starport-core/internal/connector"
	"github.com/nerrad567/starport-core/internal/fifo"
	"github.com/nerrad567/starport-core/internal/infrastructure/config"
	"github.com/nerrad567/starport-core/internal/process"
)

// loadConfig reads the selected config file. The one-shot commands fall back
// to the built-in defaults when no file was named and the default is absent.
func loadConfig() (*config.Config, error) {
	path := config.ResolvePath(configFlag)
	if path == config.DefaultPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Defaults(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// controlPath is the FIFO the one-shot commands write to.
func controlPath(cfg *config.Config, override string) string {
	switch {
	case override != "":
		return override
	case cfg.INDI.EnableFifo && cfg.INDI.FifoPath != "":
		return cfg.INDI.FifoPath
	default:
		return cfg.FIFO.Path
	}
}

func newSendCmd() *cobra.Command {
	var fifoPath string
	cmd := &cobra.Command{
		Use:   "send <command>...",
		Short: "Write one raw command to a running indiserver's FIFO",
		Example: `  starport send start indi_simulator_ccd
  starport send --fifo /tmp/indiFIFO stop indi_simulator_ccd`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fc := cfg.FIFO
			fc.Path = controlPath(cfg, fifoPath)
			fc.QueueCommands = false
			fc.Persistent = false

			ch := fifo.New(fc)
			defer ch.Close()

			res := ch.SendRaw(strings.Join(args, " "))
			if !res.Success {
				return fmt.Errorf("sending to %s: %w", fc.Path, res.Err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok (%s)\n", res.Duration.Round(time.Microsecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&fifoPath, "fifo", "", "control FIFO path (default from config)")
	return cmd
}

func newDevicesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the devices a running indiserver knows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn := connector.New(connector.Options{Props: process.CommandRunner{}})
			devices, err := conn.Devices(cmd.Context())
			if err != nil {
				return err
			}
			return printDevices(cmd, devices, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printDevices(cmd *cobra.Command, devices []connector.Device, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}
	if len(devices) == 0 {
		fmt.Fprintln(out, "no devices")
		return nil
	}
	for _, d := range devices {
		state := "disconnected"
		if d.Connected {
			state = "connected"
		}
		fmt.Fprintf(out, "%-32s %s\n", d.Name, state)
	}
	return nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.ResolvePath(configFlag)
			if _, err := config.Load(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(subject, auth.Role(role), cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "client name the token is issued to")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "viewer or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
