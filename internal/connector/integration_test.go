//go:build linux

package connector

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/starport-core/internal/fifo"
	"github.com/nerrad567/starport-core/internal/indiserver"
)

// fakeINDIServer keeps its -f pipe open read-write, as indiserver does, and
// appends everything it reads to $STARPORT_FIFO_LOG.
const fakeINDIServer = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    -f) F="$2"; shift ;;
  esac
  shift
done
exec 3<>"$F"
exec cat <&3 >> "$STARPORT_FIFO_LOG"
`

func TestIntegration_StartDriverThroughRealPipe(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "indiserver")
	if err := os.WriteFile(binary, []byte(fakeINDIServer), 0755); err != nil {
		t.Fatal(err)
	}
	received := filepath.Join(dir, "received.log")

	cfg := indiserver.DefaultConfig()
	cfg.Binary = binary
	cfg.FifoPath = filepath.Join(dir, "x.fifo")
	cfg.LogPath = filepath.Join(dir, "indiserver.log")
	cfg.AutoRestart = false
	cfg.StartupTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Env = map[string]string{"STARPORT_FIFO_LOG": received}

	srv := indiserver.NewManager(cfg)
	chCfg := fifo.DefaultConfig()
	chCfg.QueueCommands = false
	ch := fifo.New(chCfg)
	c := New(Options{Server: srv, Channel: ch})
	defer c.Close()
	defer srv.Stop(true)

	if !c.StartServer() {
		t.Fatalf("StartServer() = false: %s", c.LastError())
	}
	if ch.Path() != cfg.FifoPath {
		t.Errorf("channel path = %q, want %q", ch.Path(), cfg.FifoPath)
	}

	// Give the script a moment to open its end of the pipe.
	deadline := time.Now().Add(2 * time.Second)
	for !c.StartDriverByName("ccd_simulator", "") {
		if time.Now().After(deadline) {
			t.Fatalf("StartDriverByName() kept failing: %+v", c.FifoStats())
		}
		time.Sleep(50 * time.Millisecond)
	}

	drivers := c.RunningDrivers()
	if d, ok := drivers["ccd_simulator"]; !ok || d.Binary != "ccd_simulator" {
		t.Errorf("RunningDrivers() = %+v", drivers)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		data, _ := os.ReadFile(received)
		if strings.Contains(string(data), "start ccd_simulator\n") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server received %q, want start command", data)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if !c.StopServer() {
		t.Fatal("StopServer() = false")
	}
	if c.IsRunning() {
		t.Error("IsRunning() = true after StopServer")
	}
	if c.RunningDriverCount() != 0 {
		t.Errorf("RunningDriverCount() = %d after StopServer", c.RunningDriverCount())
	}
}

// waitForLines polls path until it holds at least n copies of line.
func waitForLines(t *testing.T, path, line string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		data, _ := os.ReadFile(path)
		if strings.Count(string(data), line) >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("server received %q, want %d x %q", data, n, line)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestIntegration_PersistentHandleAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "indiserver")
	if err := os.WriteFile(binary, []byte(fakeINDIServer), 0755); err != nil {
		t.Fatal(err)
	}
	received := filepath.Join(dir, "received.log")

	cfg := indiserver.DefaultConfig()
	cfg.Binary = binary
	cfg.FifoPath = filepath.Join(dir, "x.fifo")
	cfg.LogPath = filepath.Join(dir, "indiserver.log")
	cfg.AutoRestart = false
	cfg.RestartDelay = 50 * time.Millisecond
	cfg.StartupTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Env = map[string]string{"STARPORT_FIFO_LOG": received}

	srv := indiserver.NewManager(cfg)
	chCfg := fifo.DefaultConfig()
	chCfg.QueueCommands = false
	chCfg.Persistent = true
	ch := fifo.New(chCfg)
	c := New(Options{Server: srv, Channel: ch})
	defer c.Close()
	defer srv.Stop(true)

	if !c.StartServer() {
		t.Fatalf("StartServer() = false: %s", c.LastError())
	}
	deadline := time.Now().Add(2 * time.Second)
	for !c.StartDriverByName("ccd_simulator", "") {
		if time.Now().After(deadline) {
			t.Fatalf("StartDriverByName() kept failing: %+v", c.FifoStats())
		}
		time.Sleep(50 * time.Millisecond)
	}
	// Make sure the handle is attached to this server's pipe.
	if err := ch.Reopen(); err != nil {
		t.Fatalf("Reopen() error: %v", err)
	}
	waitForLines(t, received, "start ccd_simulator\n", 1)

	// The restart unlinks and recreates the pipe at the same path. The
	// reload must reach the new server, not the old node.
	if !c.RestartServer() {
		t.Fatalf("RestartServer() = false: %s", c.LastError())
	}
	if c.RunningDriverCount() != 1 {
		t.Errorf("RunningDriverCount() = %d after restart, want 1", c.RunningDriverCount())
	}
	waitForLines(t, received, "start ccd_simulator\n", 2)

	if res := c.SendCommand("stop ccd_simulator"); !res.Success {
		t.Fatalf("SendCommand() after restart failed: %v", res.Err)
	}
	waitForLines(t, received, "stop ccd_simulator\n", 1)
}
