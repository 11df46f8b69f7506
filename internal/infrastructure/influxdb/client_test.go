package influxdb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/starport-core/internal/fifo"
	"github.com/nerrad567/starport-core/internal/indiserver"
	"github.com/nerrad567/starport-core/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	w.points = append(w.points, p)
	w.mu.Unlock()
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	w.flushes++
	w.mu.Unlock()
}

func (w *fakeWriter) lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.points))
	for i, p := range w.points {
		out[i] = write.PointToLineProtocol(p, time.Nanosecond)
	}
	return out
}

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{writeAPI: w, connected: true}, w
}

func assertContains(t *testing.T, line string, parts ...string) {
	t.Helper()
	for _, p := range parts {
		if !strings.Contains(line, p) {
			t.Errorf("line %q missing %q", line, p)
		}
	}
}

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Token:   "t",
		Org:     "o",
		Bucket:  "b",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteServerStats(t *testing.T) {
	c, w := newTestClient()

	c.WriteServerStats(indiserver.Stats{
		State:        indiserver.StateRunning,
		Address:      "localhost:7624",
		PID:          4242,
		Uptime:       90 * time.Second,
		RestartCount: 3,
	}, 2)

	lines := w.lines()
	if len(lines) != 1 {
		t.Fatalf("points = %d, want 1", len(lines))
	}
	assertContains(t, lines[0],
		"indi_server,address=localhost:7624 ",
		"running=true",
		`state="running"`,
		"restart_count=3i",
		"pid=4242i",
		"drivers=2i",
		"uptime_s=90",
	)
}

func TestWriteChannelStats(t *testing.T) {
	c, w := newTestClient()

	c.WriteChannelStats(fifo.Stats{CommandsSent: 12, Errors: 1, Queued: 4, Paused: true, Path: "/tmp/indififo"})

	lines := w.lines()
	if len(lines) != 1 {
		t.Fatalf("points = %d, want 1", len(lines))
	}
	assertContains(t, lines[0],
		"fifo_channel,path=/tmp/indififo ",
		"commands_sent=12u",
		"errors=1u",
		"queued=4i",
		"paused=true",
	)
}

func TestWriteEvents(t *testing.T) {
	c, w := newTestClient()

	c.WriteDriverEvent("mount", true)
	c.WriteServerEvent(indiserver.StateError, "exited")
	c.WritePoint("custom", map[string]string{"k": "v"}, map[string]any{"x": int64(1)})

	lines := w.lines()
	if len(lines) != 3 {
		t.Fatalf("points = %d, want 3", len(lines))
	}
	assertContains(t, lines[0], "driver_event,label=mount ", "started=true")
	assertContains(t, lines[1], "server_event,state=error ", `message="exited"`, "code=4i")
	assertContains(t, lines[2], "custom,k=v ", "x=1i")
}

func TestWritesDroppedWhenDisconnected(t *testing.T) {
	c, w := newTestClient()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	c.WriteDriverEvent("mount", false)
	c.Flush()

	if n := len(w.lines()); n != 0 {
		t.Errorf("points after Close = %d, want 0", n)
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1 (from Close only)", w.flushes)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() on nil client = true")
	}
}

func TestWriteErrorCallback(t *testing.T) {
	c, _ := newTestClient()
	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	go c.handleWriteErrors(errs)
	errs <- errors.New("bucket not found")
	close(errs)

	select {
	case err := <-got:
		if err.Error() != "bucket not found" {
			t.Errorf("callback error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}
