package connector

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/starport-core/internal/fifo"
	"github.com/nerrad567/starport-core/internal/indiserver"
)

type fakeServer struct {
	mu       sync.Mutex
	running  bool
	startOK  bool
	restarts int
	stops    []bool
	fifoPath string
	handler  indiserver.EventHandler
}

func newFakeServer() *fakeServer {
	return &fakeServer{running: true, startOK: true, fifoPath: "/tmp/test.fifo"}
}

func (s *fakeServer) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = s.startOK
	return s.startOK
}

func (s *fakeServer) Stop(force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops = append(s.stops, force)
	s.running = false
	return true
}

func (s *fakeServer) Restart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	s.running = s.startOK
	return s.startOK
}

func (s *fakeServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *fakeServer) State() indiserver.State {
	if s.IsRunning() {
		return indiserver.StateRunning
	}
	return indiserver.StateStopped
}

func (s *fakeServer) Uptime() (time.Duration, bool) { return time.Minute, s.IsRunning() }
func (s *fakeServer) LastError() string             { return "" }
func (s *fakeServer) FifoPath() string              { return s.fifoPath }
func (s *fakeServer) Stats() indiserver.Stats        { return indiserver.Stats{State: s.State(), FifoPath: s.fifoPath} }

func (s *fakeServer) SetEventHandler(h indiserver.EventHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *fakeServer) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

type fakeChannel struct {
	mu     sync.Mutex
	fail   bool
	sent   []string
	path   string
	paused bool
	events []string
}

func (f *fakeChannel) Send(cmd fifo.Command) fifo.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "send")
	if f.fail {
		return fifo.Result{Err: fifo.ErrNoReader}
	}
	f.sent = append(f.sent, cmd.Build())
	return fifo.Result{Success: true}
}

func (f *fakeChannel) SendAsync(cmd fifo.Command, cb fifo.Callback) {
	res := f.Send(cmd)
	if cb != nil {
		cb(res)
	}
}

func (f *fakeChannel) SetPath(path string) {
	f.mu.Lock()
	f.path = path
	f.events = append(f.events, "setpath")
	f.mu.Unlock()
}

func (f *fakeChannel) Reopen() error {
	f.mu.Lock()
	f.events = append(f.events, "reopen")
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Release() {
	f.mu.Lock()
	f.events = append(f.events, "release")
	f.mu.Unlock()
}

func (f *fakeChannel) Pause() {
	f.mu.Lock()
	f.paused = true
	f.events = append(f.events, "pause")
	f.mu.Unlock()
}

func (f *fakeChannel) Resume() {
	f.mu.Lock()
	f.paused = false
	f.events = append(f.events, "resume")
	f.mu.Unlock()
}

func (f *fakeChannel) WaitForPending(time.Duration) bool {
	f.mu.Lock()
	f.events = append(f.events, "drain")
	f.mu.Unlock()
	return true
}

func (f *fakeChannel) Stats() fifo.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fifo.Stats{CommandsSent: uint64(len(f.sent))}
}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeChannel) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type driverEvent struct {
	label   string
	started bool
}

func newTestConnector(t *testing.T) (*Connector, *fakeServer, *fakeChannel, *[]driverEvent) {
	t.Helper()
	srv := newFakeServer()
	ch := &fakeChannel{}
	c := New(Options{Server: srv, Channel: ch})

	var events []driverEvent
	c.SetDriverEventHandler(func(label string, started bool) {
		events = append(events, driverEvent{label, started})
	})
	return c, srv, ch, &events
}

func TestStartDriverByName(t *testing.T) {
	c, _, ch, events := newTestConnector(t)

	if !c.StartDriverByName("ccd_simulator", "") {
		t.Fatal("StartDriverByName() = false")
	}

	if got := ch.written(); !slices.Equal(got, []string{"start ccd_simulator\n"}) {
		t.Errorf("written = %q", got)
	}
	drivers := c.RunningDrivers()
	want := Driver{Label: "ccd_simulator", Binary: "ccd_simulator"}
	if len(drivers) != 1 || drivers["ccd_simulator"] != want {
		t.Errorf("RunningDrivers() = %+v, want {ccd_simulator: %+v}", drivers, want)
	}
	if len(*events) != 1 || (*events)[0] != (driverEvent{"ccd_simulator", true}) {
		t.Errorf("events = %+v", *events)
	}
}

func TestStartDriver_RequiresRunningServer(t *testing.T) {
	c, srv, ch, events := newTestConnector(t)
	srv.setRunning(false)

	if c.StartDriver(Driver{Label: "ccd", Binary: "indi_simulator_ccd"}) {
		t.Fatal("StartDriver() = true with server down")
	}
	if c.StopDriver(Driver{Label: "ccd", Binary: "indi_simulator_ccd"}) {
		t.Error("StopDriver() = true with server down")
	}
	if c.RestartDriver(Driver{Binary: "indi_simulator_ccd"}) {
		t.Error("RestartDriver() = true with server down")
	}
	if len(ch.written()) != 0 {
		t.Errorf("channel touched: %q", ch.written())
	}
	if len(*events) != 0 {
		t.Errorf("events fired: %+v", *events)
	}
}

func TestStartDriver_ChannelFailure(t *testing.T) {
	c, _, ch, events := newTestConnector(t)
	ch.setFail(true)

	if c.StartDriver(Driver{Label: "ccd", Binary: "indi_simulator_ccd"}) {
		t.Fatal("StartDriver() = true on channel failure")
	}
	if c.IsDriverRunning("ccd") {
		t.Error("driver registered despite failure")
	}
	if len(*events) != 0 {
		t.Errorf("events fired: %+v", *events)
	}
}

func TestStopDriver_RemovesEntryEvenOnFailure(t *testing.T) {
	c, _, ch, events := newTestConnector(t)
	d := Driver{Label: "ccd", Binary: "indi_simulator_ccd"}

	c.StartDriver(d)
	ch.setFail(true)

	if !c.StopDriver(d) {
		t.Error("StopDriver() = false; removal is best effort")
	}
	if c.IsDriverRunning("ccd") {
		t.Error("registry entry kept after failed stop")
	}
	// Only the start event fired.
	if len(*events) != 1 {
		t.Errorf("events = %+v, want only the start", *events)
	}
}

func TestStopDriver_Success(t *testing.T) {
	c, _, ch, events := newTestConnector(t)
	d := Driver{Label: "ccd", Binary: "indi_simulator_ccd"}

	c.StartDriver(d)
	if !c.StopDriver(d) {
		t.Fatal("StopDriver() = false")
	}
	if c.RunningDriverCount() != 0 {
		t.Errorf("RunningDriverCount() = %d, want 0", c.RunningDriverCount())
	}
	if got := ch.written(); len(got) != 2 || got[1] != "stop indi_simulator_ccd\n" {
		t.Errorf("written = %q", got)
	}
	if last := (*events)[len(*events)-1]; last != (driverEvent{"ccd", false}) {
		t.Errorf("last event = %+v", last)
	}
}

func TestStopDriverByName_ReportsDelivery(t *testing.T) {
	c, _, ch, events := newTestConnector(t)

	c.StartDriverByName("indi_x", "")
	ch.setFail(true)

	if c.StopDriverByName("indi_x") {
		t.Error("StopDriverByName() = true on channel failure")
	}
	if c.IsDriverRunning("indi_x") {
		t.Error("registry entry kept")
	}
	if last := (*events)[len(*events)-1]; last != (driverEvent{"indi_x", false}) {
		t.Errorf("last event = %+v, want stop event regardless", last)
	}
}

func TestRestartDriver(t *testing.T) {
	c, _, ch, _ := newTestConnector(t)

	if !c.RestartDriver(Driver{Binary: "indi_x", Skeleton: "/tmp/sk.xml"}) {
		t.Fatal("RestartDriver() = false")
	}
	want := "stop indi_x\nstart indi_x -s \"/tmp/sk.xml\"\n"
	if got := ch.written(); len(got) != 1 || got[0] != want {
		t.Errorf("written = %q, want %q", got, want)
	}
	if c.RunningDriverCount() != 0 {
		t.Error("RestartDriver changed the registry")
	}
}

func TestRunningDrivers_ReturnsCopy(t *testing.T) {
	c, _, _, _ := newTestConnector(t)
	c.StartDriverByName("indi_x", "")

	drivers := c.RunningDrivers()
	delete(drivers, "indi_x")
	if !c.IsDriverRunning("indi_x") {
		t.Error("mutating RunningDrivers() result changed the registry")
	}
}

func TestStartServer(t *testing.T) {
	c, srv, ch, _ := newTestConnector(t)

	// Already running: nothing to do.
	if !c.StartServer() {
		t.Fatal("StartServer() = false while running")
	}
	if ch.path != "" {
		t.Error("path changed for an already running server")
	}

	srv.setRunning(false)
	if !c.StartServer() {
		t.Fatal("StartServer() = false")
	}
	if ch.path != "/tmp/test.fifo" {
		t.Errorf("channel path = %q, want server FIFO", ch.path)
	}
	if !slices.Equal(ch.events, []string{"setpath", "reopen"}) {
		t.Errorf("channel events = %v, want setpath then reopen", ch.events)
	}

	srv.setRunning(false)
	srv.startOK = false
	if c.StartServer() {
		t.Error("StartServer() = true when start fails")
	}
}

func TestStopServer(t *testing.T) {
	c, srv, ch, events := newTestConnector(t)
	c.StartDriver(Driver{Label: "ccd", Binary: "indi_simulator_ccd"})
	c.StartDriver(Driver{Label: "mount", Binary: "indi_simulator_telescope"})

	if !c.StopServer() {
		t.Fatal("StopServer() = false")
	}
	if c.RunningDriverCount() != 0 {
		t.Errorf("RunningDriverCount() = %d after StopServer", c.RunningDriverCount())
	}

	got := ch.written()[2:]
	slices.Sort(got)
	want := []string{"stop indi_simulator_ccd\n", "stop indi_simulator_telescope\n"}
	if !slices.Equal(got, want) {
		t.Errorf("stop commands = %q, want %q", got, want)
	}
	if !slices.Contains(ch.events, "drain") {
		t.Error("queue not drained before stop")
	}
	if last := ch.events[len(ch.events)-1]; last != "release" {
		t.Errorf("last channel event = %q, want persistent handle released", last)
	}
	if len(srv.stops) != 1 || srv.stops[0] {
		t.Errorf("server stops = %v, want one graceful stop", srv.stops)
	}
	if len(*events) != 4 {
		t.Errorf("events = %+v, want 2 starts and 2 stops", *events)
	}
}

func TestRestartServer_ReloadsDrivers(t *testing.T) {
	c, srv, ch, _ := newTestConnector(t)
	c.StartDriver(Driver{Label: "ccd", Binary: "indi_simulator_ccd"})
	c.StartDriver(Driver{Label: "mount", Binary: "indi_simulator_telescope", Skeleton: "/tmp/m.xml"})

	if !c.RestartServer() {
		t.Fatal("RestartServer() = false")
	}
	if srv.restarts != 1 {
		t.Errorf("server restarts = %d, want 1", srv.restarts)
	}
	if c.RunningDriverCount() != 2 {
		t.Errorf("RunningDriverCount() = %d, want 2", c.RunningDriverCount())
	}

	got := ch.written()[2:]
	want := []string{"start indi_simulator_ccd\n", "start indi_simulator_telescope -s \"/tmp/m.xml\"\n"}
	if !slices.Equal(got, want) {
		t.Errorf("reload commands = %q, want %q", got, want)
	}

	// Pause, drop the stale handle, re-point and reopen, resume, then reload.
	ev := ch.events[2:]
	wantEv := []string{"pause", "release", "setpath", "reopen", "resume", "send", "send"}
	if !slices.Equal(ev, wantEv) {
		t.Errorf("channel events = %v, want %v", ev, wantEv)
	}
}

func TestRestartServer_Failure(t *testing.T) {
	c, srv, ch, _ := newTestConnector(t)
	c.StartDriverByName("indi_x", "")
	srv.startOK = false

	if c.RestartServer() {
		t.Fatal("RestartServer() = true when restart fails")
	}
	if c.RunningDriverCount() != 0 {
		t.Error("registry kept after failed restart")
	}
	if ch.paused {
		t.Error("channel left paused")
	}
}

func TestSendCommand(t *testing.T) {
	c, _, ch, _ := newTestConnector(t)

	if res := c.SendCommand("start indi_x"); !res.Success {
		t.Fatalf("SendCommand() failed: %v", res.Err)
	}
	if got := ch.written(); len(got) != 1 || got[0] != "start indi_x\n" {
		t.Errorf("written = %q", got)
	}
	if c.FifoStats().CommandsSent != 1 {
		t.Errorf("FifoStats().CommandsSent = %d", c.FifoStats().CommandsSent)
	}

	var res fifo.Result
	c.SendCommandAsync("stop indi_x", func(r fifo.Result) { res = r })
	if !res.Success {
		t.Errorf("SendCommandAsync() result = %+v", res)
	}
}

func TestSnapshotRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drivers.json")
	srv := newFakeServer()
	ch := &fakeChannel{}
	c := New(Options{Server: srv, Channel: ch, StatePath: path})

	c.StartDriver(Driver{Label: "mount", Binary: "indi_simulator_telescope"})
	c.StartDriver(Driver{Label: "ccd", Binary: "indi_simulator_ccd", Skeleton: "/tmp/sk.xml"})

	s, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot() error: %v", err)
	}
	if len(s.Drivers) != 2 || s.Drivers[0].Label != "ccd" || s.Drivers[1].Label != "mount" {
		t.Errorf("snapshot drivers = %+v, want sorted ccd, mount", s.Drivers)
	}

	// A fresh connector (starport restarted) restores from the same file.
	ch2 := &fakeChannel{}
	c2 := New(Options{Server: srv, Channel: ch2, StatePath: path})
	n, err := c2.Restore()
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if n != 2 {
		t.Errorf("Restore() = %d, want 2", n)
	}
	if !c2.IsDriverRunning("ccd") || !c2.IsDriverRunning("mount") {
		t.Errorf("restored registry = %+v", c2.RunningDrivers())
	}

	// Restoring again starts nothing new.
	if n, _ := c2.Restore(); n != 0 {
		t.Errorf("second Restore() = %d, want 0", n)
	}
}

func TestLoadSnapshot_Missing(t *testing.T) {
	s, err := LoadSnapshot(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("LoadSnapshot(missing) error: %v", err)
	}
	if len(s.Drivers) != 0 {
		t.Errorf("Drivers = %+v, want empty", s.Drivers)
	}
}

type fakeProps struct {
	out  string
	err  error
	args []string
}

func (f *fakeProps) Run(_ context.Context, name string, args ...string) (string, error) {
	f.args = append([]string{name}, args...)
	return f.out, f.err
}

func TestSetProp(t *testing.T) {
	props := &fakeProps{}
	c := New(Options{Server: newFakeServer(), Channel: &fakeChannel{}, Props: props})

	if err := c.SetProp(context.Background(), "CCD Simulator", "CONNECTION", "CONNECT", "On"); err != nil {
		t.Fatalf("SetProp() error: %v", err)
	}
	want := []string{"indi_setprop", "CCD Simulator.CONNECTION.CONNECT=On"}
	if !slices.Equal(props.args, want) {
		t.Errorf("ran %q, want %q", props.args, want)
	}

	props.out = "No property found\n"
	if err := c.SetProp(context.Background(), "X", "Y", "Z", "1"); err == nil {
		t.Error("SetProp() with output expected error")
	}
}

func TestGetProp(t *testing.T) {
	props := &fakeProps{out: "CCD Simulator.CCD_TEMPERATURE.CCD_TEMPERATURE_VALUE=-10.5\n"}
	c := New(Options{Server: newFakeServer(), Channel: &fakeChannel{}, Props: props})

	v, err := c.GetProp(context.Background(), "CCD Simulator", "CCD_TEMPERATURE", "CCD_TEMPERATURE_VALUE")
	if err != nil {
		t.Fatalf("GetProp() error: %v", err)
	}
	if v != "-10.5" {
		t.Errorf("GetProp() = %q, want -10.5", v)
	}

	props.out = "Busy\n"
	if _, err := c.GetState(context.Background(), "CCD Simulator", "CCD_EXPOSURE"); err == nil {
		t.Error("GetState() with malformed output expected error")
	}
	if props.args[1] != "CCD Simulator.CCD_EXPOSURE._STATE" {
		t.Errorf("GetState ran %q", props.args)
	}

	props.err = errors.New("exit status 1")
	if _, err := c.GetProp(context.Background(), "a", "b", "c"); err == nil {
		t.Error("GetProp() with runner error expected error")
	}
}

func TestDevices(t *testing.T) {
	props := &fakeProps{out: `CCD Simulator.CONNECTION.CONNECT=On
Telescope Simulator.CONNECTION.CONNECT=Off
garbage line
Focuser v1.2.CONNECTION.CONNECT = On
`}
	c := New(Options{Server: newFakeServer(), Channel: &fakeChannel{}, Props: props})

	devices, err := c.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error: %v", err)
	}
	want := []Device{
		{Name: "CCD Simulator", Connected: true},
		{Name: "Telescope Simulator", Connected: false},
		{Name: "Focuser v1.2", Connected: true},
	}
	if !slices.Equal(devices, want) {
		t.Errorf("Devices() = %+v, want %+v", devices, want)
	}
}

func TestPropsWithoutRunner(t *testing.T) {
	c := New(Options{Server: newFakeServer(), Channel: &fakeChannel{}})
	if _, err := c.Devices(context.Background()); !errors.Is(err, ErrNoPropertyRunner) {
		t.Errorf("Devices() error = %v, want ErrNoPropertyRunner", err)
	}
}
