package api

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/starport-core/internal/auth"
	"github.com/nerrad567/starport-core/internal/connector"
	"github.com/nerrad567/starport-core/internal/fifo"
	"github.com/nerrad567/starport-core/internal/history"
	"github.com/nerrad567/starport-core/internal/indiserver"
	"github.com/nerrad567/starport-core/internal/infrastructure/config"
	"github.com/nerrad567/starport-core/internal/infrastructure/logging"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type fakeController struct {
	mu        sync.Mutex
	running   bool
	fail      bool
	lastError string
	drivers   map[string]connector.Driver
	sent      []string
	props     map[string]string
	devErr    error
}

func newFakeController() *fakeController {
	return &fakeController{
		running: true,
		drivers: make(map[string]connector.Driver),
		props:   make(map[string]string),
	}
}

func (f *fakeController) StartServer() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		f.lastError = "address in use"
		return false
	}
	f.running = true
	return true
}

func (f *fakeController) StopServer() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return !f.fail
}

func (f *fakeController) RestartServer() bool { return f.StartServer() }

func (f *fakeController) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeController) ServerStats() indiserver.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := indiserver.Stats{State: indiserver.StateStopped, Address: "localhost:7624", LastError: f.lastError}
	if f.running {
		st.State = indiserver.StateRunning
		st.PID = 4242
	}
	return st
}

func (f *fakeController) StartDriver(d connector.Driver) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false
	}
	f.drivers[d.Label] = d
	return true
}

func (f *fakeController) StopDriver(d connector.Driver) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.drivers, d.Label)
	return true
}

func (f *fakeController) RestartDriver(connector.Driver) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.fail
}

func (f *fakeController) RunningDrivers() map[string]connector.Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.drivers)
}

func (f *fakeController) SendCommand(text string) fifo.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fifo.Result{Err: fifo.ErrNoReader}
	}
	f.sent = append(f.sent, text)
	return fifo.Result{Success: true, Duration: 3 * time.Millisecond}
}

func (f *fakeController) FifoStats() fifo.Stats {
	return fifo.Stats{CommandsSent: 7, Path: "/tmp/indififo"}
}

func (f *fakeController) Devices(context.Context) ([]connector.Device, error) {
	if f.devErr != nil {
		return nil, f.devErr
	}
	return []connector.Device{{Name: "Telescope Simulator", Connected: true}}, nil
}

func (f *fakeController) GetProp(_ context.Context, dev, prop, elem string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.props[dev+"."+prop+"."+elem], nil
}

func (f *fakeController) GetState(context.Context, string, string) (string, error) {
	return "Ok", nil
}

func (f *fakeController) SetProp(_ context.Context, dev, prop, elem, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.props[dev+"."+prop+"."+elem] = value
	return nil
}

type memoryHistory struct {
	server []history.ServerEvent
	driver []history.DriverEvent
	err    error
}

func (m *memoryHistory) RecordServerEvent(context.Context, *history.ServerEvent) error { return nil }
func (m *memoryHistory) RecordDriverEvent(context.Context, *history.DriverEvent) error { return nil }

func (m *memoryHistory) RecentServerEvents(context.Context, int) ([]history.ServerEvent, error) {
	return m.server, m.err
}

func (m *memoryHistory) RecentDriverEvents(_ context.Context, limit int) ([]history.DriverEvent, error) {
	if limit > 0 && limit < len(m.driver) {
		return m.driver[:limit], m.err
	}
	return m.driver, m.err
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "json", Output: "stdout"}, "test")
}

func testServer(t *testing.T, ctl Controller, hist history.Repository) *Server {
	t.Helper()
	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:         config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security:   config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
		Logger:     testLogger(),
		Controller: ctl,
		History:    hist,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.IssueToken("test-client", role, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return tok
}

// do sends a request through the router with an optional bearer token.
func do(t *testing.T, srv *Server, method, path, body, tok string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func TestNewValidation(t *testing.T) {
	ctl := newFakeController()
	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Controller: ctl, Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}}}},
		{"no controller", Deps{Logger: testLogger(), Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}}}},
		{"weak secret", Deps{Logger: testLogger(), Controller: ctl, Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: "short"}}}},
	}
	for _, tt := range tests {
		if _, err := New(tt.deps); err == nil {
			t.Errorf("%s: New() error = nil", tt.name)
		}
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t, newFakeController(), nil)
	w := do(t, srv, http.MethodGet, "/api/v1/health", "", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "ok" || resp["version"] != "test" || resp["indiserver"] != true {
		t.Errorf("health = %v", resp)
	}
}

func TestRequestID(t *testing.T) {
	srv := testServer(t, newFakeController(), nil)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := testServer(t, newFakeController(), nil)
	srv.cfg.CORS.AllowedOrigins = []string{"http://astro.local"}

	for _, tt := range []struct {
		origin string
		want   string
	}{
		{"http://astro.local", "http://astro.local"},
		{"http://evil.example", ""},
	} {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/server", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		srv.buildRouter().ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("%s: status = %d, want 204", tt.origin, w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("%s: ACAO = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	srv := testServer(t, newFakeController(), nil)
	expired, err := auth.IssueToken("old", auth.RoleOperator, "another-secret-that-is-32-chars-long!", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		tok  string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", expired},
	}
	for _, tt := range tests {
		w := do(t, srv, http.MethodGet, "/api/v1/server", "", tt.tok)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", tt.name, w.Code)
		}
	}
}

func TestPermissions(t *testing.T) {
	viewer := token(t, auth.RoleViewer)
	operator := token(t, auth.RoleOperator)

	tests := []struct {
		method, path, body, tok string
		want                    int
	}{
		{http.MethodGet, "/api/v1/server", "", viewer, http.StatusOK},
		{http.MethodPost, "/api/v1/server/restart", "", viewer, http.StatusForbidden},
		{http.MethodPost, "/api/v1/server/restart", "", operator, http.StatusOK},
		{http.MethodPost, "/api/v1/drivers", `{"binary":"indi_x"}`, viewer, http.StatusForbidden},
		{http.MethodPost, "/api/v1/commands", `{"text":"start indi_x"}`, viewer, http.StatusForbidden},
		{http.MethodGet, "/api/v1/fifo/stats", "", viewer, http.StatusOK},
	}
	for _, tt := range tests {
		srv := testServer(t, newFakeController(), nil)
		w := do(t, srv, tt.method, tt.path, tt.body, tt.tok)
		if w.Code != tt.want {
			t.Errorf("%s %s: status = %d, want %d (%s)", tt.method, tt.path, w.Code, tt.want, w.Body.String())
		}
	}
}

func TestServerLifecycle(t *testing.T) {
	ctl := newFakeController()
	srv := testServer(t, ctl, nil)
	op := token(t, auth.RoleOperator)

	w := do(t, srv, http.MethodPost, "/api/v1/server/stop", "", op)
	if w.Code != http.StatusOK {
		t.Fatalf("stop status = %d", w.Code)
	}
	var st map[string]any
	decode(t, w, &st)
	if st["running"] != false || st["state"] != "stopped" {
		t.Errorf("after stop = %v", st)
	}

	ctl.fail = true
	w = do(t, srv, http.MethodPost, "/api/v1/server/start", "", op)
	if w.Code != http.StatusConflict {
		t.Fatalf("failed start status = %d, want 409", w.Code)
	}
	var apiErr Error
	decode(t, w, &apiErr)
	if apiErr.Code != ErrCodeOperationFailed || !strings.Contains(apiErr.Message, "address in use") {
		t.Errorf("error = %+v", apiErr)
	}
}

func TestDrivers(t *testing.T) {
	ctl := newFakeController()
	ctl.drivers["mount"] = connector.Driver{Label: "mount", Binary: "indi_eqmod_telescope"}
	srv := testServer(t, ctl, nil)
	op := token(t, auth.RoleOperator)

	w := do(t, srv, http.MethodPost, "/api/v1/drivers", `{"binary":"indi_asi_ccd"}`, op)
	if w.Code != http.StatusCreated {
		t.Fatalf("start status = %d: %s", w.Code, w.Body.String())
	}
	var started connector.Driver
	decode(t, w, &started)
	if started.Label != "indi_asi_ccd" {
		t.Errorf("label = %q, want binary as default", started.Label)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/drivers", "", op)
	var list struct {
		Drivers []connector.Driver `json:"drivers"`
	}
	decode(t, w, &list)
	if len(list.Drivers) != 2 || list.Drivers[0].Label != "indi_asi_ccd" || list.Drivers[1].Label != "mount" {
		t.Errorf("drivers = %+v, want sorted by label", list.Drivers)
	}

	if w := do(t, srv, http.MethodPost, "/api/v1/drivers", `{"label":"x"}`, op); w.Code != http.StatusBadRequest {
		t.Errorf("missing binary status = %d, want 400", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/api/v1/drivers", `{`, op); w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want 400", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/api/v1/drivers/mount/restart", "", op); w.Code != http.StatusOK {
		t.Errorf("restart status = %d, want 200", w.Code)
	}
	if w := do(t, srv, http.MethodDelete, "/api/v1/drivers/ghost", "", op); w.Code != http.StatusNotFound {
		t.Errorf("stop unknown status = %d, want 404", w.Code)
	}
	if w := do(t, srv, http.MethodDelete, "/api/v1/drivers/mount", "", op); w.Code != http.StatusNoContent {
		t.Errorf("stop status = %d, want 204", w.Code)
	}
	if _, ok := ctl.RunningDrivers()["mount"]; ok {
		t.Error("mount still registered after DELETE")
	}
}

func TestSendCommand(t *testing.T) {
	ctl := newFakeController()
	srv := testServer(t, ctl, nil)
	op := token(t, auth.RoleOperator)

	w := do(t, srv, http.MethodPost, "/api/v1/commands", `{"text":"stop indi_x"}`, op)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(ctl.sent) != 1 || ctl.sent[0] != "stop indi_x" {
		t.Errorf("sent = %v", ctl.sent)
	}

	if w := do(t, srv, http.MethodPost, "/api/v1/commands", `{"text":" "}`, op); w.Code != http.StatusBadRequest {
		t.Errorf("empty text status = %d, want 400", w.Code)
	}

	ctl.fail = true
	if w := do(t, srv, http.MethodPost, "/api/v1/commands", `{"text":"x"}`, op); w.Code != http.StatusConflict {
		t.Errorf("failed send status = %d, want 409", w.Code)
	}
}

func TestDevicesAndProps(t *testing.T) {
	ctl := newFakeController()
	srv := testServer(t, ctl, nil)
	op := token(t, auth.RoleOperator)

	w := do(t, srv, http.MethodGet, "/api/v1/devices", "", op)
	var devs struct {
		Devices []connector.Device `json:"devices"`
	}
	decode(t, w, &devs)
	if len(devs.Devices) != 1 || devs.Devices[0].Name != "Telescope Simulator" {
		t.Errorf("devices = %+v", devs.Devices)
	}

	w = do(t, srv, http.MethodPut, "/api/v1/devices/CCD/props/CONNECTION", `{"element":"CONNECT","value":"On"}`, op)
	if w.Code != http.StatusOK {
		t.Fatalf("set prop status = %d: %s", w.Code, w.Body.String())
	}

	w = do(t, srv, http.MethodGet, "/api/v1/devices/CCD/props/CONNECTION?element=CONNECT", "", op)
	var pv propValue
	decode(t, w, &pv)
	if pv.Value != "On" || pv.Element != "CONNECT" {
		t.Errorf("get prop = %+v", pv)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/devices/CCD/props/CONNECTION", "", op)
	decode(t, w, &pv)
	if pv.Value != "Ok" {
		t.Errorf("get state = %+v, want Ok", pv)
	}

	if w := do(t, srv, http.MethodPut, "/api/v1/devices/CCD/props/CONNECTION", `{"value":"On"}`, op); w.Code != http.StatusBadRequest {
		t.Errorf("set without element status = %d, want 400", w.Code)
	}

	ctl.devErr = errors.New("indi_getprop: connection refused")
	if w := do(t, srv, http.MethodGet, "/api/v1/devices", "", op); w.Code != http.StatusBadGateway {
		t.Errorf("devices error status = %d, want 502", w.Code)
	}
}

func TestHistory(t *testing.T) {
	viewer := token(t, auth.RoleViewer)

	srv := testServer(t, newFakeController(), nil)
	if w := do(t, srv, http.MethodGet, "/api/v1/history/server", "", viewer); w.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled status = %d, want 503", w.Code)
	}

	hist := &memoryHistory{
		server: []history.ServerEvent{{ID: "srv-1", State: "running"}},
		driver: []history.DriverEvent{{ID: "drv-2", Label: "ccd"}, {ID: "drv-1", Label: "mount", Started: true}},
	}
	srv = testServer(t, newFakeController(), hist)

	w := do(t, srv, http.MethodGet, "/api/v1/history/drivers?limit=1", "", viewer)
	var resp struct {
		Events []history.DriverEvent `json:"events"`
	}
	decode(t, w, &resp)
	if len(resp.Events) != 1 || resp.Events[0].ID != "drv-2" {
		t.Errorf("events = %+v", resp.Events)
	}

	if w := do(t, srv, http.MethodGet, "/api/v1/history/server", "", viewer); w.Code != http.StatusOK {
		t.Errorf("server history status = %d", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/api/v1/history/drivers?limit=-3", "", viewer); w.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", w.Code)
	}

	hist.err = errors.New("disk I/O error")
	if w := do(t, srv, http.MethodGet, "/api/v1/history/server", "", viewer); w.Code != http.StatusInternalServerError {
		t.Errorf("repository error status = %d, want 500", w.Code)
	}
}

func TestServerStartAndClose(t *testing.T) {
	srv := testServer(t, newFakeController(), nil)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
