package api

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/starport-core/internal/audit"
	"github.com/nerrad567/starport-core/internal/connector"
	"github.com/nerrad567/starport-core/internal/indiserver"
)

type serverStatus struct {
	indiserver.Stats
	Running bool `json:"running"`
	Drivers int  `json:"drivers"`
}

func (s *Server) status() serverStatus {
	return serverStatus{
		Stats:   s.ctl.ServerStats(),
		Running: s.ctl.IsRunning(),
		Drivers: len(s.ctl.RunningDrivers()),
	}
}

func (s *Server) handleGetServer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStartServer(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "start", audit.ActionServerStart, s.ctl.StartServer)
}

func (s *Server) handleStopServer(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "stop", audit.ActionServerStop, s.ctl.StopServer)
}

func (s *Server) handleRestartServer(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "restart", audit.ActionServerRestart, s.ctl.RestartServer)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, verb, action string, op func() bool) {
	if !op() {
		msg := "failed to " + verb + " indiserver"
		if last := s.ctl.ServerStats().LastError; last != "" {
			msg += ": " + last
		}
		s.record(r, action, "", false, msg)
		writeFailed(w, msg)
		return
	}
	s.record(r, action, "", true, "")
	writeJSON(w, http.StatusOK, s.status())
}

// record adds a control request to the audit trail, attributed to the
// token subject.
func (s *Server) record(r *http.Request, action, target string, ok bool, detail string) {
	e := audit.Entry{
		Action:  action,
		Target:  target,
		Source:  audit.SourceAPI,
		Success: ok,
		Detail:  detail,
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		e.Subject = claims.Subject
	}
	s.trail.Record(r.Context(), e)
}

func (s *Server) handleListDrivers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"drivers": s.sortedDrivers()})
}

func (s *Server) sortedDrivers() []connector.Driver {
	running := s.ctl.RunningDrivers()
	out := make([]connector.Driver, 0, len(running))
	for _, d := range running {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b connector.Driver) int { return cmp.Compare(a.Label, b.Label) })
	return out
}

func (s *Server) handleStartDriver(w http.ResponseWriter, r *http.Request) {
	var d connector.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	d.Binary = strings.TrimSpace(d.Binary)
	if d.Binary == "" {
		writeBadRequest(w, "binary is required")
		return
	}
	if d.Label == "" {
		d.Label = d.Binary
	}

	if !s.ctl.StartDriver(d) {
		s.record(r, audit.ActionDriverStart, d.Label, false, "")
		writeFailed(w, "failed to start driver "+d.Label)
		return
	}
	s.record(r, audit.ActionDriverStart, d.Label, true, "")
	writeJSON(w, http.StatusCreated, d)
}

// runningDriver looks up the {label} URL parameter in the registry.
func (s *Server) runningDriver(w http.ResponseWriter, r *http.Request) (connector.Driver, bool) {
	label := chi.URLParam(r, "label")
	d, ok := s.ctl.RunningDrivers()[label]
	if !ok {
		writeNotFound(w, "driver "+label+" is not running")
	}
	return d, ok
}

func (s *Server) handleStopDriver(w http.ResponseWriter, r *http.Request) {
	d, ok := s.runningDriver(w, r)
	if !ok {
		return
	}
	ok = s.ctl.StopDriver(d)
	s.record(r, audit.ActionDriverStop, d.Label, ok, "")
	if !ok {
		writeFailed(w, "failed to stop driver "+d.Label)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestartDriver(w http.ResponseWriter, r *http.Request) {
	d, ok := s.runningDriver(w, r)
	if !ok {
		return
	}
	ok = s.ctl.RestartDriver(d)
	s.record(r, audit.ActionDriverRestart, d.Label, ok, "")
	if !ok {
		writeFailed(w, "failed to restart driver "+d.Label)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type commandRequest struct {
	Text string `json:"text"`
}

type commandResponse struct {
	OK         bool   `json:"ok"`
	DurationMS int64  `json:"duration_ms"`
	Message    string `json:"message"`
}

func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeBadRequest(w, "text is required")
		return
	}

	res := s.ctl.SendCommand(req.Text)
	s.record(r, audit.ActionCommand, strings.TrimSpace(req.Text), res.Success, failureDetail(res.Success, res.Message()))
	if !res.Success {
		writeFailed(w, res.Message())
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{
		OK:         true,
		DurationMS: res.Duration.Milliseconds(),
		Message:    res.Message(),
	})
}

func (s *Server) handleFifoStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.FifoStats())
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.ctl.Devices(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

type propValue struct {
	Device  string `json:"device"`
	Prop    string `json:"prop"`
	Element string `json:"element,omitempty"`
	Value   string `json:"value"`
}

// handleGetProp returns one element's value, or the property state when no
// ?element= is given.
func (s *Server) handleGetProp(w http.ResponseWriter, r *http.Request) {
	pv := propValue{
		Device:  chi.URLParam(r, "device"),
		Prop:    chi.URLParam(r, "prop"),
		Element: r.URL.Query().Get("element"),
	}

	var err error
	if pv.Element == "" {
		pv.Value, err = s.ctl.GetState(r.Context(), pv.Device, pv.Prop)
	} else {
		pv.Value, err = s.ctl.GetProp(r.Context(), pv.Device, pv.Prop, pv.Element)
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

func (s *Server) handleSetProp(w http.ResponseWriter, r *http.Request) {
	var pv propValue
	if err := json.NewDecoder(r.Body).Decode(&pv); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if pv.Element == "" {
		writeBadRequest(w, "element is required")
		return
	}
	pv.Device = chi.URLParam(r, "device")
	pv.Prop = chi.URLParam(r, "prop")

	target := fmt.Sprintf("%s.%s.%s=%s", pv.Device, pv.Prop, pv.Element, pv.Value)
	if err := s.ctl.SetProp(r.Context(), pv.Device, pv.Prop, pv.Element, pv.Value); err != nil {
		s.record(r, audit.ActionSetProp, target, false, err.Error())
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		return
	}
	s.record(r, audit.ActionSetProp, target, true, "")
	writeJSON(w, http.StatusOK, pv)
}

func failureDetail(ok bool, msg string) string {
	if ok {
		return ""
	}
	return msg
}

func (s *Server) handleServerHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	events, err := s.history.RecentServerEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing server history", "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleDriverHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	events, err := s.history.RecentDriverEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing driver history", "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// parseLimit reads ?limit=. Zero means the repository default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeBadRequest(w, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// handleAuditLog lists the control trail, filtered by ?action=, ?source=
// and ?subject= and paged by ?limit= and ?offset=.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	q := r.URL.Query()
	res, err := s.audit.List(r.Context(), audit.Filter{
		Action:  q.Get("action"),
		Source:  q.Get("source"),
		Subject: q.Get("subject"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.logger.Error("listing audit log", "error", err)
		writeInternalError(w, "failed to read audit log")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
