package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/starport-core/internal/audit"
	"github.com/nerrad567/starport-core/internal/connector"
	"github.com/nerrad567/starport-core/internal/fifo"
	"github.com/nerrad567/starport-core/internal/infrastructure/config"
	"github.com/nerrad567/starport-core/internal/infrastructure/mqtt"
)

// Command actions accepted on the command topic.
const (
	ActionStart         = "start"
	ActionStop          = "stop"
	ActionRestart       = "restart"
	ActionRaw           = "raw"
	ActionServerStart   = "server_start"
	ActionServerStop    = "server_stop"
	ActionServerRestart = "server_restart"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrMissingField  = errors.New("missing field")
	ErrRateLimited   = errors.New("rate limited")
	ErrCommandFailed = errors.New("command failed")
)

// Controller is the part of *connector.Connector driven by remote commands.
type Controller interface {
	StartServer() bool
	StopServer() bool
	RestartServer() bool
	StartDriver(d connector.Driver) bool
	StopDriver(d connector.Driver) bool
	RestartDriver(d connector.Driver) bool
	RunningDrivers() map[string]connector.Driver
	SendCommand(text string) fifo.Result
}

// CommandRequest is the JSON body published to the command topic.
//
//	{"id":"42","action":"start","label":"mount","binary":"indi_eqmod_telescope"}
//	{"action":"raw","text":"stop indi_simulator_ccd"}
type CommandRequest struct {
	ID       string `json:"id,omitempty"`
	Action   string `json:"action"`
	Label    string `json:"label,omitempty"`
	Binary   string `json:"binary,omitempty"`
	Skeleton string `json:"skeleton,omitempty"`
	Text     string `json:"text,omitempty"`
}

// CommandResult is published to the result topic for every request.
type CommandResult struct {
	ID        string    `json:"id,omitempty"`
	Action    string    `json:"action"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandHandler executes remote driver commands against a Controller.
type CommandHandler struct {
	ctl     Controller
	limiter *rate.Limiter
	results JSONPublisher
	logger  Logger
	trail   *audit.Recorder
}

// NewCommandHandler creates a handler limited to cfg.Rate commands per
// second with bursts of cfg.Burst. results may be nil.
func NewCommandHandler(ctl Controller, cfg config.MQTTCommandConfig, results JSONPublisher, logger Logger) *CommandHandler {
	if logger == nil {
		logger = noopLogger{}
	}
	limit := rate.Limit(cfg.Rate)
	if cfg.Rate <= 0 {
		limit = rate.Inf
	}
	return &CommandHandler{
		ctl:     ctl,
		limiter: rate.NewLimiter(limit, max(cfg.Burst, 1)),
		results: results,
		logger:  logger,
	}
}

// SetAudit records every executed command in trail. Call before the
// handler is subscribed.
func (h *CommandHandler) SetAudit(trail *audit.Recorder) {
	h.trail = trail
}

// Handle matches mqtt.MessageHandler.
func (h *CommandHandler) Handle(_ string, payload []byte) error {
	var req CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decoding command: %w", err)
	}

	var res CommandResult
	if h.limiter.Allow() {
		res = h.Execute(req)
		h.trail.Record(context.Background(), auditEntry(req, res))
	} else {
		h.logger.Warn("dropping command: rate limited", "action", req.Action, "id", req.ID)
		res = failed(req, ErrRateLimited)
	}
	h.publish(res)
	return nil
}

// Execute runs req and reports the outcome.
func (h *CommandHandler) Execute(req CommandRequest) CommandResult {
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))

	var ok bool
	switch req.Action {
	case ActionServerStart:
		ok = h.ctl.StartServer()
	case ActionServerStop:
		ok = h.ctl.StopServer()
	case ActionServerRestart:
		ok = h.ctl.RestartServer()
	case ActionStart, ActionStop, ActionRestart:
		d, err := h.resolveDriver(req)
		if err != nil {
			return failed(req, err)
		}
		switch req.Action {
		case ActionStart:
			ok = h.ctl.StartDriver(d)
		case ActionStop:
			ok = h.ctl.StopDriver(d)
		default:
			ok = h.ctl.RestartDriver(d)
		}
	case ActionRaw:
		if strings.TrimSpace(req.Text) == "" {
			return failed(req, fmt.Errorf("%w: text", ErrMissingField))
		}
		r := h.ctl.SendCommand(req.Text)
		if !r.Success {
			return failed(req, fmt.Errorf("%w: %s", ErrCommandFailed, r.Message()))
		}
		ok = true
	default:
		return failed(req, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action))
	}

	if !ok {
		return failed(req, ErrCommandFailed)
	}
	h.logger.Info("remote command executed", "action", req.Action, "label", req.Label, "id", req.ID)
	return CommandResult{ID: req.ID, Action: req.Action, OK: true, Timestamp: time.Now().UTC()}
}

// resolveDriver fills in a driver from the registry when only a label is
// given, so stop and restart work by label alone.
func (h *CommandHandler) resolveDriver(req CommandRequest) (connector.Driver, error) {
	d := connector.Driver{Label: req.Label, Binary: req.Binary, Skeleton: req.Skeleton}
	if d.Binary == "" && d.Label != "" {
		if running, ok := h.ctl.RunningDrivers()[d.Label]; ok {
			d = running
		}
	}
	if d.Binary == "" {
		return connector.Driver{}, fmt.Errorf("%w: binary", ErrMissingField)
	}
	if d.Label == "" {
		d.Label = d.Binary
	}
	return d, nil
}

func (h *CommandHandler) publish(res CommandResult) {
	if h.results == nil {
		return
	}
	if err := h.results.PublishJSON(mqtt.Topics{}.CommandResult(), res, false); err != nil {
		h.logger.Debug("failed to publish command result", "error", err)
	}
}

var auditActions = map[string]string{
	ActionStart:         audit.ActionDriverStart,
	ActionStop:          audit.ActionDriverStop,
	ActionRestart:       audit.ActionDriverRestart,
	ActionRaw:           audit.ActionCommand,
	ActionServerStart:   audit.ActionServerStart,
	ActionServerStop:    audit.ActionServerStop,
	ActionServerRestart: audit.ActionServerRestart,
}

func auditEntry(req CommandRequest, res CommandResult) audit.Entry {
	action, ok := auditActions[res.Action]
	if !ok {
		action = res.Action
	}
	target := req.Label
	switch {
	case res.Action == ActionRaw:
		target = strings.TrimSpace(req.Text)
	case target == "":
		target = req.Binary
	}
	return audit.Entry{
		Action:  action,
		Target:  target,
		Source:  audit.SourceMQTT,
		Success: res.OK,
		Detail:  res.Error,
	}
}

func failed(req CommandRequest, err error) CommandResult {
	return CommandResult{
		ID:        req.ID,
		Action:    req.Action,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}
}
