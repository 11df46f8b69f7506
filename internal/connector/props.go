package connector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
)

// Property tool names from the INDI client utilities.
const (
	setPropTool = "indi_setprop"
	getPropTool = "indi_getprop"
)

// ErrNoPropertyRunner is returned when the connector has no Runner.
var ErrNoPropertyRunner = errors.New("connector: no property runner configured")

// Device is one entry from the CONNECTION.CONNECT listing.
type Device struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// SetProp sets dev.prop.elem to value. indi_setprop prints nothing on
// success, so any output is treated as a failure message.
func (c *Connector) SetProp(ctx context.Context, dev, prop, elem, value string) error {
	if c.props == nil {
		return ErrNoPropertyRunner
	}
	arg := fmt.Sprintf("%s.%s.%s=%s", dev, prop, elem, value)

	out, err := c.props.Run(ctx, setPropTool, arg)
	if err != nil {
		return fmt.Errorf("setting %s: %w", arg, err)
	}
	if msg := strings.TrimSpace(out); msg != "" {
		return fmt.Errorf("setting %s: %s", arg, msg)
	}
	c.logger.Debug("property set", "device", dev, "property", prop, "element", elem, "value", value)
	return nil
}

// GetProp returns the value of dev.prop.elem, the text after '='.
func (c *Connector) GetProp(ctx context.Context, dev, prop, elem string) (string, error) {
	if c.props == nil {
		return "", ErrNoPropertyRunner
	}
	arg := fmt.Sprintf("%s.%s.%s", dev, prop, elem)

	out, err := c.props.Run(ctx, getPropTool, arg)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", arg, err)
	}
	_, value, ok := strings.Cut(out, "=")
	if !ok {
		return "", fmt.Errorf("reading %s: unexpected output %q", arg, strings.TrimSpace(out))
	}
	return strings.TrimSpace(value), nil
}

// GetState returns the state (Idle, Ok, Busy, Alert) of dev.prop.
func (c *Connector) GetState(ctx context.Context, dev, prop string) (string, error) {
	return c.GetProp(ctx, dev, prop, "_STATE")
}

// Devices lists every device the server knows with its connection state.
func (c *Connector) Devices(ctx context.Context) ([]Device, error) {
	if c.props == nil {
		return nil, ErrNoPropertyRunner
	}
	out, err := c.props.Run(ctx, getPropTool, "*.CONNECTION.CONNECT")
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return parseDevices(out), nil
}

// parseDevices reads lines of the form
//
//	CCD Simulator.CONNECTION.CONNECT=On
//
// Device names may contain spaces and dots; the last two dot-separated
// fields are the property and element. Malformed lines are skipped.
func parseDevices(out string) []Device {
	var devices []Device
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		name, found := strings.CutSuffix(strings.TrimSpace(key), ".CONNECTION.CONNECT")
		if !found || name == "" {
			continue
		}
		devices = append(devices, Device{
			Name:      name,
			Connected: strings.TrimSpace(value) == "On",
		})
	}
	return devices
}
