package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/starport-core/internal/fifo"
	"github.com/nerrad567/starport-core/internal/indiserver"
)

// Measurement names.
const (
	MeasurementServer      = "indi_server"
	MeasurementChannel     = "fifo_channel"
	MeasurementDriverEvent = "driver_event"
	MeasurementServerEvent = "server_event"
)

// WriteServerStats records one sample of the supervisor's state.
func (c *Client) WriteServerStats(stats indiserver.Stats, drivers int) {
	c.write(serverPoint(stats, drivers, time.Now()))
}

// WriteChannelStats records the control channel counters.
func (c *Client) WriteChannelStats(stats fifo.Stats) {
	c.write(channelPoint(stats, time.Now()))
}

// WriteDriverEvent records a driver start or stop.
func (c *Client) WriteDriverEvent(label string, started bool) {
	c.write(write.NewPoint(MeasurementDriverEvent,
		map[string]string{"label": label},
		map[string]any{"started": started},
		time.Now()))
}

// WriteServerEvent records a supervisor state transition.
func (c *Client) WriteServerEvent(state indiserver.State, message string) {
	c.write(write.NewPoint(MeasurementServerEvent,
		map[string]string{"state": state.String()},
		map[string]any{"message": message, "code": int64(state)},
		time.Now()))
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.write(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func serverPoint(stats indiserver.Stats, drivers int, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementServer, map[string]string{"address": stats.Address}, map[string]any{
		"running":          stats.State == indiserver.StateRunning,
		"state":            stats.State.String(),
		"uptime_s":         stats.Uptime.Seconds(),
		"restart_count":    stats.RestartCount,
		"monitor_failures": int64(stats.MonitorFailures),
		"pid":              int64(stats.PID),
		"drivers":          int64(drivers),
	}, ts)
}

func channelPoint(stats fifo.Stats, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementChannel,
		map[string]string{"path": stats.Path},
		map[string]any{
			"commands_sent": stats.CommandsSent,
			"errors":        stats.Errors,
			"queued":        int64(stats.Queued),
			"paused":        stats.Paused,
		}, ts)
}
