// Package influxdb writes Starport telemetry to InfluxDB v2 using the
// official client's batching write API.
//
// Measurements:
//
//	indi_server   address tag; running, state, uptime_s, restart_count, pid, drivers
//	fifo_channel  path tag; commands_sent, errors, queued, paused
//	driver_event  label tag; started
//	server_event  state tag; message, code
//
// Writes never block and are dropped while the client is closed. Batch
// failures arrive through SetOnError.
package influxdb
