// Package api serves Starport's HTTP control API and WebSocket event stream.
//
// Every route under /api/v1 except /health requires a bearer JWT minted by
// "starport token". The token's role decides which routes it may call:
// viewers read status and history, operators also control the server,
// drivers and raw FIFO commands.
//
//	srv, err := api.New(deps)
//	dispatcher.AddSink(srv.Hub())
//	srv.Start(ctx)
//	defer srv.Close()
//
// Control requests are written to the audit trail when an audit repository
// is configured, and listed at /history/audit.
//
// WebSocket clients connect to /api/v1/ws?token=..., then subscribe to
// "server.state" and "driver.event".
package api
