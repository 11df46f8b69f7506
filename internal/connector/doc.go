// Package connector ties the indiserver supervisor to its FIFO control
// channel.
//
// Driver commands are only issued while the server is running. A started
// driver is recorded in a registry keyed by label; a stop removes the entry
// even when the command could not be confirmed, because the FIFO protocol
// has no acknowledgement. The registry can be persisted so drivers survive a
// restart of starport itself.
//
// Property access is delegated to the indi_getprop and indi_setprop tools
// through a Runner.
package connector
