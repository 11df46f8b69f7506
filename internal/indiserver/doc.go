// Package indiserver supervises the INDI server process.
//
// The Manager owns exactly one indiserver child. It builds the argument
// vector from Config, creates the control FIFO, spawns the process in its
// own session and declares it Running only after two consecutive liveness
// samples 100ms apart. Stopping sends SIGTERM and escalates to SIGKILL after
// ShutdownTimeout.
//
// With AutoRestart set, a health monitor runs as a stopper task. It probes
// the process on every HealthCheckInterval tick and restarts it on failure.
// After MaxRestartAttempts consecutive restarts that do not bring back a
// healthy server it gives up, leaving the Manager in StateError until the
// configuration is reset.
//
// State machine:
//
//	Stopped --Start--> Starting --stable--> Running --Stop--> Stopping --> Stopped
//	any failure ------------------------------------------------------> Error
//
// Error is not terminal for the operator: Start and Stop remain callable.
//
// Operations never panic or return errors across the package boundary; they
// return a bool and record the cause, available through LastError.
package indiserver
