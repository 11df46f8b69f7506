package indiserver

import (
	"context"
	"fmt"
	"time"

	"vawter.tech/stopper"
)

// monitorStopGrace bounds how long haltMonitor lets an in-flight automatic
// restart run before the monitor context is cancelled.
const monitorStopGrace = 30 * time.Second

// monitorTask is one launch of the health monitor.
type monitorTask struct {
	ctx  *stopper.Context
	done chan struct{}
}

func (t *monitorTask) running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// launchMonitor starts the health monitor unless one is already running or
// it has given up. Called with m.mu held.
func (m *Manager) launchMonitor() {
	if m.monitorDisabled.Load() {
		m.log().Warn("health monitor disabled after repeated failures; reset the configuration to re-arm it")
		return
	}

	m.monMu.Lock()
	defer m.monMu.Unlock()

	if m.monitor != nil && m.monitor.running() {
		return
	}

	t := &monitorTask{
		ctx:  stopper.WithContext(context.Background()),
		done: make(chan struct{}),
	}
	t.ctx.Go(func(sctx *stopper.Context) error {
		defer close(t.done)
		return m.runMonitor(sctx)
	})
	m.monitor = t
	m.log().Debug("health monitor started", "interval", m.Config().HealthCheckInterval)
}

// haltMonitor stops the monitor and waits for it to exit. It must not be
// called with m.mu held.
func (m *Manager) haltMonitor() {
	m.monMu.Lock()
	t := m.monitor
	m.monitor = nil
	m.monMu.Unlock()

	if t == nil {
		return
	}
	t.ctx.Stop(monitorStopGrace)
	if err := t.ctx.Wait(); err != nil {
		m.log().Warn("health monitor exited with error", "error", err)
	}
	m.log().Debug("health monitor stopped")
}

// runMonitor probes the server every HealthCheckInterval. Each unhealthy
// probe counts as a failure and triggers a restart; a healthy probe or a
// successful restart clears the count. Once MaxRestartAttempts consecutive
// restarts have not produced a healthy server, the monitor disables itself
// and leaves the supervisor in StateError.
func (m *Manager) runMonitor(sctx *stopper.Context) error {
	cfg := m.Config()
	ticker := time.NewTicker(cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sctx.Stopping():
			return nil
		case <-ticker.C:
		}

		switch m.State() {
		case StateStopped:
			return nil
		case StateStarting, StateStopping:
			continue
		}

		err := m.CheckHealth()
		if err == nil {
			m.failures.Store(0)
			continue
		}

		failures := int(m.failures.Load())
		if cfg.MaxRestartAttempts > 0 && failures >= cfg.MaxRestartAttempts {
			m.giveUp(sctx, failures)
			return nil
		}

		m.failures.Add(1)
		m.log().Warn("indiserver health check failed, restarting",
			"error", err,
			"attempt", failures+1,
			"max_attempts", cfg.MaxRestartAttempts,
		)

		ok, aborted := m.restartFromMonitor(sctx)
		if aborted {
			return nil
		}
		if ok {
			m.failures.Store(0)
			m.log().Info("indiserver recovered by health monitor", "pid", m.PID())
		}
	}
}

// restartFromMonitor performs a stop/start cycle under the supervisor lock.
// It aborts if the monitor was asked to stop or the server was stopped
// deliberately while waiting for the lock.
func (m *Manager) restartFromMonitor(sctx *stopper.Context) (ok, aborted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sctx.IsStopping() || m.State() == StateStopped {
		return false, true
	}

	m.restarts.Add(1)
	m.stopLocked(false)

	select {
	case <-sctx.Stopping():
		return false, true
	case <-time.After(m.Config().RestartDelay):
	}

	return m.startLocked(), false
}

func (m *Manager) giveUp(sctx *stopper.Context, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sctx.IsStopping() || m.State() == StateStopped {
		return
	}
	m.monitorDisabled.Store(true)
	m.fail(fmt.Errorf("health monitor gave up after %d consecutive failed restarts", failures))
}
