package fifo

import (
	"fmt"
	"time"

	"vawter.tech/stopper"
)

// Callback receives the result of an async command.
type Callback func(Result)

type pending struct {
	cmd Command
	cb  Callback
}

// SendAsync sends cmd without blocking the caller.
//
// With QueueCommands set, commands are written one at a time in submission
// order. When the queue already holds MaxQueueSize entries, cb is invoked
// synchronously with ErrQueueFull and no counters change. Without queueing,
// each command runs on its own goroutine and ordering is not guaranteed.
func (c *Channel) SendAsync(cmd Command, cb Callback) {
	cfg := c.config()
	if !cfg.QueueCommands {
		accepted := !c.closed.Load() && c.tasks.Go(func(*stopper.Context) error {
			c.complete(cb, c.Send(cmd))
			return nil
		})
		if !accepted {
			c.complete(cb, Result{Err: ErrClosed})
		}
		return
	}

	c.qmu.Lock()
	if c.closed.Load() {
		c.qmu.Unlock()
		c.complete(cb, Result{Err: ErrClosed})
		return
	}
	if len(c.queue) >= cfg.MaxQueueSize {
		c.qmu.Unlock()
		c.log().Warn("fifo queue full, rejecting command",
			"command", cmd.String(),
			"max_queue_size", cfg.MaxQueueSize,
		)
		c.complete(cb, Result{Err: fmt.Errorf("%w (max %d)", ErrQueueFull, cfg.MaxQueueSize)})
		return
	}
	c.queue = append(c.queue, pending{cmd: cmd, cb: cb})
	c.qmu.Unlock()

	c.signal()
}

// Pause holds the queue worker between commands. A command already being
// written completes.
func (c *Channel) Pause() {
	c.paused.Store(true)
}

// Resume lets the queue worker continue.
func (c *Channel) Resume() {
	c.paused.Store(false)
	c.signal()
}

// ClearQueue drops every queued command without invoking its callback and
// returns how many were dropped.
func (c *Channel) ClearQueue() int {
	c.qmu.Lock()
	n := len(c.queue)
	c.queue = nil
	c.qmu.Unlock()

	if n > 0 {
		c.log().Info("fifo queue cleared", "dropped", n)
	}
	return n
}

// QueueLen returns the number of commands waiting to be written.
func (c *Channel) QueueLen() int {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return len(c.queue)
}

// WaitForPending blocks until the queue is empty and no command is in flight,
// or timeout elapses. It reports whether the queue drained.
func (c *Channel) WaitForPending(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		c.qmu.Lock()
		n := len(c.queue) + c.inflight
		c.qmu.Unlock()

		if n == 0 {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(pendingPollInterval)
	}
}

func (c *Channel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) runWorker(sctx *stopper.Context) error {
	for {
		if sctx.IsStopping() {
			return nil
		}

		item, ok := c.next()
		if !ok {
			select {
			case <-sctx.Stopping():
				return nil
			case <-c.wake:
			}
			continue
		}

		c.complete(item.cb, c.Send(item.cmd))

		c.qmu.Lock()
		c.inflight--
		c.qmu.Unlock()
	}
}

// next pops the head of the queue unless the channel is paused.
func (c *Channel) next() (pending, bool) {
	if c.paused.Load() {
		return pending{}, false
	}

	c.qmu.Lock()
	defer c.qmu.Unlock()

	if len(c.queue) == 0 {
		return pending{}, false
	}
	item := c.queue[0]
	c.queue[0] = pending{}
	c.queue = c.queue[1:]
	c.inflight++
	return item, true
}

// complete invokes cb, containing any panic so the worker survives.
func (c *Channel) complete(cb Callback, res Result) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("fifo callback panicked", "panic", r)
		}
	}()
	cb(res)
}
