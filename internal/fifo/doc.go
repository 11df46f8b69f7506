// Package fifo implements the control channel to indiserver's named pipe.
//
// indiserver started with -f reads newline-terminated commands from a FIFO:
//
//	start indi_simulator_ccd -s "/usr/share/indi/sim.xml"
//	stop indi_simulator_ccd
//
// A Channel renders those lines, writes them with bounded retries and keeps
// success and failure counters. Writes default to non-blocking mode, so a
// server that is not listening yields ErrNoReader immediately rather than a
// hung caller.
//
// Async commands are serialised through a single worker goroutine owned by a
// stopper context, giving strict submission order. The worker can be paused
// while the server restarts and resumed once the pipe is back.
//
// Example usage:
//
//	ch := fifo.New(fifo.DefaultConfig())
//	defer ch.Close()
//
//	res := ch.Send(fifo.StartCommand("indi_simulator_ccd", ""))
//	if !res.Success {
//	    log.Printf("start failed: %v", res.Err)
//	}
//
//	ch.SendAsync(fifo.StopCommand("indi_simulator_ccd"), func(r fifo.Result) {
//	    log.Printf("stop: %s", r.Message())
//	})
package fifo
