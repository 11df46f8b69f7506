// Package process provides the operating-system side of child process control.
//
// It is deliberately small: a Handle can be spawned, probed for liveness,
// signalled and waited on. Lifecycle policy (startup probing, restart limits,
// escalation) belongs to the callers, chiefly the indiserver supervisor.
//
// Features:
//   - Spawn in a new session with extra environment and a truncating log redirect
//   - Automatic reaping, so an exited child is never reported alive
//   - Graceful or forced termination of the whole process group
//   - /proc state inspection on Linux (stopped, zombie, dead)
//   - A CommandRunner for short external tools such as indi_getprop
//
// Example usage:
//
//	h, err := process.Spawn(process.Spec{
//	    Name:    "indiserver",
//	    Argv:    []string{"indiserver", "-v", "-p", "7624", "-m", "10"},
//	    LogPath: "/tmp/indiserver.log",
//	})
//	if err != nil {
//	    return err
//	}
//	defer func() {
//	    _ = h.Terminate(process.Graceful)
//	    if !h.Wait(5 * time.Second) {
//	        _ = h.Terminate(process.Kill)
//	        h.Wait(0)
//	    }
//	}()
package process
