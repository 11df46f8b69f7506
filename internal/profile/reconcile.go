package profile

import (
	"slices"

	"github.com/nerrad567/starport-core/internal/connector"
)

// Target is the driver control surface a profile is applied to.
// *connector.Connector satisfies it.
type Target interface {
	IsRunning() bool
	RunningDrivers() map[string]connector.Driver
	StartDriver(d connector.Driver) bool
	StopDriver(d connector.Driver) bool
}

// Result lists what Reconcile changed, by label.
type Result struct {
	Started   []string
	Stopped   []string
	Restarted []string
	Failed    []string
}

// Changed reports whether Reconcile did anything.
func (r Result) Changed() bool {
	return len(r.Started)+len(r.Stopped)+len(r.Restarted)+len(r.Failed) > 0
}

// Reconcile makes the running drivers match p. Drivers absent from the
// profile are stopped first, then missing drivers are started and drivers
// whose binary or skeleton changed are reloaded. Nothing happens while the
// server is down.
func Reconcile(t Target, p *Profile) Result {
	var res Result
	if p == nil || !t.IsRunning() {
		return res
	}

	running := t.RunningDrivers()
	wanted := make(map[string]connector.Driver, len(p.Drivers))
	for _, d := range p.Drivers {
		if d.Label == "" {
			d.Label = d.Binary
		}
		wanted[d.Label] = d
	}

	labels := make([]string, 0, len(running))
	for label := range running {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	for _, label := range labels {
		if _, keep := wanted[label]; keep {
			continue
		}
		t.StopDriver(running[label])
		res.Stopped = append(res.Stopped, label)
	}

	for _, d := range p.Drivers {
		if d.Label == "" {
			d.Label = d.Binary
		}
		cur, ok := running[d.Label]
		switch {
		case !ok:
			if t.StartDriver(d) {
				res.Started = append(res.Started, d.Label)
			} else {
				res.Failed = append(res.Failed, d.Label)
			}
		case cur.Binary != d.Binary || cur.Skeleton != d.Skeleton:
			t.StopDriver(cur)
			if t.StartDriver(d) {
				res.Restarted = append(res.Restarted, d.Label)
			} else {
				res.Failed = append(res.Failed, d.Label)
			}
		}
	}
	return res
}
