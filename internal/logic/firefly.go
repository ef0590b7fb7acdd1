package logic

import "time"

// Firefly holds the timing state of one simulated firefly bound to one output.
// Not safe for concurrent use; a single goroutine owns each Firefly.
type Firefly struct {
	label  string
	out    Output
	timing Timing
	rnd    Source

	lit          bool
	lastTrigger  time.Time     // last DARK->LIT transition, or construction time
	pendingDelay time.Duration // measured from lastTrigger
	lastChange   time.Time     // last transition of either kind, or construction time
	flashes      int
}

// NewFirefly creates a dark firefly with a random initial delay.
// The output is driven low so that it matches the firefly's state.
// Timing must already be valid.
func NewFirefly(label string, out Output, timing Timing, rnd Source, now time.Time) (*Firefly, error) {
	if err := out.Set(false); err != nil {
		return nil, &HardwareFault{Label: label, On: false, Err: err}
	}
	return &Firefly{
		label:        label,
		out:          out,
		timing:       timing,
		rnd:          rnd,
		lastTrigger:  now,
		pendingDelay: timing.initialDelay(rnd),
		lastChange:   now,
	}, nil
}

// Tick evaluates the guard of the current state against now and fires at
// most one transition. It returns the resulting event, or nil if nothing
// fired. A tick at or before the last transition never fires.
//
// On a write failure the state is left unchanged and a *HardwareFault is
// returned.
func (f *Firefly) Tick(now time.Time) (*Event, error) {
	if !now.After(f.lastChange) {
		return nil, nil
	}
	elapsed := now.Sub(f.lastTrigger)

	if !f.lit {
		if elapsed < f.pendingDelay {
			return nil, nil
		}
		if err := f.out.Set(true); err != nil {
			return nil, &HardwareFault{Label: f.label, On: true, Err: err}
		}
		f.lit = true
		f.lastTrigger = now
		f.lastChange = now
		f.flashes++
		return f.event(now, EventLightOn), nil
	}

	if elapsed < f.timing.Light {
		return nil, nil
	}
	if err := f.out.Set(false); err != nil {
		return nil, &HardwareFault{Label: f.label, On: false, Err: err}
	}
	f.lit = false
	f.lastChange = now
	f.pendingDelay = f.timing.nextDelay(f.rnd)
	ev := f.event(now, EventLightOff)
	ev.NextDelay = f.pendingDelay
	return ev, nil
}

func (f *Firefly) event(now time.Time, typ EventType) *Event {
	return &Event{
		Timestamp: now,
		Label:     f.label,
		Type:      typ,
		State:     f.State(),
		Flashes:   f.flashes,
	}
}

// Darken drives the output low and marks the firefly dark without drawing
// a new delay. Used when handing the outputs back on shutdown.
func (f *Firefly) Darken() error {
	if err := f.out.Set(false); err != nil {
		return &HardwareFault{Label: f.label, On: false, Err: err}
	}
	f.lit = false
	return nil
}

// Label returns the diagnostic name of the firefly.
func (f *Firefly) Label() string {
	return f.label
}

// IsLit reports whether the firefly's output is currently driven high.
func (f *Firefly) IsLit() bool {
	return f.lit
}

// State returns the current state.
func (f *Firefly) State() State {
	return stateFor(f.lit)
}

// LastTrigger returns the time the firefly last lit, or its construction time.
func (f *Firefly) LastTrigger() time.Time {
	return f.lastTrigger
}

// PendingDelay returns how long after LastTrigger the firefly may light again.
func (f *Firefly) PendingDelay() time.Duration {
	return f.pendingDelay
}

// Flashes returns the number of times the firefly has lit.
func (f *Firefly) Flashes() int {
	return f.flashes
}
