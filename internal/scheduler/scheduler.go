// Package scheduler runs a bank of fireflies cooperatively on one goroutine.
// Every sweep ticks each live firefly once, in order, with no blocking wait
// between ticks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweeney/fireflies/internal/logic"
)

// ErrAllFaulted is returned by Run when every firefly has faulted under the
// skip policy and there is nothing left to tick.
var ErrAllFaulted = errors.New("all fireflies faulted")

// FaultPolicy decides what happens when a firefly's output write fails.
type FaultPolicy string

const (
	// FaultSkip logs the fault, retires the firefly and keeps ticking the rest.
	FaultSkip FaultPolicy = "skip"
	// FaultAbort stops the scheduler on the first fault.
	FaultAbort FaultPolicy = "abort"
)

// ParseFaultPolicy converts a flag value into a FaultPolicy.
func ParseFaultPolicy(s string) (FaultPolicy, error) {
	switch p := FaultPolicy(s); p {
	case FaultSkip, FaultAbort:
		return p, nil
	default:
		return "", fmt.Errorf("unknown fault policy %q (want %q or %q)", s, FaultSkip, FaultAbort)
	}
}

// Sink receives firefly events. Emit is called from the scheduler goroutine
// and must not block.
type Sink interface {
	Emit(ev logic.Event)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithFaultPolicy sets the fault policy (default FaultSkip).
func WithFaultPolicy(p FaultPolicy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithSink sets where transition and fault events are reported.
func WithSink(sink Sink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithSweepInterval waits d between sweeps. Zero means pure busy-polling.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.sweepInterval = d }
}

type unit struct {
	ff      *logic.Firefly
	faulted bool
}

// Scheduler owns an ordered set of fireflies.
// Not safe for concurrent use: Run, Sweep and Shutdown must be called from
// the goroutine that owns it.
type Scheduler struct {
	units         []*unit
	now           func() time.Time
	sink          Sink
	logger        *slog.Logger
	policy        FaultPolicy
	sweepInterval time.Duration
	live          int
	sweeps        uint64
}

// New creates a Scheduler over the given fireflies. now is sampled once per
// tick, so every firefly sees a fresh time.
func New(fireflies []*logic.Firefly, now func() time.Time, opts ...Option) *Scheduler {
	s := &Scheduler{
		now:    now,
		policy: FaultSkip,
	}
	for _, ff := range fireflies {
		s.units = append(s.units, &unit{ff: ff})
	}
	s.live = len(s.units)
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Run sweeps until ctx is cancelled, returning ctx.Err(). It returns early
// with the fault under FaultAbort, or ErrAllFaulted once nothing is left to
// tick under FaultSkip.
func (s *Scheduler) Run(ctx context.Context) error {
	var ticker *time.Ticker
	if s.sweepInterval > 0 {
		ticker = time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.Sweep(); err != nil {
			return err
		}
		if s.live == 0 {
			return ErrAllFaulted
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}

// Sweep ticks every live firefly once, in order. Under FaultAbort it returns
// the first fault; under FaultSkip it never returns an error.
func (s *Scheduler) Sweep() error {
	s.sweeps++
	for _, u := range s.units {
		if u.faulted {
			continue
		}
		t := s.now()
		ev, err := u.ff.Tick(t)
		if err != nil {
			if s.policy == FaultAbort {
				return fmt.Errorf("sweep %d: %w", s.sweeps, err)
			}
			s.retire(u, t, err)
			continue
		}
		if ev == nil {
			continue
		}
		s.logger.Debug("firefly transition",
			"firefly", ev.Label,
			"event", ev.Type,
			"flashes", ev.Flashes,
			"next_delay", ev.NextDelay)
		s.emit(*ev)
	}
	return nil
}

func (s *Scheduler) retire(u *unit, t time.Time, err error) {
	u.faulted = true
	s.live--
	s.logger.Error("firefly faulted, skipping from now on",
		"firefly", u.ff.Label(),
		"error", err,
		"remaining", s.live)
	s.emit(logic.Event{
		Timestamp: t,
		Label:     u.ff.Label(),
		Type:      logic.EventFault,
		State:     u.ff.State(),
		Flashes:   u.ff.Flashes(),
		Err:       err.Error(),
	})
}

func (s *Scheduler) emit(ev logic.Event) {
	if s.sink != nil {
		s.sink.Emit(ev)
	}
}

// Shutdown drives every non-faulted firefly dark and emits LIGHT_OFF for
// each one that was lit. The shutdown events carry no NextDelay. Call it
// only after Run has returned.
func (s *Scheduler) Shutdown() error {
	var errs []error
	for _, u := range s.units {
		if u.faulted {
			continue
		}
		wasLit := u.ff.IsLit()
		if err := u.ff.Darken(); err != nil {
			errs = append(errs, err)
			continue
		}
		if wasLit {
			s.emit(logic.Event{
				Timestamp: s.now(),
				Label:     u.ff.Label(),
				Type:      logic.EventLightOff,
				State:     logic.StateDark,
				Flashes:   u.ff.Flashes(),
			})
		}
	}
	return errors.Join(errs...)
}

// Sweeps returns the number of completed sweeps.
func (s *Scheduler) Sweeps() uint64 {
	return s.sweeps
}

// Live returns the number of fireflies still being ticked.
func (s *Scheduler) Live() int {
	return s.live
}

// Faulted reports whether the firefly at index i has been retired.
func (s *Scheduler) Faulted(i int) bool {
	return s.units[i].faulted
}
