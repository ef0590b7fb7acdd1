package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/fireflies/internal/gpio"
	"github.com/sweeney/fireflies/internal/logic"
)

var start = time.Date(2026, 1, 1, 21, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// recordingSink collects emitted events.
type recordingSink struct {
	mu     sync.Mutex
	events []logic.Event
}

func (s *recordingSink) Emit(ev logic.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) byType(typ logic.EventType) []logic.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []logic.Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBank(t *testing.T, n int, seed uint64) ([]*gpio.FakeOutput, []*logic.Firefly) {
	t.Helper()
	lines := make([]*gpio.FakeOutput, n)
	outs := make([]logic.Output, n)
	for i := range lines {
		lines[i] = &gpio.FakeOutput{}
		outs[i] = lines[i]
	}
	ffs, err := Spawn(outs, logic.DefaultTiming(), seed, start)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return lines, ffs
}

func sweepFor(t *testing.T, s *Scheduler, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.Sweep(); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
}

func TestSweepTicksEveryFirefly(t *testing.T) {
	lines, ffs := newBank(t, 8, 1)
	sink := &recordingSink{}
	s := New(ffs, fakeClock(start, time.Millisecond), WithSink(sink), WithLogger(discardLogger()))

	// 8 ticks per sweep at 1ms each: 7500 sweeps is one simulated minute.
	sweepFor(t, s, 7500)

	if s.Sweeps() != 7500 {
		t.Errorf("expected 7500 sweeps, got %d", s.Sweeps())
	}
	for i, l := range lines {
		if n := l.Count(true); n < 3 {
			t.Errorf("%s flashed %d times in a minute, want at least 3", Label(i), n)
		}
		if ffs[i].IsLit() != l.Value() {
			t.Errorf("%s: lit=%v but output=%v", Label(i), ffs[i].IsLit(), l.Value())
		}
	}

	on := sink.byType(logic.EventLightOn)
	off := sink.byType(logic.EventLightOff)
	if len(on) == 0 || len(off) == 0 {
		t.Fatalf("expected transitions to be emitted, got on=%d off=%d", len(on), len(off))
	}
	if diff := len(on) - len(off); diff < 0 || diff > 8 {
		t.Errorf("LIGHT_ON=%d LIGHT_OFF=%d out of balance", len(on), len(off))
	}
}

func TestSweepFaultSkipKeepsOthersFlashing(t *testing.T) {
	lines, ffs := newBank(t, 8, 2)
	lines[3].FailWith(errors.New("pin disconnected"))
	sink := &recordingSink{}
	s := New(ffs, fakeClock(start, time.Millisecond), WithSink(sink), WithLogger(discardLogger()))

	sweepFor(t, s, 7500)

	if !s.Faulted(3) {
		t.Error("expected LEDS[3] to be faulted")
	}
	if s.Live() != 7 {
		t.Errorf("expected 7 live fireflies, got %d", s.Live())
	}
	for i, l := range lines {
		if i == 3 {
			continue
		}
		if s.Faulted(i) {
			t.Errorf("%s should not be faulted", Label(i))
		}
		if l.Count(true) == 0 {
			t.Errorf("%s never flashed", Label(i))
		}
	}

	faults := sink.byType(logic.EventFault)
	if len(faults) != 1 {
		t.Fatalf("expected exactly 1 FAULT event, got %d", len(faults))
	}
	if faults[0].Label != "LEDS[3]" {
		t.Errorf("expected fault on LEDS[3], got %s", faults[0].Label)
	}
	if faults[0].Err == "" {
		t.Error("expected fault description")
	}
}

func TestSweepFaultAbort(t *testing.T) {
	lines, ffs := newBank(t, 4, 3)
	lines[1].FailWith(errors.New("driver error"))
	s := New(ffs, fakeClock(start, time.Millisecond), WithFaultPolicy(FaultAbort), WithLogger(discardLogger()))

	var err error
	for i := 0; i < 10000 && err == nil; i++ {
		err = s.Sweep()
	}
	if err == nil {
		t.Fatal("expected the fault to abort the sweep")
	}
	var fault *logic.HardwareFault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *HardwareFault, got %v", err)
	}
	if fault.Label != "LEDS[1]" {
		t.Errorf("expected fault on LEDS[1], got %s", fault.Label)
	}
}

func TestRunAllFaulted(t *testing.T) {
	lines, ffs := newBank(t, 2, 4)
	for _, l := range lines {
		l.FailWith(errors.New("bus down"))
	}
	s := New(ffs, fakeClock(start, time.Millisecond), WithLogger(discardLogger()))

	err := s.Run(context.Background())
	if !errors.Is(err, ErrAllFaulted) {
		t.Errorf("expected ErrAllFaulted, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	_, ffs := newBank(t, 8, 5)
	s := New(ffs, time.Now, WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s.Sweeps() == 0 {
		t.Error("expected at least one sweep")
	}
}

func TestRunWithSweepInterval(t *testing.T) {
	_, ffs := newBank(t, 2, 6)
	s := New(ffs, time.Now, WithSweepInterval(5*time.Millisecond), WithLogger(discardLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	// A busy loop would sweep many thousands of times in 60ms.
	if n := s.Sweeps(); n == 0 || n > 20 {
		t.Errorf("expected a handful of paced sweeps, got %d", n)
	}
}

func TestShutdownDarkensFireflies(t *testing.T) {
	lines, ffs := newBank(t, 8, 7)
	sink := &recordingSink{}
	s := New(ffs, fakeClock(start, time.Millisecond), WithSink(sink), WithLogger(discardLogger()))

	// Run until something is lit.
	for i := 0; i < 20000; i++ {
		s.Sweep()
		lit := false
		for _, ff := range ffs {
			lit = lit || ff.IsLit()
		}
		if lit {
			break
		}
	}

	litBefore := map[string]bool{}
	for _, ff := range ffs {
		if ff.IsLit() {
			litBefore[ff.Label()] = true
		}
	}
	if len(litBefore) == 0 {
		t.Fatal("expected a lit firefly before shutdown")
	}
	sink.events = nil

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for i, l := range lines {
		if l.Value() || ffs[i].IsLit() {
			t.Errorf("%s still lit after shutdown", Label(i))
		}
	}

	if len(sink.events) != len(litBefore) {
		t.Fatalf("expected %d shutdown events, got %d: %+v", len(litBefore), len(sink.events), sink.events)
	}
	for _, ev := range sink.events {
		if !litBefore[ev.Label] {
			t.Errorf("%s was dark but got a shutdown event", ev.Label)
		}
		if ev.Type != logic.EventLightOff || ev.State != logic.StateDark {
			t.Errorf("%s: got %s/%s, want LIGHT_OFF/DARK", ev.Label, ev.Type, ev.State)
		}
		if ev.NextDelay != 0 {
			t.Errorf("%s: shutdown event should carry no next delay, got %v", ev.Label, ev.NextDelay)
		}
	}
}

func TestFirefliesDesynchronize(t *testing.T) {
	_, ffs := newBank(t, 8, 8)

	lo, hi := ffs[0].PendingDelay(), ffs[0].PendingDelay()
	for _, ff := range ffs[1:] {
		lo = min(lo, ff.PendingDelay())
		hi = max(hi, ff.PendingDelay())
	}
	if hi-lo < time.Second {
		t.Errorf("initial delays bunched within %v", hi-lo)
	}

	s := New(ffs, fakeClock(start, time.Millisecond), WithLogger(discardLogger()))
	const sweeps = 225000 // 30 simulated minutes
	allLit, maxLit := 0, 0
	for i := 0; i < sweeps; i++ {
		s.Sweep()
		n := 0
		for _, ff := range ffs {
			if ff.IsLit() {
				n++
			}
		}
		if n == len(ffs) {
			allLit++
		}
		maxLit = max(maxLit, n)
	}

	if float64(allLit)/sweeps > 0.001 {
		t.Errorf("all fireflies lit together in %d of %d sweeps", allLit, sweeps)
	}
	if maxLit == 0 {
		t.Error("no firefly ever lit")
	}
}

func TestSpawnIsReproducible(t *testing.T) {
	_, a := newBank(t, 8, 99)
	_, b := newBank(t, 8, 99)
	_, c := newBank(t, 8, 100)

	same, differ := true, false
	for i := range a {
		if a[i].PendingDelay() != b[i].PendingDelay() {
			same = false
		}
		if a[i].PendingDelay() != c[i].PendingDelay() {
			differ = true
		}
		if a[i].Label() != Label(i) {
			t.Errorf("expected label %s, got %s", Label(i), a[i].Label())
		}
	}
	if !same {
		t.Error("same seed should reproduce initial delays")
	}
	if !differ {
		t.Error("different seeds should give different initial delays")
	}
}

func TestSpawnRejectsInvalidTiming(t *testing.T) {
	outs := []logic.Output{&gpio.FakeOutput{}}
	_, err := Spawn(outs, logic.Timing{Light: time.Second, MinDark: 3 * time.Second, MaxDark: time.Second}, 1, start)
	if !errors.Is(err, logic.ErrInvalidTiming) {
		t.Errorf("expected ErrInvalidTiming, got %v", err)
	}
}

func TestSpawnOutputFailure(t *testing.T) {
	bad := &gpio.FakeOutput{SetError: errors.New("EIO")}
	_, err := Spawn([]logic.Output{&gpio.FakeOutput{}, bad}, logic.DefaultTiming(), 1, start)
	var fault *logic.HardwareFault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *HardwareFault, got %v", err)
	}
	if fault.Label != "LEDS[1]" {
		t.Errorf("expected fault on LEDS[1], got %s", fault.Label)
	}
}

func TestParseFaultPolicy(t *testing.T) {
	for _, s := range []string{"skip", "abort"} {
		p, err := ParseFaultPolicy(s)
		if err != nil {
			t.Errorf("ParseFaultPolicy(%q): %v", s, err)
		}
		if string(p) != s {
			t.Errorf("got %q, want %q", p, s)
		}
	}
	if _, err := ParseFaultPolicy("retry"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
