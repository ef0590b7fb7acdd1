package logic

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"
)

func TestUniformBounds(t *testing.T) {
	rnd := rand.New(rand.NewPCG(3, 4))
	min, max := 5*time.Second, 10*time.Second

	var below, above int
	for i := 0; i < 10000; i++ {
		d := Uniform(rnd, min, max)
		if d < min || d > max {
			t.Fatalf("draw %v outside [%v, %v]", d, min, max)
		}
		if d < 7500*time.Millisecond {
			below++
		} else {
			above++
		}
	}

	// Roughly half of a uniform draw lands on each side of the midpoint.
	if below < 4500 || above < 4500 {
		t.Errorf("distribution looks skewed: below=%d above=%d", below, above)
	}
}

func TestUniformEndpoints(t *testing.T) {
	min, max := 5*time.Second, 10*time.Second

	if d := Uniform(&seqSource{vals: []float64{0}}, min, max); d != min {
		t.Errorf("source 0: got %v, want %v", d, min)
	}
	if d := Uniform(&seqSource{vals: []float64{0.5}}, min, max); d != 7500*time.Millisecond {
		t.Errorf("source 0.5: got %v, want 7.5s", d)
	}
	if d := Uniform(&seqSource{vals: []float64{1}}, min, max); d != max {
		t.Errorf("source 1: got %v, want %v", d, max)
	}
}

func TestUniformEqualBounds(t *testing.T) {
	d := Uniform(&seqSource{vals: []float64{0.9}}, 3*time.Second, 3*time.Second)
	if d != 3*time.Second {
		t.Errorf("got %v, want 3s", d)
	}
}

func TestNextDelayAddsLightDuration(t *testing.T) {
	timing := DefaultTiming()

	if d := timing.nextDelay(&seqSource{vals: []float64{0}}); d != 5500*time.Millisecond {
		t.Errorf("min redraw: got %v, want 5.5s", d)
	}
	if d := timing.nextDelay(&seqSource{vals: []float64{1}}); d != 10500*time.Millisecond {
		t.Errorf("max redraw: got %v, want 10.5s", d)
	}
	if d := timing.initialDelay(&seqSource{vals: []float64{0}}); d != 5*time.Second {
		t.Errorf("initial delay must not include light duration: got %v", d)
	}
}

func TestTimingValidate(t *testing.T) {
	tests := []struct {
		name    string
		timing  Timing
		wantErr bool
	}{
		{name: "reference", timing: DefaultTiming()},
		{name: "fixed dark interval", timing: Timing{Light: time.Second, MinDark: 2 * time.Second, MaxDark: 2 * time.Second}},
		{name: "zero light", timing: Timing{Light: 0, MinDark: time.Second, MaxDark: 2 * time.Second}, wantErr: true},
		{name: "negative light", timing: Timing{Light: -time.Second, MinDark: time.Second, MaxDark: 2 * time.Second}, wantErr: true},
		{name: "zero min dark", timing: Timing{Light: time.Second, MinDark: 0, MaxDark: 2 * time.Second}, wantErr: true},
		{name: "negative max dark", timing: Timing{Light: time.Second, MinDark: time.Second, MaxDark: -time.Second}, wantErr: true},
		{name: "inverted bounds", timing: Timing{Light: time.Second, MinDark: 10 * time.Second, MaxDark: 5 * time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.timing.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrInvalidTiming) {
					t.Errorf("expected ErrInvalidTiming, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
