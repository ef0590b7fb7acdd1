package scheduler

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sweeney/fireflies/internal/logic"
)

// Label returns the diagnostic name of the firefly at index i.
func Label(i int) string {
	return fmt.Sprintf("LEDS[%d]", i)
}

// Spawn creates one firefly per output. Each firefly draws from its own
// PCG stream derived from seed, so draws are independent across fireflies
// and a given seed reproduces the same flashing.
func Spawn(outs []logic.Output, timing logic.Timing, seed uint64, now time.Time) ([]*logic.Firefly, error) {
	if err := timing.Validate(); err != nil {
		return nil, err
	}

	fireflies := make([]*logic.Firefly, 0, len(outs))
	for i, out := range outs {
		rnd := rand.New(rand.NewPCG(seed, uint64(i)))
		ff, err := logic.NewFirefly(Label(i), out, timing, rnd, now)
		if err != nil {
			return nil, fmt.Errorf("spawn %s: %w", Label(i), err)
		}
		fireflies = append(fireflies, ff)
	}
	return fireflies, nil
}
