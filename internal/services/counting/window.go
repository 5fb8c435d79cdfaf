package counting

import (
	"fmt"
	"time"
)

// Mode is the window behavior of a deployment.
type Mode int

const (
	// Cumulative never resets; the running total is persisted every interval.
	Cumulative Mode = iota
	// Periodic persists the window total every interval and starts over.
	Periodic
)

func (m Mode) String() string {
	if m == Periodic {
		return "periodic"
	}
	return "cumulative"
}

// Decision tells the IngestLoop what to do on a tick.
type Decision struct {
	Flush bool
	Reset bool
}

// WindowPolicy decides, from elapsed time only, when counts are persisted
// and when the window starts over.
type WindowPolicy struct {
	Mode     Mode
	Interval time.Duration
}

// NewWindowPolicy builds a policy from configuration values.
func NewWindowPolicy(mode string, interval time.Duration) (WindowPolicy, error) {
	if interval <= 0 {
		return WindowPolicy{}, fmt.Errorf("window interval must be positive, got %s", interval)
	}
	switch mode {
	case "", "cumulative":
		return WindowPolicy{Mode: Cumulative, Interval: interval}, nil
	case "periodic":
		return WindowPolicy{Mode: Periodic, Interval: interval}, nil
	}
	return WindowPolicy{}, fmt.Errorf("unknown window mode %q", mode)
}

// OnTick evaluates the policy at now. lastFlush is the time of the last
// successful flush, zero if there was none. A cumulative source that never
// flushed flushes immediately so readers see it from the start. A periodic
// window closes once Interval has passed since state.WindowStart; the window
// stays closed-but-unflushed until the caller persists it.
func (p WindowPolicy) OnTick(now time.Time, state *CounterState, lastFlush time.Time) Decision {
	switch p.Mode {
	case Periodic:
		if state == nil {
			return Decision{}
		}
		if now.Sub(state.WindowStart) >= p.Interval {
			return Decision{Flush: true, Reset: true}
		}
	default:
		if lastFlush.IsZero() || now.Sub(lastFlush) >= p.Interval {
			return Decision{Flush: true}
		}
	}
	return Decision{}
}
