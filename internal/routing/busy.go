package routing

import (
	"time"
)

// Busy flow control timing.
const (
	// DefaultBusyWaitTime is the wait time advertised in self-generated
	// ROUTING_BUSY frames.
	DefaultBusyWaitTime = 100 * time.Millisecond

	// busyRepeatThreshold is the minimum time spent in Wait before another
	// busy frame counts as a new congestion signal.
	busyRepeatThreshold = 10 * time.Millisecond

	randomWaitSlot   = 50 * time.Millisecond
	slowDurationSlot = 100 * time.Millisecond
	decrementPeriod  = 5 * time.Millisecond
)

// RandomSource provides jitter for the RandomWait stage. *rand.Rand from
// math/rand satisfies it.
type RandomSource interface {
	Int63n(n int64) int64
}

// BusyTransition is the outcome of a busy timer expiration.
type BusyTransition struct {
	// Stage is the stage to enter.
	Stage BusyStage

	// Counter is the busy counter after the transition.
	Counter int

	// Interval arms the timer when Cancel is false.
	Interval time.Duration

	// Repeating selects a periodic timer.
	Repeating bool

	// Cancel stops the timer; the episode is over.
	Cancel bool

	// Rearm is false when a repeating timer keeps running unchanged.
	Rearm bool

	// ResumeRouting moves the engine from NeighborBusy back to Routing.
	ResumeRouting bool
}

// NextBusyTransition computes the stage that follows an expiration of the
// busy timer in stage with the given busy counter.
//
//	Wait                 → RandomWait, once after rand[0, counter×50ms)
//	RandomWait           → SlowDuration, once after counter×100ms, resume routing
//	SlowDuration         → DecrementBusyCounter, every 5ms
//	DecrementBusyCounter → counter-1; at 0 cancel and return to NotInit
//
// The function is pure apart from drawing from rnd in the Wait stage.
func NextBusyTransition(stage BusyStage, counter int, rnd RandomSource) BusyTransition {
	if counter < 0 {
		counter = 0
	}

	switch stage {
	case BusyStageWait:
		var jitter time.Duration
		if span := int64(counter) * int64(randomWaitSlot); span > 0 && rnd != nil {
			jitter = time.Duration(rnd.Int63n(span))
		}
		return BusyTransition{
			Stage:    BusyStageRandomWait,
			Counter:  counter,
			Interval: jitter,
			Rearm:    true,
		}

	case BusyStageRandomWait:
		return BusyTransition{
			Stage:         BusyStageSlowDuration,
			Counter:       counter,
			Interval:      time.Duration(counter) * slowDurationSlot,
			Rearm:         true,
			ResumeRouting: true,
		}

	case BusyStageSlowDuration:
		return BusyTransition{
			Stage:     BusyStageDecrementBusyCounter,
			Counter:   counter,
			Interval:  decrementPeriod,
			Repeating: true,
			Rearm:     true,
		}

	case BusyStageDecrementBusyCounter:
		if counter > 0 {
			counter--
		}
		if counter == 0 {
			return BusyTransition{Stage: BusyStageNotInit, Cancel: true}
		}
		return BusyTransition{
			Stage:     BusyStageDecrementBusyCounter,
			Counter:   counter,
			Interval:  decrementPeriod,
			Repeating: true,
		}

	default:
		return BusyTransition{Stage: BusyStageNotInit, Counter: counter, Cancel: true}
	}
}

// BusyFlowController tracks the busy stage and counter and drives a Timer.
//
// It is not safe for concurrent use; the Engine calls it with its mutex held.
type BusyFlowController struct {
	timer Timer
	rnd   RandomSource

	stage    BusyStage
	counter  int
	interval time.Duration
}

// NewBusyFlowController creates a controller in stage NotInit.
func NewBusyFlowController(timer Timer, rnd RandomSource) *BusyFlowController {
	return &BusyFlowController{timer: timer, rnd: rnd}
}

// Handle processes a busy signal advertising wait.
//
// In stage Wait a busy frame arriving at least 10ms into the wait counts as
// repeated congestion and increments the counter; the wait is extended when
// less than wait remains. In any other stage the controller (re)enters Wait.
// The timer is restarted with the planned interval in every case.
func (c *BusyFlowController) Handle(wait time.Duration) {
	if c.stage == BusyStageWait {
		remaining := c.timer.Remaining()
		if c.interval-remaining >= busyRepeatThreshold {
			c.counter++
		}
		if remaining < wait {
			c.interval = wait
		}
	} else {
		c.timer.Cancel()
		c.interval = wait
		c.stage = BusyStageWait
	}
	c.timer.ArmOnce(c.interval)
}

// Expire applies the transition for a timer expiration.
//
// Returns:
//   - bool: true when the engine should resume Routing
func (c *BusyFlowController) Expire() bool {
	c.timer.Fired()

	tr := NextBusyTransition(c.stage, c.counter, c.rnd)
	c.stage = tr.Stage
	c.counter = tr.Counter

	switch {
	case tr.Cancel:
		c.timer.Cancel()
		c.interval = 0
	case tr.Rearm && tr.Repeating:
		c.interval = tr.Interval
		c.timer.ArmRepeating(tr.Interval)
	case tr.Rearm:
		c.interval = tr.Interval
		c.timer.ArmOnce(tr.Interval)
	}
	return tr.ResumeRouting
}

// Reset cancels the timer and clears stage and counter.
func (c *BusyFlowController) Reset() {
	c.timer.Cancel()
	c.stage = BusyStageNotInit
	c.counter = 0
	c.interval = 0
}

// Stage returns the current stage.
func (c *BusyFlowController) Stage() BusyStage { return c.stage }

// Counter returns the busy counter.
func (c *BusyFlowController) Counter() int { return c.counter }

// C returns the timer channel for the engine's select loop.
func (c *BusyFlowController) C() <-chan time.Time { return c.timer.C() }
