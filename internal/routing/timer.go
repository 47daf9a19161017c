package routing

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is the minimal timer the busy controller needs.
//
// Expirations are delivered on C. The owner must call Fired after receiving
// from C so the timer can track its next deadline. C returns nil while the
// timer is not armed, which blocks forever in a select.
type Timer interface {
	// ArmOnce (re)starts the timer to fire once after d.
	ArmOnce(d time.Duration)

	// ArmRepeating (re)starts the timer to fire every d.
	ArmRepeating(d time.Duration)

	// Cancel stops the timer. Pending expirations are discarded.
	Cancel()

	// Fired records that an expiration was consumed from C.
	Fired()

	// Active reports whether the timer is armed.
	Active() bool

	// Remaining returns the time until the next expiration, or 0 when idle.
	Remaining() time.Duration

	// C returns the expiration channel of the current arming.
	C() <-chan time.Time
}

// clockTimer implements Timer on top of a clock.Clock so tests can drive it
// with clock.NewMock.
type clockTimer struct {
	clk clock.Clock

	timer  *clock.Timer
	ticker *clock.Ticker

	period   time.Duration
	deadline time.Time
}

// NewClockTimer returns a Timer backed by clk. Not safe for concurrent use;
// the Engine serialises access under its mutex.
func NewClockTimer(clk clock.Clock) Timer {
	return &clockTimer{clk: clk}
}

func (t *clockTimer) ArmOnce(d time.Duration) {
	t.Cancel()
	t.period = 0
	t.deadline = t.clk.Now().Add(d)
	t.timer = t.clk.Timer(d)
}

func (t *clockTimer) ArmRepeating(d time.Duration) {
	t.Cancel()
	t.period = d
	t.deadline = t.clk.Now().Add(d)
	t.ticker = t.clk.Ticker(d)
}

func (t *clockTimer) Cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
	t.deadline = time.Time{}
}

func (t *clockTimer) Fired() {
	switch {
	case t.ticker != nil:
		t.deadline = t.deadline.Add(t.period)
	case t.timer != nil:
		t.timer = nil
		t.deadline = time.Time{}
	}
}

func (t *clockTimer) Active() bool {
	return t.timer != nil || t.ticker != nil
}

func (t *clockTimer) Remaining() time.Duration {
	if !t.Active() {
		return 0
	}
	if r := t.deadline.Sub(t.clk.Now()); r > 0 {
		return r
	}
	return 0
}

func (t *clockTimer) C() <-chan time.Time {
	switch {
	case t.timer != nil:
		return t.timer.C
	case t.ticker != nil:
		return t.ticker.C
	default:
		return nil
	}
}
