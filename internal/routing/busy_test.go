package routing

import (
	"testing"
	"time"
)

func TestNextBusyTransition(t *testing.T) {
	tests := []struct {
		name    string
		stage   BusyStage
		counter int
		rnd     RandomSource
		want    BusyTransition
	}{
		{
			name:    "wait to random wait",
			stage:   BusyStageWait,
			counter: 3,
			rnd:     fixedRand{v: int64(42 * time.Millisecond)},
			want:    BusyTransition{Stage: BusyStageRandomWait, Counter: 3, Interval: 42 * time.Millisecond, Rearm: true},
		},
		{
			name:    "random wait is bounded by counter×50ms",
			stage:   BusyStageWait,
			counter: 2,
			rnd:     fixedRand{v: int64(time.Hour)},
			want:    BusyTransition{Stage: BusyStageRandomWait, Counter: 2, Interval: 100*time.Millisecond - 1, Rearm: true},
		},
		{
			name:    "wait with zero counter has no jitter",
			stage:   BusyStageWait,
			counter: 0,
			rnd:     fixedRand{v: 5},
			want:    BusyTransition{Stage: BusyStageRandomWait, Rearm: true},
		},
		{
			name:    "random wait to slow duration",
			stage:   BusyStageRandomWait,
			counter: 4,
			want:    BusyTransition{Stage: BusyStageSlowDuration, Counter: 4, Interval: 400 * time.Millisecond, Rearm: true, ResumeRouting: true},
		},
		{
			name:    "slow duration to decrement",
			stage:   BusyStageSlowDuration,
			counter: 4,
			want:    BusyTransition{Stage: BusyStageDecrementBusyCounter, Counter: 4, Interval: 5 * time.Millisecond, Repeating: true, Rearm: true},
		},
		{
			name:    "decrement keeps ticking",
			stage:   BusyStageDecrementBusyCounter,
			counter: 4,
			want:    BusyTransition{Stage: BusyStageDecrementBusyCounter, Counter: 3, Interval: 5 * time.Millisecond, Repeating: true},
		},
		{
			name:    "last decrement ends the episode",
			stage:   BusyStageDecrementBusyCounter,
			counter: 1,
			want:    BusyTransition{Stage: BusyStageNotInit, Cancel: true},
		},
		{
			name:    "decrement never goes negative",
			stage:   BusyStageDecrementBusyCounter,
			counter: 0,
			want:    BusyTransition{Stage: BusyStageNotInit, Cancel: true},
		},
		{
			name:  "stray expiry in not init",
			stage: BusyStageNotInit,
			want:  BusyTransition{Stage: BusyStageNotInit, Cancel: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextBusyTransition(tt.stage, tt.counter, tt.rnd)
			if got != tt.want {
				t.Errorf("NextBusyTransition(%v, %d) = %+v, want %+v", tt.stage, tt.counter, got, tt.want)
			}
		})
	}
}

func TestBusyDecay(t *testing.T) {
	for _, n := range []int{1, 2, 7, 20} {
		timer := newFakeTimer()
		c := NewBusyFlowController(timer, fixedRand{})
		c.stage = BusyStageDecrementBusyCounter
		c.counter = n
		timer.ArmRepeating(decrementPeriod)

		for i := 0; i < n; i++ {
			if c.Stage() != BusyStageDecrementBusyCounter {
				t.Fatalf("n=%d: left DecrementBusyCounter after %d firings", n, i)
			}
			c.Expire()
		}

		if c.Counter() != 0 || c.Stage() != BusyStageNotInit {
			t.Errorf("n=%d: counter=%d stage=%v after %d firings, want 0 and not_init", n, c.Counter(), c.Stage(), n)
		}
		if timer.Active() {
			t.Errorf("n=%d: timer still armed", n)
		}
	}
}

func TestBusyFlowControllerEpisode(t *testing.T) {
	timer := newFakeTimer()
	c := NewBusyFlowController(timer, fixedRand{v: int64(7 * time.Millisecond)})

	c.Handle(100 * time.Millisecond)
	if c.Stage() != BusyStageWait || timer.lastArm() != 100*time.Millisecond {
		t.Fatalf("after Handle: stage=%v arm=%v", c.Stage(), timer.lastArm())
	}

	// A second busy 30ms in counts as repeated congestion.
	timer.elapse(30 * time.Millisecond)
	c.Handle(100 * time.Millisecond)
	if c.Counter() != 1 {
		t.Fatalf("counter = %d, want 1", c.Counter())
	}
	if timer.lastArm() != 100*time.Millisecond {
		t.Errorf("re-armed with %v, want 100ms", timer.lastArm())
	}

	wantStages := []struct {
		stage  BusyStage
		resume bool
		arm    time.Duration
	}{
		{BusyStageRandomWait, false, 7 * time.Millisecond},
		{BusyStageSlowDuration, true, 100 * time.Millisecond},
		{BusyStageDecrementBusyCounter, false, 5 * time.Millisecond},
		{BusyStageNotInit, false, 5 * time.Millisecond},
	}
	for i, want := range wantStages {
		resume := c.Expire()
		if c.Stage() != want.stage || resume != want.resume {
			t.Fatalf("expiry %d: stage=%v resume=%v, want %v %v", i, c.Stage(), resume, want.stage, want.resume)
		}
		if timer.lastArm() != want.arm {
			t.Errorf("expiry %d: last arm %v, want %v", i, timer.lastArm(), want.arm)
		}
	}
	if timer.Active() {
		t.Error("timer still armed after the episode")
	}
}

func TestBusyFlowControllerWaitRules(t *testing.T) {
	tests := []struct {
		name        string
		elapsed     time.Duration
		firstWait   time.Duration
		secondWait  time.Duration
		wantCounter int
		wantArm     time.Duration
	}{
		{name: "quick repeat does not count", elapsed: 5 * time.Millisecond, firstWait: 100 * time.Millisecond, secondWait: 50 * time.Millisecond, wantCounter: 0, wantArm: 100 * time.Millisecond},
		{name: "exactly 10ms counts", elapsed: 10 * time.Millisecond, firstWait: 100 * time.Millisecond, secondWait: 50 * time.Millisecond, wantCounter: 1, wantArm: 100 * time.Millisecond},
		{name: "longer wait extends", elapsed: 80 * time.Millisecond, firstWait: 100 * time.Millisecond, secondWait: 50 * time.Millisecond, wantCounter: 1, wantArm: 50 * time.Millisecond},
		{name: "shorter remaining than new wait", elapsed: 0, firstWait: 20 * time.Millisecond, secondWait: 60 * time.Millisecond, wantCounter: 0, wantArm: 60 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timer := newFakeTimer()
			c := NewBusyFlowController(timer, fixedRand{})
			c.Handle(tt.firstWait)
			timer.elapse(tt.elapsed)
			c.Handle(tt.secondWait)

			if c.Counter() != tt.wantCounter {
				t.Errorf("counter = %d, want %d", c.Counter(), tt.wantCounter)
			}
			if timer.lastArm() != tt.wantArm {
				t.Errorf("armed %v, want %v", timer.lastArm(), tt.wantArm)
			}
			if c.Stage() != BusyStageWait {
				t.Errorf("stage = %v, want wait", c.Stage())
			}
		})
	}
}

func TestBusyFlowControllerRestartsFromOtherStages(t *testing.T) {
	timer := newFakeTimer()
	c := NewBusyFlowController(timer, fixedRand{})
	c.Handle(100 * time.Millisecond)
	c.Expire() // random wait
	c.Expire() // slow duration

	c.Handle(40 * time.Millisecond)
	if c.Stage() != BusyStageWait || timer.lastArm() != 40*time.Millisecond {
		t.Errorf("stage=%v arm=%v, want wait with 40ms", c.Stage(), timer.lastArm())
	}

	c.Reset()
	if c.Stage() != BusyStageNotInit || c.Counter() != 0 || timer.Active() {
		t.Error("Reset() should clear stage, counter and timer")
	}
}
