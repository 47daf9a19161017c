package routing

import (
	"sync/atomic"
	"time"
)

// Stats holds engine counters since construction.
type Stats struct {
	FramesReceived     uint64
	FramesSent         uint64
	DiscardedOwn       uint64 // own frames looped back by the group
	DiscardedOverload  uint64 // dropped after an overload limit was hit
	DiscardedMalformed uint64 // header or size errors
	DiscardedInactive  uint64 // arrived while not routing
	BusySignalled      uint64 // self-generated busy frames
	BusyEpisodes       uint64 // entries into the Wait stage
	SendFailures       uint64
	LastActivity       time.Time
}

type engineStats struct {
	framesReceived     atomic.Uint64
	framesSent         atomic.Uint64
	discardedOwn       atomic.Uint64
	discardedOverload  atomic.Uint64
	discardedMalformed atomic.Uint64
	discardedInactive  atomic.Uint64
	busySignalled      atomic.Uint64
	busyEpisodes       atomic.Uint64
	sendFailures       atomic.Uint64
	lastActivity       atomic.Int64 // Unix nanoseconds
}

func (s *engineStats) snapshot() Stats {
	st := Stats{
		FramesReceived:     s.framesReceived.Load(),
		FramesSent:         s.framesSent.Load(),
		DiscardedOwn:       s.discardedOwn.Load(),
		DiscardedOverload:  s.discardedOverload.Load(),
		DiscardedMalformed: s.discardedMalformed.Load(),
		DiscardedInactive:  s.discardedInactive.Load(),
		BusySignalled:      s.busySignalled.Load(),
		BusyEpisodes:       s.busyEpisodes.Load(),
		SendFailures:       s.sendFailures.Load(),
	}
	if ts := s.lastActivity.Load(); ts != 0 {
		st.LastActivity = time.Unix(0, ts)
	}
	return st
}
