// Package stats tracks the fuzz loop's running counters and formats them
// for the periodic log line and the live dashboard. The layout is grounded
// on original_source's stats.cc, whose display_stats() comments literally
// sketch this engine's eventual Go fmt.Printf layout.
package stats

import (
	"fmt"
	"sync"
	"time"
)

// Stats is safe for concurrent use: every worker reports into the same
// instance under a shared mutex (component O).
type Stats struct {
	mu sync.Mutex

	Cases       uint64
	Crashes     uint64
	UniqueEdges uint64
	CorpusSize  uint64
	startTime   time.Time
}

// New returns a Stats instance with its clock started now.
func New() *Stats {
	return &Stats{startTime: time.Now()}
}

// IncCase records one completed fuzz iteration.
func (s *Stats) IncCase() {
	s.mu.Lock()
	s.Cases++
	s.mu.Unlock()
}

// IncCrash records one recorded crash.
func (s *Stats) IncCrash() {
	s.mu.Lock()
	s.Crashes++
	s.mu.Unlock()
}

// SetCoverage updates the edge and corpus counters reported by the
// dashboard; the fuzz loop calls this after each iteration rather than
// having Stats read the coverage/corpus collaborators itself.
func (s *Stats) SetCoverage(uniqueEdges, corpusSize uint64) {
	s.mu.Lock()
	s.UniqueEdges = uniqueEdges
	s.CorpusSize = corpusSize
	s.mu.Unlock()
}

// Snapshot is an immutable copy of the counters plus the derived
// cases-per-second rate, suitable for handing to a log line or the
// dashboard's render loop without holding Stats' lock.
type Snapshot struct {
	Cases       uint64
	Crashes     uint64
	UniqueEdges uint64
	CorpusSize  uint64
	Elapsed     time.Duration
	CasesPerSec float64
}

// Snap takes a consistent snapshot of the current counters.
func (s *Stats) Snap() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := time.Since(s.startTime)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(s.Cases) / elapsed.Seconds()
	}
	return Snapshot{
		Cases:       s.Cases,
		Crashes:     s.Crashes,
		UniqueEdges: s.UniqueEdges,
		CorpusSize:  s.CorpusSize,
		Elapsed:     elapsed,
		CasesPerSec: rate,
	}
}

// Line renders a Snapshot as a single human-readable status line in the
// field layout display_stats() printed; numbers are not thousands-grouped.
func (snap Snapshot) Line() string {
	return fmt.Sprintf(
		"cases=%d crashes=%d edges=%d corpus=%d elapsed=%s rate=%.1f/s",
		snap.Cases, snap.Crashes, snap.UniqueEdges, snap.CorpusSize,
		snap.Elapsed.Round(time.Second), snap.CasesPerSec,
	)
}
