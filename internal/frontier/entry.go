// Package frontier implements the deduplicated crawl work queue.
package frontier

import (
	"time"

	"github.com/hotel-crawler/hotelspider/internal/urlutil"
)

// State is the lifecycle state of a canonical address. Every canonical
// address holds exactly one state for the lifetime of a run.
type State int

const (
	// StatePending means the address is queued and waiting for dispatch.
	StatePending State = iota
	// StateInFlight means a worker is processing the address, or a retry
	// is scheduled and has not yet re-entered the queue.
	StateInFlight
	// StateVisited is terminal: the address was fetched successfully.
	StateVisited
	// StateFailed is terminal: the address was abandoned.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	case StateVisited:
		return "visited"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Entry is a unit of crawl work. Entries are owned by the Frontier and
// mutated only through Frontier operations.
type Entry struct {
	// Address is the canonicalized address to fetch.
	Address *urlutil.Address

	// Depth is the discovery depth (0 for seeds).
	Depth int

	// EnqueuedAt is when the address first entered the frontier.
	EnqueuedAt time.Time

	// RetryCount is how many times the address has been re-queued after a
	// transient failure.
	RetryCount int
}

// SnapshotEntry describes one non-terminal address for resumption tooling.
type SnapshotEntry struct {
	Canonical  string `json:"canonical"`
	Raw        string `json:"raw"`
	Depth      int    `json:"depth"`
	RetryCount int    `json:"retry_count"`
	State      string `json:"state"`
}

// Stats holds frontier counters.
type Stats struct {
	Pending    int
	InFlight   int
	Visited    int
	Failed     int
	Enqueued   int
	Duplicates int
	Rejected   int
}
