// Package worker defines the Worker entity from spec.md §3: the miner-facing
// identity reported to telemetry, distinct from the upstream-facing
// FeeCounter (internal/feeshare) that decides routing. Grounded on the
// teacher's per-session counters in proxy/stratum.go, with an added uuid.UUID
// identity per SPEC_FULL.md §3 (google/uuid, named dependency).
package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// nextIndex assigns each Worker a process-wide monotonic ordinal, the
// "index" field spec.md §6 requires in telemetry egress.
var nextIndex int64

// Worker tracks one miner's reported identity and accept/reject counters.
// Owned by exactly one Session; telemetry reads it via Snapshot so it never
// holds the Session's lock across the egress channel send.
type Worker struct {
	ID    uuid.UUID
	Name  string
	Index int

	mu             sync.Mutex
	wallet         string
	accepted       uint64
	rejected       uint64
	submitHashrate uint64 // last self-reported value, via eth_submitHashrate
	reportHashrate uint64 // proxy-computed estimate from accepted shares * difficulty
	connected      time.Time
}

func New(name, wallet string) *Worker {
	return &Worker{
		ID:        uuid.New(),
		Name:      name,
		Index:     int(atomic.AddInt64(&nextIndex, 1) - 1),
		wallet:    wallet,
		connected: time.Now(),
	}
}

// RecordAccepted records an accepted share and folds it into the
// proxy-computed report_hashrate estimate: accepted shares times the
// session's configured difficulty, divided by time connected so far, gives
// an effective hashes/sec figure independent of the miner's own
// eth_submitHashrate self-report.
func (w *Worker) RecordAccepted(difficulty uint64) {
	w.mu.Lock()
	w.accepted++
	elapsed := time.Since(w.connected).Seconds()
	if elapsed > 0 {
		w.reportHashrate = uint64(float64(w.accepted*difficulty) / elapsed)
	}
	w.mu.Unlock()
}

func (w *Worker) RecordRejected() {
	w.mu.Lock()
	w.rejected++
	w.mu.Unlock()
}

// SetHashrate updates the self-reported value from eth_submitHashrate.
// spec.md §6 names this submit_hashrate on the wire: it is literally what
// the miner reports, not a proxy-derived figure.
func (w *Worker) SetHashrate(h uint64) {
	w.mu.Lock()
	w.submitHashrate = h
	w.mu.Unlock()
}

// Snapshot is an immutable, telemetry-safe copy of a Worker's current state,
// tagged to match exactly the external supervisor's expected egress shape
// (spec.md §6): worker_name, login_wallet, accepted, rejected,
// submit_hashrate, report_hashrate, online_since_secs, index.
type Snapshot struct {
	ID              uuid.UUID `json:"-"`
	WorkerName      string    `json:"worker_name"`
	LoginWallet     string    `json:"login_wallet"`
	Accepted        uint64    `json:"accepted"`
	Rejected        uint64    `json:"rejected"`
	SubmitHashrate  uint64    `json:"submit_hashrate"`
	ReportHashrate  uint64    `json:"report_hashrate"`
	OnlineSinceSecs float64   `json:"online_since_secs"`
	Index           int       `json:"index"`
}

func (w *Worker) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		ID:              w.ID,
		WorkerName:      w.Name,
		LoginWallet:     w.wallet,
		Accepted:        w.accepted,
		Rejected:        w.rejected,
		SubmitHashrate:  w.submitHashrate,
		ReportHashrate:  w.reportHashrate,
		OnlineSinceSecs: time.Since(w.connected).Seconds(),
		Index:           w.Index,
	}
}
