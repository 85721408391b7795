// Package feeshare implements the deterministic fee-injection rule from
// spec.md §4.4: route a worker's Nth share (1-indexed) to the developer
// upstream whenever doing so keeps the running dev/total ratio at or below
// share_rate, and to the real pool otherwise. No standard-library RNG or
// probabilistic sampling is used — "deterministic" is the testable property
// (spec.md §8.1), built directly on the counters already carried per Worker,
// the way the teacher tracks per-session counters in proxy/stratum.go without
// reaching for an external scheduling library. This is the one component
// DESIGN.md documents as intentionally standard-library-only: the rule is a
// single integer floor-division comparison, not a scheduling or sampling
// concern any pack dependency addresses.
package feeshare

import "github.com/etpool/mining-proxy/internal/config"

// Counter tracks one worker's submission history for the routing rule. It is
// owned by that worker's Session (spec.md §3, FeeCounter ownership).
type Counter struct {
	submitsTotal    uint64
	submitsDev      uint64
	submitsReal     uint64
	submitsUnified  uint64
}

// Route selects where the next submission (the (N+1)th, since submitsTotal is
// the count BEFORE this one) should go, given mode and shareRate (0-100).
// Route must be called, and its result obeyed, before Record — Record just
// updates the counters.
type Destination int

const (
	DestReal Destination = iota
	DestDev
	DestUnified
)

// Route applies spec.md §4.4's rule: want_dev = floor((N+1)*rate/100); route
// to dev iff want_dev > submitsDev so far. In unified_wallet mode every share
// routes to the single unified connection instead — no floor-division needed
// since there is only one destination.
func (c *Counter) Route(mode config.ShareMode, shareRate int) Destination {
	switch mode {
	case config.PureProxy:
		return DestReal
	case config.UnifiedWallet:
		return DestUnified
	case config.Skim:
		n := c.submitsTotal
		wantDev := ((n + 1) * uint64(shareRate)) / 100
		if wantDev > c.submitsDev {
			return DestDev
		}
		return DestReal
	default:
		return DestReal
	}
}

// Record updates the counters after a submission has actually been routed to
// dest. Must be called exactly once per submission, after Route.
func (c *Counter) Record(dest Destination) {
	c.submitsTotal++
	switch dest {
	case DestDev:
		c.submitsDev++
	case DestReal:
		c.submitsReal++
	case DestUnified:
		c.submitsUnified++
	}
}

// Snapshot is an immutable copy of a Counter's state, safe to hand to the
// telemetry egress path without holding the Session's lock.
type Snapshot struct {
	SubmitsTotal   uint64
	SubmitsDev     uint64
	SubmitsReal    uint64
	SubmitsUnified uint64
}

func (c *Counter) Snapshot() Snapshot {
	return Snapshot{
		SubmitsTotal:   c.submitsTotal,
		SubmitsDev:     c.submitsDev,
		SubmitsReal:    c.submitsReal,
		SubmitsUnified: c.submitsUnified,
	}
}
