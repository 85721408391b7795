package feeshare

import (
	"testing"

	"github.com/etpool/mining-proxy/internal/config"
)

// TestRouteDeterministicRate verifies spec.md §8.1: after N submissions the
// dev share count is within 1 of floor(N*rate/100).
func TestRouteDeterministicRate(t *testing.T) {
	var c Counter
	const rate = 10
	const n = 1000

	for i := 0; i < n; i++ {
		dest := c.Route(config.Skim, rate)
		c.Record(dest)
	}

	want := (n * rate) / 100
	got := int(c.Snapshot().SubmitsDev)
	diff := want - got
	if diff < 0 {
		diff = -diff
	}
	if diff > 1 {
		t.Fatalf("dev share drifted too far: want ~%d, got %d", want, got)
	}
}

func TestRoutePureProxyAlwaysReal(t *testing.T) {
	var c Counter
	for i := 0; i < 50; i++ {
		if dest := c.Route(config.PureProxy, 0); dest != DestReal {
			t.Fatalf("expected DestReal, got %v", dest)
		}
		c.Record(DestReal)
	}
}

func TestRouteUnifiedAlwaysUnified(t *testing.T) {
	var c Counter
	for i := 0; i < 50; i++ {
		if dest := c.Route(config.UnifiedWallet, 100); dest != DestUnified {
			t.Fatalf("expected DestUnified, got %v", dest)
		}
		c.Record(DestUnified)
	}
}

func TestRouteMonotonicWantDev(t *testing.T) {
	var c Counter
	const rate = 25
	for i := 0; i < 4; i++ {
		c.Record(c.Route(config.Skim, rate))
	}
	snap := c.Snapshot()
	if snap.SubmitsDev == 0 {
		t.Fatal("expected at least one dev-routed submission at 25% over 4 submits")
	}
}
