package ratelimit

import (
	"net"
	"testing"
	"time"
)

func addr(ip string) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: 12345}
}

func TestAllowWithinBurst(t *testing.T) {
	l := New(1, 3)
	a := addr("10.0.0.1")
	for i := 0; i < 3; i++ {
		if !l.Allow(a) {
			t.Fatalf("expected attempt %d to be allowed within burst", i)
		}
	}
}

func TestAllowExhaustsBurst(t *testing.T) {
	l := New(1, 2)
	a := addr("10.0.0.2")
	l.Allow(a)
	l.Allow(a)
	if l.Allow(a) {
		t.Fatal("expected third rapid attempt to be denied")
	}
}

func TestAllowPerIPIndependent(t *testing.T) {
	l := New(1, 1)
	a1 := addr("10.0.0.3")
	a2 := addr("10.0.0.4")
	if !l.Allow(a1) {
		t.Fatal("expected first IP to be allowed")
	}
	if !l.Allow(a2) {
		t.Fatal("expected second, distinct IP to be allowed independently")
	}
}

func TestBanBlocksUntilExpiry(t *testing.T) {
	l := New(10, 10)
	a := addr("10.0.0.5")
	l.Ban(a, 50*time.Millisecond)
	if l.Allow(a) {
		t.Fatal("expected banned IP to be denied")
	}
	time.Sleep(60 * time.Millisecond)
	if !l.Allow(a) {
		t.Fatal("expected ban to have expired")
	}
}

func TestPenalizeMalformedBurnsBucket(t *testing.T) {
	l := New(1, 5)
	a := addr("10.0.0.6")
	l.Allow(a)
	l.PenalizeMalformed(a)
	if l.Allow(a) {
		t.Fatal("expected bucket to be exhausted after penalty")
	}
}
