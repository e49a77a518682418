package ratelimit

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Limiter Tests
// =============================================================================

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(10.0, 5)

	if l == nil {
		t.Fatal("NewLimiter() returned nil")
	}
	if l.perPeer == nil {
		t.Error("perPeer map is nil")
	}
	if l.defaultRate != 10.0 {
		t.Errorf("defaultRate = %v, want 10.0", l.defaultRate)
	}
	if l.defaultBurst != 5 {
		t.Errorf("defaultBurst = %d, want 5", l.defaultBurst)
	}
}

func TestLimiter_AllowPeer_Burst(t *testing.T) {
	l := NewLimiter(1, 3) // 1 conn/sec with burst of 3

	for i := 0; i < 3; i++ {
		if !l.AllowPeer("10.0.0.1") {
			t.Errorf("AllowPeer() should return true for burst connection %d", i+1)
		}
	}

	if l.AllowPeer("10.0.0.1") {
		t.Error("AllowPeer() should return false after burst exhausted")
	}

	// Other peers have their own budget.
	if !l.AllowPeer("10.0.0.2") {
		t.Error("AllowPeer() should not limit a different peer")
	}

	if got := l.Stats().Rejected; got != 1 {
		t.Errorf("Rejected = %d, want 1", got)
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(0, 0)

	for i := 0; i < 100; i++ {
		if !l.AllowPeer("peer") {
			t.Fatalf("unlimited limiter rejected connection %d", i+1)
		}
	}
	if got := l.Stats().DefaultRate; got != 0 {
		t.Errorf("DefaultRate = %v, want 0 for unlimited", got)
	}
}

func TestLimiter_Allow_Addr(t *testing.T) {
	l := NewLimiter(1, 1)
	a := &net.TCPAddr{IP: net.ParseIP("192.0.2.7"), Port: 50000}
	b := &net.TCPAddr{IP: net.ParseIP("192.0.2.7"), Port: 50001}

	if !l.Allow(a) {
		t.Fatal("first connection should be allowed")
	}
	if l.Allow(b) {
		t.Error("second port of the same host should share the budget")
	}
}

func TestLimiter_Prune(t *testing.T) {
	now := time.Now()
	l := NewLimiter(10, 1)
	l.now = func() time.Time { return now }

	l.AllowPeer("old")
	now = now.Add(time.Minute)
	l.AllowPeer("recent")

	if removed := l.Prune(30 * time.Second); removed != 1 {
		t.Errorf("Prune() = %d, want 1", removed)
	}
	if got := l.Stats().PeerCount; got != 1 {
		t.Errorf("PeerCount = %d, want 1", got)
	}
}

func TestPeerKey(t *testing.T) {
	tests := []struct {
		name string
		addr net.Addr
		want string
	}{
		{"nil", nil, ""},
		{"ipv4", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8082}, "127.0.0.1"},
		{"ipv6", &net.TCPAddr{IP: net.ParseIP("::1"), Port: 8082}, "::1"},
		{"unix", &net.UnixAddr{Name: "/tmp/sock", Net: "unix"}, "/tmp/sock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PeerKey(tt.addr); got != tt.want {
				t.Errorf("PeerKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(1000, 100)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.AllowPeer(key)
				l.Prune(time.Hour)
			}
		}(fmt.Sprintf("peer-%d", i))
	}
	wg.Wait()

	if stats := l.Stats(); stats.PeerCount != 10 {
		t.Errorf("PeerCount = %d, want 10", stats.PeerCount)
	}
}
