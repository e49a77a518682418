// Package ratelimit admits proxy connections per client peer.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter limits how fast each client peer may open new connections.
type Limiter struct {
	mu           sync.RWMutex
	perPeer      map[string]*peer
	defaultRate  rate.Limit
	defaultBurst int
	rejected     int64

	now func() time.Time
}

type peer struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter allowing connectionsPerSecond new connections
// per peer, with the given burst. A rate <= 0 disables per-peer limiting.
func NewLimiter(connectionsPerSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		perPeer:      make(map[string]*peer),
		defaultRate:  limitOf(connectionsPerSecond),
		defaultBurst: burst,
		now:          time.Now,
	}
}

// peerLimiter returns the limiter of key, creating it on first use.
func (l *Limiter) peerLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.perPeer[key]
	if !ok {
		p = &peer{limiter: rate.NewLimiter(l.defaultRate, l.defaultBurst)}
		l.perPeer[key] = p
	}
	p.lastSeen = l.now()
	return p.limiter
}

// Allow reports whether a new connection from addr may be accepted now.
func (l *Limiter) Allow(addr net.Addr) bool {
	return l.AllowPeer(PeerKey(addr))
}

// AllowPeer reports whether a new connection from key may be accepted now.
func (l *Limiter) AllowPeer(key string) bool {
	if !l.peerLimiter(key).Allow() {
		l.reject()
		return false
	}
	return true
}

func (l *Limiter) reject() {
	l.mu.Lock()
	l.rejected++
	l.mu.Unlock()
}

// Prune forgets peers idle for longer than idle and returns how many were
// removed.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for key, p := range l.perPeer {
		if p.lastSeen.Before(cutoff) {
			delete(l.perPeer, key)
			removed++
		}
	}
	return removed
}

func limitOf(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

// PeerKey returns the host part of addr, so every connection from one client
// machine shares a limiter.
func PeerKey(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Stats returns rate limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := LimiterStats{
		PeerCount:    len(l.perPeer),
		DefaultBurst: l.defaultBurst,
		Rejected:     l.rejected,
	}
	// 0 reports an unlimited rate.
	if l.defaultRate != rate.Inf {
		stats.DefaultRate = float64(l.defaultRate)
	}
	return stats
}

// LimiterStats contains rate limiter statistics.
type LimiterStats struct {
	PeerCount    int     `json:"peer_count"`
	DefaultRate  float64 `json:"default_rate"`
	DefaultBurst int     `json:"default_burst"`
	Rejected     int64   `json:"rejected"`
}
