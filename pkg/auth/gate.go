// Package auth guards the accept path and holds relay credential parsing.
package auth

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// GateConfig configures per-remote-IP connection throttling. Zero values
// fall back to 5 connections/s with a burst of 10.
type GateConfig struct {
	RPS   float64
	Burst int
}

// Gate is a pool of per-IP token buckets applied to incoming connections.
type Gate struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg GateConfig
}

func NewGate(cfg GateConfig) *Gate {
	return &Gate{m: map[string]*rate.Limiter{}, cfg: cfg}
}

func (g *Gate) get(key string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.m[key]; ok {
		return l
	}
	rps := g.cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := g.cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	g.m[key] = l
	return l
}

// Allow reports whether a connection from addr may be accepted now.
func (g *Gate) Allow(addr net.Addr) bool {
	host := addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return g.get(host).Allow()
}

// ParseSecret decodes the relay shared secret. Accepts a hex string with
// an optional 0x prefix; an empty string yields an empty secret for
// standalone operation.
func ParseSecret(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid relay secret: %w", err)
	}
	return b, nil
}
