package ratelimit

import (
	"sync/atomic"
	"time"
)

// Tier names used by the gateway routes.
const (
	TierDefault = "default"
	TierChat    = "chat"
	TierHealth  = "health"
)

// Tier is a named limit applied to a group of routes.
type Tier struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

// DefaultTiers returns the built-in tiers. Chat traffic is bursty and gets a
// larger budget; health checks are effectively unlimited.
func DefaultTiers() map[string]Tier {
	return map[string]Tier{
		TierDefault: {Name: TierDefault, MaxRequests: 100, Window: 15 * time.Minute},
		TierChat:    {Name: TierChat, MaxRequests: 300, Window: 15 * time.Minute},
		TierHealth:  {Name: TierHealth, MaxRequests: 1000, Window: time.Minute},
	}
}

// TierSet holds the active tiers. Replace swaps them atomically so a config
// reload takes effect on the next request.
type TierSet struct {
	tiers atomic.Pointer[map[string]Tier]
}

// NewTierSet creates a set seeded with tiers. A nil map seeds DefaultTiers.
func NewTierSet(tiers map[string]Tier) *TierSet {
	s := &TierSet{}
	if tiers == nil {
		tiers = DefaultTiers()
	}
	s.Replace(tiers)
	return s
}

// Replace installs tiers. Names missing from tiers keep their built-in
// defaults.
func (s *TierSet) Replace(tiers map[string]Tier) {
	merged := DefaultTiers()
	for name, t := range tiers {
		t.Name = name
		merged[name] = t
	}
	s.tiers.Store(&merged)
}

// Get returns the named tier, falling back to the default tier.
func (s *TierSet) Get(name string) Tier {
	tiers := *s.tiers.Load()
	if t, ok := tiers[name]; ok {
		return t
	}
	return tiers[TierDefault]
}
