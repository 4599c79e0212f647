package platform

import (
	"strings"

	"payvault/native/fees"
)

// Config is the platform-wide configuration singleton: the administrative
// identity, the treasury that collects platform fees, an optional default
// release authority for pool escrows, the pause flag, and the category fee
// policy. Admin changes flow through the two-step transfer tracked by
// PendingAdmin.
type Config struct {
	Admin            [20]byte
	Treasury         [20]byte
	ReleaseAuthority [20]byte
	Paused           bool
	PendingAdmin     *[20]byte
	DefaultFeeBps    uint32
	CategoryRates    map[string]uint32
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.PendingAdmin != nil {
		pending := *c.PendingAdmin
		clone.PendingAdmin = &pending
	}
	if len(c.CategoryRates) > 0 {
		clone.CategoryRates = make(map[string]uint32, len(c.CategoryRates))
		for category, rate := range c.CategoryRates {
			clone.CategoryRates[category] = rate
		}
	}
	return &clone
}

// FeeRate resolves the fee rate for an escrow category, falling back to the
// default rate when the category carries no explicit policy.
func (c *Config) FeeRate(category string) uint32 {
	if c == nil {
		return 0
	}
	if len(c.CategoryRates) > 0 {
		if rate, ok := c.CategoryRates[NormalizeCategory(category)]; ok {
			return rate
		}
	}
	return c.DefaultFeeBps
}

// NormalizeCategory canonicalises category identifiers for consistent lookups.
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

// Sanitize validates and normalises the configuration, returning a cloned
// instance with canonical category keys.
func Sanitize(c *Config) (*Config, error) {
	if c == nil {
		return nil, ErrNotInitialized
	}
	clone := c.Clone()
	if clone.Admin == ([20]byte{}) {
		return nil, ErrInvalidAdmin
	}
	if clone.Treasury == ([20]byte{}) {
		return nil, ErrInvalidTreasury
	}
	if clone.DefaultFeeBps > fees.BpsDenominator {
		return nil, fees.ErrInvalidPercentage
	}
	if len(clone.CategoryRates) > 0 {
		normalized := make(map[string]uint32, len(clone.CategoryRates))
		for category, rate := range clone.CategoryRates {
			if rate > fees.BpsDenominator {
				return nil, fees.ErrInvalidPercentage
			}
			normalized[NormalizeCategory(category)] = rate
		}
		clone.CategoryRates = normalized
	}
	return clone, nil
}
