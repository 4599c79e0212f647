package escrow

import (
	"fmt"
)

// PoolStatus represents the lifecycle states of a pool escrow.
type PoolStatus uint8

const (
	PoolCreated PoolStatus = iota
	PoolFunded
	PoolActive
	PoolClosed
)

// Valid reports whether the status value is within the supported range.
func (s PoolStatus) Valid() bool {
	return s <= PoolClosed
}

// String implements fmt.Stringer for diagnostics and event payloads.
func (s PoolStatus) String() string {
	switch s {
	case PoolCreated:
		return "created"
	case PoolFunded:
		return "funded"
	case PoolActive:
		return "active"
	case PoolClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// PoolEscrow is an escrow funded once up front for a bounded number of
// metered single-recipient releases. TotalFunded is fixed at creation as
// PaymentPerRelease × MaxReleases plus the platform fee on that product;
// TotalReleased and ReleaseCount only grow and never exceed their budgets.
type PoolEscrow struct {
	ID                [32]byte
	Payer             [20]byte
	Token             string
	Vault             [20]byte
	PaymentPerRelease uint64
	MaxReleases       uint64
	TotalFunded       uint64
	TotalReleased     uint64
	ReleaseCount      uint64
	FeeBps            uint32
	ReleaseAuthority  [20]byte
	Status            PoolStatus
	CreatedAt         int64
	FundedAt          int64
	ClosedAt          int64
	Deadline          int64
}

// Clone returns a copy safe for mutation.
func (p *PoolEscrow) Clone() *PoolEscrow {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Remaining returns the funds still held for future releases.
func (p *PoolEscrow) Remaining() uint64 {
	if p == nil || p.TotalReleased > p.TotalFunded {
		return 0
	}
	return p.TotalFunded - p.TotalReleased
}

// SanitizePool validates and normalises the supplied pool record, returning a
// cloned instance. The original is not mutated.
func SanitizePool(p *PoolEscrow) (*PoolEscrow, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil pool escrow", ErrNotFound)
	}
	clone := p.Clone()
	token, err := NormalizeAsset(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidStatus, clone.Status)
	}
	if clone.MaxReleases == 0 || clone.MaxReleases > MaxPoolReleases {
		return nil, ErrInvalidMaxReleases
	}
	if clone.ReleaseAuthority == ([20]byte{}) {
		return nil, ErrInvalidReleaseAuthority
	}
	if clone.TotalReleased > clone.TotalFunded {
		return nil, ErrInsufficientFunds
	}
	if clone.ReleaseCount > clone.MaxReleases {
		return nil, ErrMaxReleasesReached
	}
	return clone, nil
}
