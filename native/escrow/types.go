package escrow

import (
	"fmt"
	"strings"

	"payvault/native/fees"
)

const (
	// MinEscrowAmount is the smallest amount (in asset base units) an escrow
	// or a single pool release may carry.
	MinEscrowAmount uint64 = 1_000_000
	// MaxEscrowDuration bounds how far in the future a deadline may sit.
	MaxEscrowDuration int64 = 365 * 24 * 60 * 60
	// MaxPoolReleases bounds the metered release count of a pool escrow.
	MaxPoolReleases uint64 = 10_000
)

// EscrowStatus represents the lifecycle states of a single escrow record.
// Status only ever advances forward.
type EscrowStatus uint8

const (
	EscrowCreated EscrowStatus = iota
	EscrowFunded
	EscrowApproved
	EscrowSettled
	EscrowReleased
	EscrowRefunded
	EscrowFrozen
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	return s <= EscrowFrozen
}

// Terminal reports whether the record has reached a final payout state and
// may be reclaimed once its vault is empty.
func (s EscrowStatus) Terminal() bool {
	switch s {
	case EscrowSettled, EscrowReleased, EscrowRefunded:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer for diagnostics and event payloads.
func (s EscrowStatus) String() string {
	switch s {
	case EscrowCreated:
		return "created"
	case EscrowFunded:
		return "funded"
	case EscrowApproved:
		return "approved"
	case EscrowSettled:
		return "settled"
	case EscrowReleased:
		return "released"
	case EscrowRefunded:
		return "refunded"
	case EscrowFrozen:
		return "frozen"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Settlement mode versions. Version 1 records settle a fixed worker amount
// plus a category fee to a single recipient; version 2 records settle an
// N-way basis-point split.
const (
	VersionFixedFee uint8 = 1
	VersionSplit    uint8 = 2
)

// Escrow captures the immutable definition and runtime status of a single
// escrow record. The identifier and vault address derive deterministically
// from the payer and the caller-supplied sequence number. Mode-specific
// fields are tagged by Version: Splits/TotalAmount for split mode,
// Recipient/WorkerAmount/FeeAmount/FeeBps/Category for fixed-fee mode (where
// TotalAmount = WorkerAmount + FeeAmount, fixed at creation).
type Escrow struct {
	ID          [32]byte
	Payer       [20]byte
	Token       string
	Vault       [20]byte
	TotalAmount uint64

	Splits []fees.Split

	Recipient    [20]byte
	WorkerAmount uint64
	FeeAmount    uint64
	FeeBps       uint32
	Category     string

	Status     EscrowStatus
	CreatedAt  int64
	FundedAt   int64
	ApprovedAt int64
	SettledAt  int64
	RefundedAt int64
	FrozenAt   int64
	Deadline   int64
	Version    uint8
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if len(e.Splits) > 0 {
		clone.Splits = make([]fees.Split, len(e.Splits))
		copy(clone.Splits, e.Splits)
	}
	return &clone
}

// SplitMode reports whether the record settles via an N-way split set.
func (e *Escrow) SplitMode() bool {
	return e != nil && e.Version == VersionSplit
}

// Funded reports whether the record has ever held funds.
func (e *Escrow) Funded() bool {
	return e != nil && e.FundedAt != 0
}

// RecipientOf reports whether the supplied address is entitled to a share of
// the record: any split recipient in split mode, the single recipient in
// fixed-fee mode.
func (e *Escrow) RecipientOf(addr [20]byte) bool {
	if e == nil {
		return false
	}
	if e.SplitMode() {
		for _, split := range e.Splits {
			if split.Recipient == addr {
				return true
			}
		}
		return false
	}
	return e.Recipient == addr
}

// definitionEquals compares the immutable creation-time fields of two
// records. Used for idempotent create.
func (e *Escrow) definitionEquals(other *Escrow) bool {
	if e == nil || other == nil {
		return false
	}
	if e.Payer != other.Payer || e.Token != other.Token || e.Version != other.Version ||
		e.TotalAmount != other.TotalAmount || e.Deadline != other.Deadline {
		return false
	}
	if e.SplitMode() {
		if len(e.Splits) != len(other.Splits) {
			return false
		}
		for i := range e.Splits {
			if e.Splits[i] != other.Splits[i] {
				return false
			}
		}
		return true
	}
	return e.Recipient == other.Recipient && e.WorkerAmount == other.WorkerAmount &&
		e.FeeAmount == other.FeeAmount && e.FeeBps == other.FeeBps &&
		e.Category == other.Category
}

// NormalizeAsset canonicalises an asset symbol: trimmed, uppercase, non-empty.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty asset symbol", ErrInvalidAsset)
	}
	return trimmed, nil
}

// SanitizeEscrow validates and normalises the supplied record, returning a
// cloned instance with canonical asset casing. The original is not mutated.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil escrow", ErrNotFound)
	}
	clone := e.Clone()
	token, err := NormalizeAsset(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidStatus, clone.Status)
	}
	switch clone.Version {
	case VersionSplit:
		if err := fees.ValidateSplits(clone.Splits); err != nil {
			return nil, err
		}
	case VersionFixedFee:
		if clone.Recipient == ([20]byte{}) {
			return nil, ErrInvalidRecipient
		}
		if clone.FeeBps > fees.BpsDenominator {
			return nil, fees.ErrInvalidPercentage
		}
	default:
		return nil, fmt.Errorf("%w: version %d", ErrInvalidStatus, clone.Version)
	}
	return clone, nil
}

// Destination pairs a payout account with its expected owner, matched
// positionally against a split set during settlement. Account receives the
// funds; Owner must equal the split recipient and Token the escrow asset.
type Destination struct {
	Account [20]byte
	Owner   [20]byte
	Token   string
}
