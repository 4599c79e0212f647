package fees

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

const (
	// BpsDenominator is the denominator for every basis-point quantity.
	BpsDenominator uint32 = 10_000
	// MaxSplits bounds the number of recipients in a split set.
	MaxSplits = 8
)

var (
	// ErrOverflow marks arithmetic whose result does not fit the ledger's
	// 64-bit amount width.
	ErrOverflow = errors.New("fees: arithmetic overflow")
	// ErrInvalidSplits marks a malformed split set.
	ErrInvalidSplits = errors.New("fees: invalid splits")
	// ErrInvalidPercentage marks a basis-point value above the denominator.
	ErrInvalidPercentage = errors.New("fees: percentage out of range")
)

// Split describes a fractional entitlement to an escrow total: the recipient
// address and its weight in basis points.
type Split struct {
	Recipient [20]byte
	Bps       uint32
}

// Fee computes floor(amount × rateBps / 10000) using a 256-bit intermediate
// product so the multiplication can never wrap. ErrOverflow is returned when
// the narrowed result does not fit uint64.
func Fee(amount uint64, rateBps uint32) (uint64, error) {
	product := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(uint64(rateBps)))
	product.Div(product, uint256.NewInt(uint64(BpsDenominator)))
	if !product.IsUint64() {
		return 0, ErrOverflow
	}
	return product.Uint64(), nil
}

// Add returns a+b with overflow checking.
func Add(a, b uint64) (uint64, error) {
	if b > math.MaxUint64-a {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Mul returns a×b with overflow checking.
func Mul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxUint64/b {
		return 0, ErrOverflow
	}
	return a * b, nil
}

// ValidateSplits rejects split sets unless 1..MaxSplits entries, all
// recipients distinct and non-zero, every weight at most the denominator, and
// the weights summing to exactly the denominator.
func ValidateSplits(splits []Split) error {
	if len(splits) == 0 || len(splits) > MaxSplits {
		return ErrInvalidSplits
	}
	var sum uint64
	seen := make(map[[20]byte]struct{}, len(splits))
	for _, split := range splits {
		if split.Recipient == ([20]byte{}) {
			return ErrInvalidSplits
		}
		if split.Bps > BpsDenominator {
			return ErrInvalidSplits
		}
		if _, dup := seen[split.Recipient]; dup {
			return ErrInvalidSplits
		}
		seen[split.Recipient] = struct{}{}
		sum += uint64(split.Bps)
	}
	if sum != uint64(BpsDenominator) {
		return ErrInvalidSplits
	}
	return nil
}

// Distribute allocates total across the split set. Every split but the last
// receives floor(total × bps / 10000); the last receives the untouched
// remainder, which guarantees the amounts sum to total exactly. The rounding
// remainder therefore always lands on the final recipient.
func Distribute(total uint64, splits []Split) ([]uint64, error) {
	if err := ValidateSplits(splits); err != nil {
		return nil, err
	}
	amounts := make([]uint64, len(splits))
	var allocated uint64
	for i := 0; i < len(splits)-1; i++ {
		amount, err := Fee(total, splits[i].Bps)
		if err != nil {
			return nil, err
		}
		allocated, err = Add(allocated, amount)
		if err != nil {
			return nil, err
		}
		amounts[i] = amount
	}
	if allocated > total {
		return nil, ErrOverflow
	}
	amounts[len(splits)-1] = total - allocated
	var sum uint64
	for _, amount := range amounts {
		next, err := Add(sum, amount)
		if err != nil {
			return nil, err
		}
		sum = next
	}
	if sum != total {
		return nil, ErrOverflow
	}
	return amounts, nil
}

// SplitPair divides amount between two parties by basis points: the first
// share is floor(amount × bps / 10000), the second is the remainder. Used by
// administrative dispute division of a worker-side amount.
func SplitPair(amount uint64, bps uint32) (uint64, uint64, error) {
	if bps > BpsDenominator {
		return 0, 0, ErrInvalidPercentage
	}
	first, err := Fee(amount, bps)
	if err != nil {
		return 0, 0, err
	}
	return first, amount - first, nil
}

// FixedFeeTotal computes the platform fee on a worker amount and the total an
// escrow in fixed-fee mode must be funded with.
func FixedFeeTotal(workerAmount uint64, rateBps uint32) (fee uint64, total uint64, err error) {
	if rateBps > BpsDenominator {
		return 0, 0, ErrInvalidPercentage
	}
	fee, err = Fee(workerAmount, rateBps)
	if err != nil {
		return 0, 0, err
	}
	total, err = Add(workerAmount, fee)
	if err != nil {
		return 0, 0, err
	}
	return fee, total, nil
}

// PoolBudget computes the total funding a pool escrow requires:
// paymentPerRelease × maxReleases plus the platform fee on that product.
func PoolBudget(paymentPerRelease, maxReleases uint64, feeBps uint32) (uint64, error) {
	budget, err := Mul(paymentPerRelease, maxReleases)
	if err != nil {
		return 0, err
	}
	fee, err := Fee(budget, feeBps)
	if err != nil {
		return 0, err
	}
	return Add(budget, fee)
}

// ReleaseTotal computes the amount a single metered release draws from a pool
// vault: the worker payment plus the platform fee on it.
func ReleaseTotal(paymentPerRelease uint64, feeBps uint32) (uint64, error) {
	fee, err := Fee(paymentPerRelease, feeBps)
	if err != nil {
		return 0, err
	}
	return Add(paymentPerRelease, fee)
}
