package escrow

import (
	"fmt"

	"payvault/native/common"
	"payvault/native/fees"
)

func (e *Engine) loadPool(id [32]byte) (*PoolEscrow, error) {
	pool, ok, err := e.state.PoolGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || pool == nil {
		return nil, ErrNotFound
	}
	return SanitizePool(pool)
}

func (p *PoolEscrow) definitionEquals(other *PoolEscrow) bool {
	if p == nil || other == nil {
		return false
	}
	return p.Payer == other.Payer && p.Token == other.Token &&
		p.PaymentPerRelease == other.PaymentPerRelease &&
		p.MaxReleases == other.MaxReleases && p.FeeBps == other.FeeBps &&
		p.ReleaseAuthority == other.ReleaseAuthority &&
		p.Deadline == other.Deadline
}

// CreatePool opens a pool escrow sized for maxReleases payments of
// paymentPerRelease each. The total budget, fee included, is computed and
// frozen into the record at creation.
func (e *Engine) CreatePool(payer [20]byte, sequence uint64, token string, paymentPerRelease, maxReleases uint64, feeBps uint32, releaseAuthority [20]byte, deadline int64) (*PoolEscrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.platform, moduleName); err != nil {
		return nil, err
	}
	token, err := NormalizeAsset(token)
	if err != nil {
		return nil, err
	}
	now := e.now()
	budget, err := fees.PoolBudget(paymentPerRelease, maxReleases, feeBps)
	if err != nil {
		return nil, err
	}
	id := PoolID(payer, sequence)
	pool := &PoolEscrow{
		ID:                id,
		Payer:             payer,
		Token:             token,
		Vault:             PoolVaultAddress(id),
		PaymentPerRelease: paymentPerRelease,
		MaxReleases:       maxReleases,
		TotalFunded:       budget,
		FeeBps:            feeBps,
		ReleaseAuthority:  releaseAuthority,
		Status:            PoolCreated,
		CreatedAt:         now,
		Deadline:          deadline,
	}
	// Replay of an existing definition resolves before validation, as in
	// Create, so an elapsed deadline does not break the idempotent path.
	if existing, ok, err := e.state.PoolGet(id); err != nil {
		return nil, err
	} else if ok && existing != nil {
		if existing.definitionEquals(pool) {
			return existing.Clone(), nil
		}
		return nil, ErrAlreadyExists
	}
	if paymentPerRelease < MinEscrowAmount {
		return nil, ErrAmountTooSmall
	}
	if maxReleases == 0 || maxReleases > MaxPoolReleases {
		return nil, ErrInvalidMaxReleases
	}
	if feeBps > fees.BpsDenominator {
		return nil, fees.ErrInvalidPercentage
	}
	if releaseAuthority == ([20]byte{}) {
		return nil, ErrInvalidReleaseAuthority
	}
	if err := validateDeadline(now, deadline); err != nil {
		return nil, err
	}
	if err := e.state.PoolPut(pool); err != nil {
		return nil, err
	}
	e.emit(poolCreated(pool))
	return pool.Clone(), nil
}

// FundPool moves the full pool budget from the payer into the pool vault.
func (e *Engine) FundPool(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return err
	}
	if caller != pool.Payer {
		return ErrUnauthorized
	}
	if pool.Status != PoolCreated {
		return fmt.Errorf("%w: fund pool from %s", ErrInvalidStatus, pool.Status)
	}
	led := newLedger(e.state)
	if err := led.move(pool.Payer, pool.Vault, pool.Token, pool.TotalFunded); err != nil {
		return err
	}
	if err := led.commit(); err != nil {
		return err
	}
	pool.Status = PoolFunded
	pool.FundedAt = e.now()
	if err := e.state.PoolPut(pool); err != nil {
		return err
	}
	e.emit(poolFunded(pool))
	return nil
}

// PartialRelease pays one metered instalment: paymentPerRelease to the worker
// destination and the per-release fee to the treasury destination. Releases
// are allowed up to and including the deadline instant.
func (e *Engine) PartialRelease(id [32]byte, caller [20]byte, worker, treasury Destination) error {
	if err := e.ready(); err != nil {
		return err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return err
	}
	if caller != pool.ReleaseAuthority {
		return ErrUnauthorized
	}
	if pool.Status != PoolFunded && pool.Status != PoolActive {
		return fmt.Errorf("%w: release from %s", ErrInvalidStatus, pool.Status)
	}
	if pool.Deadline != 0 && e.now() > pool.Deadline {
		return ErrDeadlinePassed
	}
	if pool.ReleaseCount >= pool.MaxReleases {
		return ErrMaxReleasesReached
	}
	releaseTotal, err := fees.ReleaseTotal(pool.PaymentPerRelease, pool.FeeBps)
	if err != nil {
		return err
	}
	if pool.Remaining() < releaseTotal {
		return fmt.Errorf("%w: pool holds %d of %d", ErrInsufficientFunds, pool.Remaining(), releaseTotal)
	}
	if err := e.validatePoolDestinations(pool, worker, treasury); err != nil {
		return err
	}
	fee := releaseTotal - pool.PaymentPerRelease
	led := newLedger(e.state)
	if err := led.move(pool.Vault, treasury.Account, pool.Token, fee); err != nil {
		return err
	}
	if err := led.move(pool.Vault, worker.Account, pool.Token, pool.PaymentPerRelease); err != nil {
		return err
	}
	if err := led.commit(); err != nil {
		return err
	}
	released, err := fees.Add(pool.TotalReleased, releaseTotal)
	if err != nil {
		return err
	}
	pool.TotalReleased = released
	pool.ReleaseCount++
	pool.Status = PoolActive
	if err := e.state.PoolPut(pool); err != nil {
		return err
	}
	e.emit(poolReleased(pool, worker.Owner, releaseTotal))
	return nil
}

// ClosePool returns the unreleased remainder to the payer and seals the pool.
func (e *Engine) ClosePool(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return err
	}
	if caller != pool.Payer {
		return ErrUnauthorized
	}
	if pool.Status != PoolFunded && pool.Status != PoolActive {
		return fmt.Errorf("%w: close pool from %s", ErrInvalidStatus, pool.Status)
	}
	remainder := pool.Remaining()
	led := newLedger(e.state)
	if err := led.move(pool.Vault, pool.Payer, pool.Token, remainder); err != nil {
		return err
	}
	if err := led.commit(); err != nil {
		return err
	}
	pool.Status = PoolClosed
	pool.ClosedAt = e.now()
	if err := e.state.PoolPut(pool); err != nil {
		return err
	}
	e.emit(poolClosed(pool, remainder))
	return nil
}

// RemovePool reclaims the record of a closed pool whose vault is empty. A
// pool that was created but never funded may also be removed.
func (e *Engine) RemovePool(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return err
	}
	if caller != pool.Payer {
		return ErrUnauthorized
	}
	if pool.Status != PoolClosed && pool.Status != PoolCreated {
		return fmt.Errorf("%w: remove pool from %s", ErrInvalidStatus, pool.Status)
	}
	if err := e.requireEmptyVault(pool.Vault, pool.Token); err != nil {
		return err
	}
	return e.state.PoolRemove(pool.ID)
}

// GetPool returns a copy of the stored pool record.
func (e *Engine) GetPool(id [32]byte) (*PoolEscrow, error) {
	if e.state == nil {
		return nil, errNilState
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

func (e *Engine) validatePoolDestinations(pool *PoolEscrow, worker, treasury Destination) error {
	if worker.Account == treasury.Account || worker.Account == pool.Vault || treasury.Account == pool.Vault {
		return ErrDuplicateAccounts
	}
	for _, dest := range []Destination{worker, treasury} {
		token, err := NormalizeAsset(dest.Token)
		if err != nil {
			return err
		}
		if token != pool.Token {
			return ErrInvalidAsset
		}
	}
	platformTreasury, err := e.treasury()
	if err != nil {
		return err
	}
	if treasury.Owner != platformTreasury {
		return ErrInvalidTreasury
	}
	return nil
}
