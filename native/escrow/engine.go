package escrow

import (
	"errors"
	"fmt"
	"time"

	"payvault/core/events"
	"payvault/core/types"
	"payvault/native/common"
	"payvault/native/fees"
)

const moduleName = "escrow"

var (
	errNilState    = errors.New("escrow: state not configured")
	errNilPlatform = errors.New("escrow: platform not configured")
)

// engineState is the persistence surface the engine drives. Implementations
// are expected to return (nil, false, nil) style results for missing records
// rather than errors.
type engineState interface {
	EscrowPut(esc *Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool, error)
	EscrowRemove(id [32]byte) error
	PoolPut(pool *PoolEscrow) error
	PoolGet(id [32]byte) (*PoolEscrow, bool, error)
	PoolRemove(id [32]byte) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// PlatformView exposes the governance parameters the engine consults. The
// platform engine satisfies it directly.
type PlatformView interface {
	common.PauseView
	Admin() [20]byte
	Treasury() [20]byte
	CategoryRate(category string) uint32
}

// Engine executes escrow operations against the configured state.
type Engine struct {
	state    engineState
	platform PlatformView
	emitter  events.Emitter
	nowFn    func() int64
}

func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState wires the persistence backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPlatform wires the governance view consulted for admin, treasury and
// fee-rate lookups.
func (e *Engine) SetPlatform(p PlatformView) { e.platform = p }

// SetEmitter configures the sink used for emitted events. Passing nil resets
// the engine to a no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the engine's clock. Primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) { e.nowFn = now }

func (e *Engine) now() int64 {
	if e.nowFn != nil {
		return e.nowFn()
	}
	return time.Now().Unix()
}

func (e *Engine) emit(evt events.Event) {
	if evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e.state == nil {
		return errNilState
	}
	if e.platform == nil {
		return errNilPlatform
	}
	return nil
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	esc, ok, err := e.state.EscrowGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || esc == nil {
		return nil, ErrNotFound
	}
	return SanitizeEscrow(esc)
}

func (e *Engine) treasury() ([20]byte, error) {
	addr := e.platform.Treasury()
	if addr == ([20]byte{}) {
		return [20]byte{}, ErrInvalidTreasury
	}
	return addr, nil
}

func (e *Engine) requireAdmin(caller [20]byte) error {
	admin := e.platform.Admin()
	if admin == ([20]byte{}) || caller != admin {
		return ErrUnauthorized
	}
	return nil
}

func validateDeadline(now, deadline int64) error {
	if deadline == 0 {
		return nil
	}
	if deadline <= now {
		return ErrDeadlineInPast
	}
	if deadline-now > MaxEscrowDuration {
		return ErrDeadlineTooFar
	}
	return nil
}

// Create opens a split-mode escrow identified by the payer address and a
// caller-chosen sequence number. Creating the same definition twice returns
// the stored record; diverging definitions under the same identifier fail.
func (e *Engine) Create(payer [20]byte, sequence uint64, token string, totalAmount uint64, splits []fees.Split, deadline int64) (*Escrow, error) {
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
	id := EscrowID(payer, sequence)
	esc := &Escrow{
		ID:          id,
		Payer:       payer,
		Token:       token,
		Vault:       VaultAddress(id),
		TotalAmount: totalAmount,
		Splits:      cloneSplits(splits),
		Status:      EscrowCreated,
		CreatedAt:   now,
		Deadline:    deadline,
		Version:     VersionSplit,
	}
	// Replay of an existing definition resolves before validation so that a
	// deadline elapsing between the original create and the replay does not
	// turn the idempotent path into an error.
	if existing, ok, err := e.state.EscrowGet(id); err != nil {
		return nil, err
	} else if ok && existing != nil {
		if existing.definitionEquals(esc) {
			return existing.Clone(), nil
		}
		return nil, ErrAlreadyExists
	}
	if totalAmount < MinEscrowAmount {
		return nil, ErrAmountTooSmall
	}
	if err := validateDeadline(now, deadline); err != nil {
		return nil, err
	}
	if err := fees.ValidateSplits(splits); err != nil {
		return nil, err
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	e.emit(escrowCreated(esc))
	return esc.Clone(), nil
}

// CreateFixedFee opens a two-party escrow where the platform fee is derived
// from the recipient's category rate at creation time and frozen into the
// record.
func (e *Engine) CreateFixedFee(payer [20]byte, sequence uint64, token string, workerAmount uint64, recipient [20]byte, category string, deadline int64) (*Escrow, error) {
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
	rate := e.platform.CategoryRate(category)
	fee, total, err := fees.FixedFeeTotal(workerAmount, rate)
	if err != nil {
		return nil, err
	}
	id := EscrowID(payer, sequence)
	esc := &Escrow{
		ID:           id,
		Payer:        payer,
		Token:        token,
		Vault:        VaultAddress(id),
		TotalAmount:  total,
		Recipient:    recipient,
		WorkerAmount: workerAmount,
		FeeAmount:    fee,
		FeeBps:       rate,
		Category:     category,
		Status:       EscrowCreated,
		CreatedAt:    now,
		Deadline:     deadline,
		Version:      VersionFixedFee,
	}
	if existing, ok, err := e.state.EscrowGet(id); err != nil {
		return nil, err
	} else if ok && existing != nil {
		if existing.definitionEquals(esc) {
			return existing.Clone(), nil
		}
		return nil, ErrAlreadyExists
	}
	if workerAmount < MinEscrowAmount {
		return nil, ErrAmountTooSmall
	}
	// The vault address is derivable before the record exists, so a recipient
	// aliasing it would make the release pay the vault from itself.
	if recipient == ([20]byte{}) || recipient == esc.Vault {
		return nil, ErrInvalidRecipient
	}
	if err := validateDeadline(now, deadline); err != nil {
		return nil, err
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	e.emit(escrowCreated(esc))
	return esc.Clone(), nil
}

// Fund moves the escrow total from the payer into the vault.
func (e *Engine) Fund(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Payer {
		return ErrUnauthorized
	}
	if esc.Status != EscrowCreated {
		return fmt.Errorf("%w: fund from %s", ErrInvalidStatus, esc.Status)
	}
	led := newLedger(e.state)
	if err := led.move(esc.Payer, esc.Vault, esc.Token, esc.TotalAmount); err != nil {
		return err
	}
	if err := led.commit(); err != nil {
		return err
	}
	esc.Status = EscrowFunded
	esc.FundedAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(escrowFunded(esc))
	return nil
}

// Approve records the payer's consent to settle ahead of any deadline.
func (e *Engine) Approve(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Payer {
		return ErrUnauthorized
	}
	if esc.Status != EscrowFunded {
		return fmt.Errorf("%w: approve from %s", ErrInvalidStatus, esc.Status)
	}
	esc.Status = EscrowApproved
	esc.ApprovedAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(escrowApproved(esc))
	return nil
}

// Settle distributes a funded split-mode escrow across the supplied
// destinations, one per configured split and in the same order.
func (e *Engine) Settle(id [32]byte, caller [20]byte, dests []Destination) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if !esc.SplitMode() {
		return fmt.Errorf("%w: fixed-fee escrow settles via release", ErrInvalidStatus)
	}
	if caller != esc.Payer {
		return ErrUnauthorized
	}
	if esc.Status != EscrowFunded && esc.Status != EscrowApproved {
		return fmt.Errorf("%w: settle from %s", ErrInvalidStatus, esc.Status)
	}
	amounts, err := fees.Distribute(esc.TotalAmount, esc.Splits)
	if err != nil {
		return err
	}
	if err := validateDestinations(esc, dests); err != nil {
		return err
	}
	led := newLedger(e.state)
	held, err := led.balance(esc.Vault, esc.Token)
	if err != nil {
		return err
	}
	if held < esc.TotalAmount {
		return fmt.Errorf("%w: vault holds %d of %d", ErrInsufficientFunds, held, esc.TotalAmount)
	}
	for i, amount := range amounts {
		if err := led.move(esc.Vault, dests[i].Account, esc.Token, amount); err != nil {
			return err
		}
	}
	if err := led.commit(); err != nil {
		return err
	}
	esc.Status = EscrowSettled
	esc.SettledAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(escrowSettled(esc, amounts))
	return nil
}

// Release settles a fixed-fee escrow: the frozen fee goes to the treasury and
// the worker amount to the recipient.
func (e *Engine) Release(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.SplitMode() {
		return fmt.Errorf("%w: split escrow settles via settle", ErrInvalidStatus)
	}
	if caller != esc.Payer {
		return ErrUnauthorized
	}
	if esc.Status != EscrowFunded && esc.Status != EscrowApproved {
		return fmt.Errorf("%w: release from %s", ErrInvalidStatus, esc.Status)
	}
	treasury, err := e.treasury()
	if err != nil {
		return err
	}
	led := newLedger(e.state)
	held, err := led.balance(esc.Vault, esc.Token)
	if err != nil {
		return err
	}
	if held < esc.TotalAmount {
		return fmt.Errorf("%w: vault holds %d of %d", ErrInsufficientFunds, held, esc.TotalAmount)
	}
	if err := led.move(esc.Vault, treasury, esc.Token, esc.FeeAmount); err != nil {
		return err
	}
	if err := led.move(esc.Vault, esc.Recipient, esc.Token, esc.WorkerAmount); err != nil {
		return err
	}
	if err := led.commit(); err != nil {
		return err
	}
	esc.Status = EscrowReleased
	esc.SettledAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(escrowReleased(esc))
	return nil
}

// Refund returns the full vault balance to the payer once the deadline has
// strictly passed. Escrows without a deadline cannot be refunded this way.
func (e *Engine) Refund(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Payer {
		return ErrUnauthorized
	}
	if esc.Status != EscrowFunded && esc.Status != EscrowApproved {
		return fmt.Errorf("%w: refund from %s", ErrInvalidStatus, esc.Status)
	}
	if esc.Deadline == 0 {
		return ErrNoDeadline
	}
	if e.now() <= esc.Deadline {
		return ErrDeadlineNotPassed
	}
	led := newLedger(e.state)
	held, err := led.balance(esc.Vault, esc.Token)
	if err != nil {
		return err
	}
	if held < esc.TotalAmount {
		return fmt.Errorf("%w: vault holds %d of %d", ErrInsufficientFunds, held, esc.TotalAmount)
	}
	if err := led.move(esc.Vault, esc.Payer, esc.Token, esc.TotalAmount); err != nil {
		return err
	}
	if err := led.commit(); err != nil {
		return err
	}
	esc.Status = EscrowRefunded
	esc.RefundedAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(escrowRefunded(esc))
	return nil
}

// Cancel removes an escrow that was never funded.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Payer {
		return ErrUnauthorized
	}
	if esc.Status != EscrowCreated {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidStatus, esc.Status)
	}
	if err := e.requireEmptyVault(esc.Vault, esc.Token); err != nil {
		return err
	}
	if err := e.state.EscrowRemove(esc.ID); err != nil {
		return err
	}
	e.emit(escrowCancelled(esc))
	return nil
}

// Close removes a settled, released or refunded escrow whose vault is empty.
func (e *Engine) Close(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Payer {
		return ErrUnauthorized
	}
	if !esc.Status.Terminal() {
		return fmt.Errorf("%w: close from %s", ErrInvalidStatus, esc.Status)
	}
	if err := e.requireEmptyVault(esc.Vault, esc.Token); err != nil {
		return err
	}
	if err := e.state.EscrowRemove(esc.ID); err != nil {
		return err
	}
	e.emit(escrowClosed(esc))
	return nil
}

// Freeze halts a funded escrow pending an administrative resolution. Any
// party to the escrow, or the platform admin, may raise the dispute.
func (e *Engine) Freeze(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if !e.isParty(esc, caller) {
		return ErrUnauthorized
	}
	if esc.Status != EscrowFunded && esc.Status != EscrowApproved {
		return fmt.Errorf("%w: freeze from %s", ErrInvalidStatus, esc.Status)
	}
	esc.Status = EscrowFrozen
	esc.FrozenAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(escrowFrozen(esc, caller))
	return nil
}

// AdminRefund resolves a frozen escrow by returning the full amount,
// platform fee included, to the payer.
func (e *Engine) AdminRefund(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != EscrowFrozen {
		return fmt.Errorf("%w: admin refund from %s", ErrInvalidStatus, esc.Status)
	}
	if !esc.Funded() {
		return ErrNotFunded
	}
	led := newLedger(e.state)
	if err := led.move(esc.Vault, esc.Payer, esc.Token, esc.TotalAmount); err != nil {
		return err
	}
	if err := led.commit(); err != nil {
		return err
	}
	esc.Status = EscrowRefunded
	esc.RefundedAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(escrowResolved(esc, caller, "refund"))
	return nil
}

// AdminSettle resolves a frozen split-mode escrow along an admin-supplied
// split set, which replaces the configured splits for this settlement only.
func (e *Engine) AdminSettle(id [32]byte, caller [20]byte, splits []fees.Split, dests []Destination) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if !esc.SplitMode() {
		return fmt.Errorf("%w: fixed-fee escrow resolves via admin split", ErrInvalidStatus)
	}
	if esc.Status != EscrowFrozen {
		return fmt.Errorf("%w: admin settle from %s", ErrInvalidStatus, esc.Status)
	}
	if !esc.Funded() {
		return ErrNotFunded
	}
	if err := fees.ValidateSplits(splits); err != nil {
		return err
	}
	amounts, err := fees.Distribute(esc.TotalAmount, splits)
	if err != nil {
		return err
	}
	if err := validateDestinationsFor(esc, splits, dests); err != nil {
		return err
	}
	led := newLedger(e.state)
	for i, amount := range amounts {
		if err := led.move(esc.Vault, dests[i].Account, esc.Token, amount); err != nil {
			return err
		}
	}
	if err := led.commit(); err != nil {
		return err
	}
	esc.Status = EscrowSettled
	esc.SettledAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(escrowResolved(esc, caller, "settle"))
	return nil
}

// AdminSplit resolves a frozen fixed-fee escrow by dividing the worker amount
// between recipient and payer at workerBps. The platform fee stays with the
// treasury regardless of the division.
func (e *Engine) AdminSplit(id [32]byte, caller [20]byte, workerBps uint32) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.SplitMode() {
		return fmt.Errorf("%w: split escrow resolves via admin settle", ErrInvalidStatus)
	}
	if esc.Status != EscrowFrozen {
		return fmt.Errorf("%w: admin split from %s", ErrInvalidStatus, esc.Status)
	}
	if !esc.Funded() {
		return ErrNotFunded
	}
	treasury, err := e.treasury()
	if err != nil {
		return err
	}
	workerShare, payerShare, err := fees.SplitPair(esc.WorkerAmount, workerBps)
	if err != nil {
		return err
	}
	led := newLedger(e.state)
	if err := led.move(esc.Vault, treasury, esc.Token, esc.FeeAmount); err != nil {
		return err
	}
	if err := led.move(esc.Vault, esc.Recipient, esc.Token, workerShare); err != nil {
		return err
	}
	if err := led.move(esc.Vault, esc.Payer, esc.Token, payerShare); err != nil {
		return err
	}
	if err := led.commit(); err != nil {
		return err
	}
	esc.Status = EscrowReleased
	esc.SettledAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(escrowResolved(esc, caller, "split"))
	return nil
}

// Get returns a copy of the stored escrow record.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	if e.state == nil {
		return nil, errNilState
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

func (e *Engine) isParty(esc *Escrow, caller [20]byte) bool {
	if caller == esc.Payer || esc.RecipientOf(caller) {
		return true
	}
	admin := e.platform.Admin()
	return admin != ([20]byte{}) && caller == admin
}

func (e *Engine) requireEmptyVault(vault [20]byte, token string) error {
	acc, err := e.state.GetAccount(vault)
	if err != nil {
		return err
	}
	if acc != nil && acc.Balance(token) != 0 {
		return ErrVaultNotEmpty
	}
	return nil
}

func validateDestinations(esc *Escrow, dests []Destination) error {
	return validateDestinationsFor(esc, esc.Splits, dests)
}

func validateDestinationsFor(esc *Escrow, splits []fees.Split, dests []Destination) error {
	if len(dests) != len(splits) {
		return fmt.Errorf("%w: got %d destinations for %d splits", ErrInvalidRemainingAccounts, len(dests), len(splits))
	}
	seen := make(map[[20]byte]struct{}, len(dests))
	for i, dest := range dests {
		if dest.Account == esc.Vault {
			return ErrDuplicateAccounts
		}
		if _, dup := seen[dest.Account]; dup {
			return ErrDuplicateAccounts
		}
		seen[dest.Account] = struct{}{}
		if dest.Owner != splits[i].Recipient {
			return ErrInvalidRecipient
		}
		token, err := NormalizeAsset(dest.Token)
		if err != nil {
			return err
		}
		if token != esc.Token {
			return ErrInvalidAsset
		}
	}
	return nil
}

func cloneSplits(splits []fees.Split) []fees.Split {
	if len(splits) == 0 {
		return nil
	}
	out := make([]fees.Split, len(splits))
	copy(out, splits)
	return out
}
