package escrow

import (
	"fmt"

	"payvault/core/types"
	"payvault/native/fees"
)

// ledger stages balance movements for a single operation and commits them
// only after every transfer has been applied in memory. An operation that
// fails mid-validation therefore never leaves a partially transferred state
// behind.
type ledger struct {
	state    engineState
	accounts map[[20]byte]*types.Account
	order    [][20]byte
}

func newLedger(state engineState) *ledger {
	return &ledger{state: state, accounts: make(map[[20]byte]*types.Account)}
}

func (l *ledger) account(addr [20]byte) (*types.Account, error) {
	if acc, ok := l.accounts[addr]; ok {
		return acc, nil
	}
	acc, err := l.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = types.NewAccount()
	} else {
		acc = acc.Clone()
	}
	l.accounts[addr] = acc
	l.order = append(l.order, addr)
	return acc, nil
}

func (l *ledger) balance(addr [20]byte, token string) (uint64, error) {
	acc, err := l.account(addr)
	if err != nil {
		return 0, err
	}
	return acc.Balance(token), nil
}

// move debits from and credits to by amount, with checked arithmetic on both
// legs. Zero amounts are a no-op. Both legs share the cached account clone,
// so a self-transfer would credit without the debit sticking; it is rejected
// outright since no settlement path legitimately pays an account from itself.
func (l *ledger) move(from, to [20]byte, token string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if from == to {
		return fmt.Errorf("%w: transfer from account to itself", ErrDuplicateAccounts)
	}
	fromAcc, err := l.account(from)
	if err != nil {
		return err
	}
	toAcc, err := l.account(to)
	if err != nil {
		return err
	}
	held := fromAcc.Balance(token)
	if held < amount {
		return fmt.Errorf("%w: %s balance %d below %d", ErrInsufficientFunds, token, held, amount)
	}
	credited, err := fees.Add(toAcc.Balance(token), amount)
	if err != nil {
		return err
	}
	fromAcc.SetBalance(token, held-amount)
	toAcc.SetBalance(token, credited)
	return nil
}

// commit persists every touched account in the order it was first loaded.
func (l *ledger) commit() error {
	for _, addr := range l.order {
		if err := l.state.PutAccount(addr, l.accounts[addr]); err != nil {
			return err
		}
	}
	return nil
}
