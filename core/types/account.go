package types

// Account holds the per-asset balances for a single address. Amounts are
// expressed in the asset's base units; every mutation must go through checked
// arithmetic so a balance can never silently wrap.
type Account struct {
	Nonce    uint64            `json:"nonce"`
	Balances map[string]uint64 `json:"balances"`
}

// NewAccount returns an empty account with an allocated balance table.
func NewAccount() *Account {
	return &Account{Balances: make(map[string]uint64)}
}

// Balance returns the held amount for the supplied asset symbol.
func (a *Account) Balance(asset string) uint64 {
	if a == nil || a.Balances == nil {
		return 0
	}
	return a.Balances[asset]
}

// SetBalance records the held amount for the supplied asset symbol.
func (a *Account) SetBalance(asset string, amount uint64) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]uint64)
	}
	if amount == 0 {
		delete(a.Balances, asset)
		return
	}
	a.Balances[asset] = amount
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Nonce: a.Nonce, Balances: make(map[string]uint64, len(a.Balances))}
	for asset, amount := range a.Balances {
		clone.Balances[asset] = amount
	}
	return clone
}
