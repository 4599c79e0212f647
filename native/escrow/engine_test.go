package escrow

import (
	"errors"
	"testing"

	"payvault/core/events"
	"payvault/core/types"
	"payvault/native/fees"
)

type mockState struct {
	escrows  map[[32]byte]*Escrow
	pools    map[[32]byte]*PoolEscrow
	accounts map[[20]byte]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		escrows:  make(map[[32]byte]*Escrow),
		pools:    make(map[[32]byte]*PoolEscrow),
		accounts: make(map[[20]byte]*types.Account),
	}
}

func (m *mockState) EscrowPut(esc *Escrow) error {
	m.escrows[esc.ID] = esc.Clone()
	return nil
}

func (m *mockState) EscrowGet(id [32]byte) (*Escrow, bool, error) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false, nil
	}
	return esc.Clone(), true, nil
}

func (m *mockState) EscrowRemove(id [32]byte) error {
	delete(m.escrows, id)
	return nil
}

func (m *mockState) PoolPut(pool *PoolEscrow) error {
	m.pools[pool.ID] = pool.Clone()
	return nil
}

func (m *mockState) PoolGet(id [32]byte) (*PoolEscrow, bool, error) {
	pool, ok := m.pools[id]
	if !ok {
		return nil, false, nil
	}
	return pool.Clone(), true, nil
}

func (m *mockState) PoolRemove(id [32]byte) error {
	delete(m.pools, id)
	return nil
}

func (m *mockState) GetAccount(addr [20]byte) (*types.Account, error) {
	acc, ok := m.accounts[addr]
	if !ok {
		return nil, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr [20]byte, account *types.Account) error {
	m.accounts[addr] = account.Clone()
	return nil
}

func (m *mockState) setBalance(addr [20]byte, token string, amount uint64) {
	acc := types.NewAccount()
	acc.SetBalance(token, amount)
	m.accounts[addr] = acc
}

func (m *mockState) balance(addr [20]byte, token string) uint64 {
	return m.accounts[addr].Balance(token)
}

type stubPlatform struct {
	admin    [20]byte
	treasury [20]byte
	rate     uint32
	paused   bool
}

func (s *stubPlatform) Admin() [20]byte            { return s.admin }
func (s *stubPlatform) Treasury() [20]byte         { return s.treasury }
func (s *stubPlatform) CategoryRate(string) uint32 { return s.rate }
func (s *stubPlatform) IsPaused(string) bool       { return s.paused }

type recordingEmitter struct {
	types []string
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.types = append(r.types, evt.EventType())
}

func testAddr(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

var (
	payerAddr    = testAddr(0x01)
	workerAddr   = testAddr(0x02)
	referrerAddr = testAddr(0x03)
	adminAddr    = testAddr(0x0a)
	treasuryAddr = testAddr(0x0b)
	strangerAddr = testAddr(0x0c)
)

const testToken = "USDX"

func newTestEngine(t *testing.T) (*Engine, *mockState, *stubPlatform) {
	t.Helper()
	state := newMockState()
	platform := &stubPlatform{admin: adminAddr, treasury: treasuryAddr, rate: 1000}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetPlatform(platform)
	engine.SetNowFunc(func() int64 { return 1_000 })
	return engine, state, platform
}

func twoWaySplits() []fees.Split {
	return []fees.Split{
		{Recipient: workerAddr, Bps: 9000},
		{Recipient: referrerAddr, Bps: 1000},
	}
}

func twoWayDests() []Destination {
	return []Destination{
		{Account: workerAddr, Owner: workerAddr, Token: testToken},
		{Account: referrerAddr, Owner: referrerAddr, Token: testToken},
	}
}

func TestSplitEscrowLifecycle(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	state.setBalance(payerAddr, testToken, 200_000_000)

	esc, err := engine.Create(payerAddr, 1, testToken, 100_000_000, twoWaySplits(), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if esc.Status != EscrowCreated {
		t.Fatalf("status = %s, want created", esc.Status)
	}
	if err := engine.Fund(esc.ID, payerAddr); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if got := state.balance(esc.Vault, testToken); got != 100_000_000 {
		t.Fatalf("vault balance = %d, want 100000000", got)
	}
	if got := state.balance(payerAddr, testToken); got != 100_000_000 {
		t.Fatalf("payer balance = %d, want 100000000", got)
	}
	if err := engine.Settle(esc.ID, payerAddr, twoWayDests()); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := state.balance(workerAddr, testToken); got != 90_000_000 {
		t.Fatalf("worker received %d, want 90000000", got)
	}
	if got := state.balance(referrerAddr, testToken); got != 10_000_000 {
		t.Fatalf("referrer received %d, want 10000000", got)
	}
	if got := state.balance(esc.Vault, testToken); got != 0 {
		t.Fatalf("vault retains %d after settlement", got)
	}
	stored, err := engine.Get(esc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != EscrowSettled {
		t.Fatalf("status = %s, want settled", stored.Status)
	}
	want := []string{EventTypeCreated, EventTypeFunded, EventTypeSettled}
	if len(emitter.types) != len(want) {
		t.Fatalf("emitted %v, want %v", emitter.types, want)
	}
	for i, evt := range want {
		if emitter.types[i] != evt {
			t.Fatalf("event[%d] = %s, want %s", i, emitter.types[i], evt)
		}
	}
}

func TestCreateIdempotent(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	first, err := engine.Create(payerAddr, 7, testToken, 10_000_000, twoWaySplits(), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	again, err := engine.Create(payerAddr, 7, testToken, 10_000_000, twoWaySplits(), 0)
	if err != nil {
		t.Fatalf("replayed create: %v", err)
	}
	if again.ID != first.ID || again.Status != first.Status {
		t.Fatalf("replayed create diverged: %+v vs %+v", again, first)
	}
	if _, err := engine.Create(payerAddr, 7, testToken, 20_000_000, twoWaySplits(), 0); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("conflicting create err = %v, want ErrAlreadyExists", err)
	}
}

func TestCreateIdempotentAfterDeadline(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	now := int64(1_000)
	engine.SetNowFunc(func() int64 { return now })

	first, err := engine.Create(payerAddr, 7, testToken, 10_000_000, twoWaySplits(), 2_000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	now = 3_000
	again, err := engine.Create(payerAddr, 7, testToken, 10_000_000, twoWaySplits(), 2_000)
	if err != nil {
		t.Fatalf("replay after deadline: %v", err)
	}
	if again.ID != first.ID || again.Status != first.Status {
		t.Fatalf("replayed create diverged: %+v vs %+v", again, first)
	}
}

func TestCreateValidation(t *testing.T) {
	engine, _, platform := newTestEngine(t)

	if _, err := engine.Create(payerAddr, 1, testToken, MinEscrowAmount-1, twoWaySplits(), 0); !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("below minimum err = %v, want ErrAmountTooSmall", err)
	}
	if _, err := engine.Create(payerAddr, 1, "  ", 10_000_000, twoWaySplits(), 0); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("blank token err = %v, want ErrInvalidAsset", err)
	}
	if _, err := engine.Create(payerAddr, 1, testToken, 10_000_000, twoWaySplits(), 500); !errors.Is(err, ErrDeadlineInPast) {
		t.Fatalf("past deadline err = %v, want ErrDeadlineInPast", err)
	}
	if _, err := engine.Create(payerAddr, 1, testToken, 10_000_000, twoWaySplits(), 1_000+MaxEscrowDuration+1); !errors.Is(err, ErrDeadlineTooFar) {
		t.Fatalf("distant deadline err = %v, want ErrDeadlineTooFar", err)
	}
	badSplits := []fees.Split{{Recipient: workerAddr, Bps: 9000}}
	if _, err := engine.Create(payerAddr, 1, testToken, 10_000_000, badSplits, 0); !errors.Is(err, fees.ErrInvalidSplits) {
		t.Fatalf("short splits err = %v, want ErrInvalidSplits", err)
	}

	platform.paused = true
	if _, err := engine.Create(payerAddr, 1, testToken, 10_000_000, twoWaySplits(), 0); err == nil {
		t.Fatal("create succeeded while paused")
	}
}

func TestFundChecks(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	esc, err := engine.Create(payerAddr, 1, testToken, 10_000_000, twoWaySplits(), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := engine.Fund(esc.ID, strangerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger fund err = %v, want ErrUnauthorized", err)
	}
	if err := engine.Fund(esc.ID, payerAddr); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("unfunded payer err = %v, want ErrInsufficientFunds", err)
	}
	stored, _ := engine.Get(esc.ID)
	if stored.Status != EscrowCreated {
		t.Fatalf("failed fund changed status to %s", stored.Status)
	}
	if got := state.balance(esc.Vault, testToken); got != 0 {
		t.Fatalf("failed fund left %d in vault", got)
	}

	state.setBalance(payerAddr, testToken, 10_000_000)
	if err := engine.Fund(esc.ID, payerAddr); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.Fund(esc.ID, payerAddr); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second fund err = %v, want ErrInvalidStatus", err)
	}
}

func TestSettleDestinationChecks(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(payerAddr, testToken, 10_000_000)
	esc, err := engine.Create(payerAddr, 1, testToken, 10_000_000, twoWaySplits(), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Fund(esc.ID, payerAddr); err != nil {
		t.Fatalf("fund: %v", err)
	}

	cases := []struct {
		name  string
		dests []Destination
		want  error
	}{
		{"too few", twoWayDests()[:1], ErrInvalidRemainingAccounts},
		{"duplicate account", []Destination{
			{Account: workerAddr, Owner: workerAddr, Token: testToken},
			{Account: workerAddr, Owner: referrerAddr, Token: testToken},
		}, ErrDuplicateAccounts},
		{"vault as destination", []Destination{
			{Account: esc.Vault, Owner: workerAddr, Token: testToken},
			{Account: referrerAddr, Owner: referrerAddr, Token: testToken},
		}, ErrDuplicateAccounts},
		{"owner mismatch", []Destination{
			{Account: workerAddr, Owner: workerAddr, Token: testToken},
			{Account: referrerAddr, Owner: strangerAddr, Token: testToken},
		}, ErrInvalidRecipient},
		{"asset mismatch", []Destination{
			{Account: workerAddr, Owner: workerAddr, Token: testToken},
			{Account: referrerAddr, Owner: referrerAddr, Token: "OTHER"},
		}, ErrInvalidAsset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := engine.Settle(esc.ID, payerAddr, tc.dests); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if got := state.balance(esc.Vault, testToken); got != 10_000_000 {
				t.Fatalf("failed settle drained vault to %d", got)
			}
			stored, _ := engine.Get(esc.ID)
			if stored.Status != EscrowFunded {
				t.Fatalf("failed settle changed status to %s", stored.Status)
			}
		})
	}

	if err := engine.Settle(esc.ID, strangerAddr, twoWayDests()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger settle err = %v, want ErrUnauthorized", err)
	}
}

func TestSettleAtMostOnce(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(payerAddr, testToken, 10_000_000)
	esc, _ := engine.Create(payerAddr, 1, testToken, 10_000_000, twoWaySplits(), 0)
	if err := engine.Fund(esc.ID, payerAddr); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.Approve(esc.ID, payerAddr); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := engine.Settle(esc.ID, payerAddr, twoWayDests()); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := engine.Settle(esc.ID, payerAddr, twoWayDests()); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second settle err = %v, want ErrInvalidStatus", err)
	}
	if got := state.balance(workerAddr, testToken); got != 9_000_000 {
		t.Fatalf("worker balance after replay = %d, want 9000000", got)
	}
}

func TestThreeWayRemainderToLast(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(payerAddr, testToken, 100_000_001)
	splits := []fees.Split{
		{Recipient: workerAddr, Bps: 3333},
		{Recipient: referrerAddr, Bps: 3333},
		{Recipient: strangerAddr, Bps: 3334},
	}
	esc, err := engine.Create(payerAddr, 1, testToken, 100_000_001, splits, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Fund(esc.ID, payerAddr); err != nil {
		t.Fatalf("fund: %v", err)
	}
	dests := []Destination{
		{Account: workerAddr, Owner: workerAddr, Token: testToken},
		{Account: referrerAddr, Owner: referrerAddr, Token: testToken},
		{Account: strangerAddr, Owner: strangerAddr, Token: testToken},
	}
	if err := engine.Settle(esc.ID, payerAddr, dests); err != nil {
		t.Fatalf("settle: %v", err)
	}
	total := state.balance(workerAddr, testToken) +
		state.balance(referrerAddr, testToken) +
		state.balance(strangerAddr, testToken)
	if total != 100_000_001 {
		t.Fatalf("payouts sum to %d, want 100000001", total)
	}
	if got := state.balance(esc.Vault, testToken); got != 0 {
		t.Fatalf("vault retains %d", got)
	}
}

func TestFixedFeeLifecycle(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(payerAddr, testToken, 11_000_000)

	esc, err := engine.CreateFixedFee(payerAddr, 1, testToken, 10_000_000, workerAddr, "services", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if esc.FeeAmount != 1_000_000 || esc.TotalAmount != 11_000_000 {
		t.Fatalf("fee/total = %d/%d, want 1000000/11000000", esc.FeeAmount, esc.TotalAmount)
	}
	if err := engine.Fund(esc.ID, payerAddr); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.Release(esc.ID, payerAddr); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := state.balance(workerAddr, testToken); got != 10_000_000 {
		t.Fatalf("worker received %d, want 10000000", got)
	}
	if got := state.balance(treasuryAddr, testToken); got != 1_000_000 {
		t.Fatalf("treasury received %d, want 1000000", got)
	}
	if got := state.balance(esc.Vault, testToken); got != 0 {
		t.Fatalf("vault retains %d", got)
	}
	stored, _ := engine.Get(esc.ID)
	if stored.Status != EscrowReleased {
		t.Fatalf("status = %s, want released", stored.Status)
	}
}

func TestCreateFixedFeeRejectsVaultRecipient(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	// The vault address is derivable from payer and sequence before the
	// record exists.
	vault := VaultAddress(EscrowID(payerAddr, 1))
	if _, err := engine.CreateFixedFee(payerAddr, 1, testToken, 10_000_000, vault, "services", 0); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("vault recipient err = %v, want ErrInvalidRecipient", err)
	}
}

func TestReleaseRejectsVaultAsRecipient(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	id := EscrowID(payerAddr, 1)
	vault := VaultAddress(id)
	esc := &Escrow{
		ID:           id,
		Payer:        payerAddr,
		Token:        testToken,
		Vault:        vault,
		TotalAmount:  11_000_000,
		Recipient:    vault,
		WorkerAmount: 10_000_000,
		FeeAmount:    1_000_000,
		FeeBps:       1000,
		Category:     "services",
		Status:       EscrowFunded,
		CreatedAt:    900,
		FundedAt:     950,
		Version:      VersionFixedFee,
	}
	if err := state.EscrowPut(esc); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	state.setBalance(vault, testToken, 11_000_000)

	if err := engine.Release(id, payerAddr); !errors.Is(err, ErrDuplicateAccounts) {
		t.Fatalf("release err = %v, want ErrDuplicateAccounts", err)
	}
	if got := state.balance(vault, testToken); got != 11_000_000 {
		t.Fatalf("vault balance = %d, want 11000000 untouched", got)
	}
	if got := state.balance(treasuryAddr, testToken); got != 0 {
		t.Fatalf("treasury received %d from a failed release", got)
	}
	stored, err := engine.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != EscrowFunded {
		t.Fatalf("failed release changed status to %s", stored.Status)
	}
}

func TestLedgerRejectsSelfTransfer(t *testing.T) {
	state := newMockState()
	state.setBalance(workerAddr, testToken, 1_000_000)
	led := newLedger(state)

	if err := led.move(workerAddr, workerAddr, testToken, 500_000); !errors.Is(err, ErrDuplicateAccounts) {
		t.Fatalf("self transfer err = %v, want ErrDuplicateAccounts", err)
	}
	if err := led.commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := state.balance(workerAddr, testToken); got != 1_000_000 {
		t.Fatalf("balance = %d, want 1000000 unchanged", got)
	}
}

func TestModeMismatch(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(payerAddr, testToken, 30_000_000)

	split, _ := engine.Create(payerAddr, 1, testToken, 10_000_000, twoWaySplits(), 0)
	fixed, _ := engine.CreateFixedFee(payerAddr, 2, testToken, 10_000_000, workerAddr, "services", 0)
	if err := engine.Fund(split.ID, payerAddr); err != nil {
		t.Fatalf("fund split: %v", err)
	}
	if err := engine.Fund(fixed.ID, payerAddr); err != nil {
		t.Fatalf("fund fixed: %v", err)
	}

	if err := engine.Release(split.ID, payerAddr); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("release on split mode err = %v, want ErrInvalidStatus", err)
	}
	if err := engine.Settle(fixed.ID, payerAddr, twoWayDests()); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("settle on fixed mode err = %v, want ErrInvalidStatus", err)
	}
}

func TestRefundDeadlineBoundary(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(payerAddr, testToken, 10_000_000)
	now := int64(1_000)
	engine.SetNowFunc(func() int64 { return now })

	esc, err := engine.Create(payerAddr, 1, testToken, 10_000_000, twoWaySplits(), 2_000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Fund(esc.ID, payerAddr); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.Refund(esc.ID, payerAddr); !errors.Is(err, ErrDeadlineNotPassed) {
		t.Fatalf("early refund err = %v, want ErrDeadlineNotPassed", err)
	}
	now = 2_000
	if err := engine.Refund(esc.ID, payerAddr); !errors.Is(err, ErrDeadlineNotPassed) {
		t.Fatalf("refund at deadline err = %v, want ErrDeadlineNotPassed", err)
	}
	now = 2_001
	if err := engine.Refund(esc.ID, payerAddr); err != nil {
		t.Fatalf("refund after deadline: %v", err)
	}
	if got := state.balance(payerAddr, testToken); got != 10_000_000 {
		t.Fatalf("payer recovered %d, want 10000000", got)
	}
	stored, _ := engine.Get(esc.ID)
	if stored.Status != EscrowRefunded {
		t.Fatalf("status = %s, want refunded", stored.Status)
	}
}

func TestRefundRequiresDeadline(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(payerAddr, testToken, 10_000_000)
	esc, _ := engine.Create(payerAddr, 1, testToken, 10_000_000, twoWaySplits(), 0)
	if err := engine.Fund(esc.ID, payerAddr); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.Refund(esc.ID, payerAddr); !errors.Is(err, ErrNoDeadline) {
		t.Fatalf("refund err = %v, want ErrNoDeadline", err)
	}
}

func TestFreezeAndAdminRefund(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(payerAddr, testToken, 10_000_000)
	esc, _ := engine.Create(payerAddr, 1, testToken, 10_000_000, twoWaySplits(), 0)

	if err := engine.Freeze(esc.ID, workerAddr); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("freeze unfunded err = %v, want ErrInvalidStatus", err)
	}
	if err := engine.Fund(esc.ID, payerAddr); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.Freeze(esc.ID, strangerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger freeze err = %v, want ErrUnauthorized", err)
	}
	if err := engine.Freeze(esc.ID, workerAddr); err != nil {
		t.Fatalf("recipient freeze: %v", err)
	}
	if err := engine.Settle(esc.ID, payerAddr, twoWayDests()); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("settle while frozen err = %v, want ErrInvalidStatus", err)
	}
	if err := engine.Refund(esc.ID, payerAddr); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("refund while frozen err = %v, want ErrInvalidStatus", err)
	}

	if err := engine.AdminRefund(esc.ID, strangerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("impostor admin refund err = %v, want ErrUnauthorized", err)
	}
	if err := engine.AdminRefund(esc.ID, adminAddr); err != nil {
		t.Fatalf("admin refund: %v", err)
	}
	if got := state.balance(payerAddr, testToken); got != 10_000_000 {
		t.Fatalf("payer recovered %d, want full 10000000", got)
	}
}

func TestAdminSettleOverridesSplits(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(payerAddr, testToken, 10_000_000)
	esc, _ := engine.Create(payerAddr, 1, testToken, 10_000_000, twoWaySplits(), 0)
	if err := engine.Fund(esc.ID, payerAddr); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.Freeze(esc.ID, payerAddr); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	override := []fees.Split{
		{Recipient: workerAddr, Bps: 5000},
		{Recipient: payerAddr, Bps: 5000},
	}
	dests := []Destination{
		{Account: workerAddr, Owner: workerAddr, Token: testToken},
		{Account: payerAddr, Owner: payerAddr, Token: testToken},
	}
	if err := engine.AdminSettle(esc.ID, adminAddr, override, dests); err != nil {
		t.Fatalf("admin settle: %v", err)
	}
	if got := state.balance(workerAddr, testToken); got != 5_000_000 {
		t.Fatalf("worker received %d, want 5000000", got)
	}
	if got := state.balance(payerAddr, testToken); got != 5_000_000 {
		t.Fatalf("payer received %d, want 5000000", got)
	}
	if got := state.balance(esc.Vault, testToken); got != 0 {
		t.Fatalf("vault retains %d", got)
	}
}

func TestAdminSplitRetainsFee(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(payerAddr, testToken, 11_000_000)
	esc, err := engine.CreateFixedFee(payerAddr, 1, testToken, 10_000_000, workerAddr, "services", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Fund(esc.ID, payerAddr); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.Freeze(esc.ID, payerAddr); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	if err := engine.AdminSplit(esc.ID, adminAddr, 10_001); !errors.Is(err, fees.ErrInvalidPercentage) {
		t.Fatalf("overweight split err = %v, want ErrInvalidPercentage", err)
	}
	if err := engine.AdminSplit(esc.ID, adminAddr, 5000); err != nil {
		t.Fatalf("admin split: %v", err)
	}
	if got := state.balance(workerAddr, testToken); got != 5_000_000 {
		t.Fatalf("worker received %d, want 5000000", got)
	}
	if got := state.balance(payerAddr, testToken); got != 5_000_000 {
		t.Fatalf("payer recovered %d, want 5000000", got)
	}
	if got := state.balance(treasuryAddr, testToken); got != 1_000_000 {
		t.Fatalf("treasury received %d, want 1000000", got)
	}
	if got := state.balance(esc.Vault, testToken); got != 0 {
		t.Fatalf("vault retains %d", got)
	}
}

func TestAdminOpsRequireFrozenAndFunded(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(payerAddr, testToken, 10_000_000)
	esc, _ := engine.Create(payerAddr, 1, testToken, 10_000_000, twoWaySplits(), 0)

	if err := engine.AdminRefund(esc.ID, adminAddr); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("admin refund on created err = %v, want ErrInvalidStatus", err)
	}
	if err := engine.Fund(esc.ID, payerAddr); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.Freeze(esc.ID, adminAddr); err != nil {
		t.Fatalf("admin freeze: %v", err)
	}
	if err := engine.AdminSplit(esc.ID, adminAddr, 5000); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("admin split on split mode err = %v, want ErrInvalidStatus", err)
	}
}

func TestCancelAndClose(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(payerAddr, testToken, 10_000_000)

	esc, _ := engine.Create(payerAddr, 1, testToken, 10_000_000, twoWaySplits(), 0)
	if err := engine.Cancel(esc.ID, strangerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger cancel err = %v, want ErrUnauthorized", err)
	}
	if err := engine.Cancel(esc.ID, payerAddr); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := engine.Get(esc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancelled record still present: %v", err)
	}

	esc, _ = engine.Create(payerAddr, 2, testToken, 10_000_000, twoWaySplits(), 0)
	if err := engine.Fund(esc.ID, payerAddr); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.Cancel(esc.ID, payerAddr); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("cancel funded err = %v, want ErrInvalidStatus", err)
	}
	if err := engine.Close(esc.ID, payerAddr); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("close active err = %v, want ErrInvalidStatus", err)
	}
	if err := engine.Settle(esc.ID, payerAddr, twoWayDests()); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := engine.Close(esc.ID, payerAddr); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := engine.Get(esc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("closed record still present: %v", err)
	}
}

func TestDerivedIdentifiersAreStable(t *testing.T) {
	id := EscrowID(payerAddr, 42)
	if id != EscrowID(payerAddr, 42) {
		t.Fatal("escrow id is not deterministic")
	}
	if id == EscrowID(payerAddr, 43) {
		t.Fatal("distinct sequences collide")
	}
	if id == PoolID(payerAddr, 42) {
		t.Fatal("escrow and pool namespaces collide")
	}
	if VaultAddress(id) == PoolVaultAddress(id) {
		t.Fatal("vault namespaces collide")
	}
}
