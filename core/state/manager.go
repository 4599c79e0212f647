package state

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"payvault/core/types"
	"payvault/native/escrow"
	"payvault/native/fees"
	"payvault/native/platform"
	"payvault/storage"
)

const (
	escrowPrefix  = "escrow:"
	poolPrefix    = "escrow-pool:"
	accountPrefix = "account:"
	configKey     = "platform-config"
)

// Manager persists escrow records, pool records, accounts and the platform
// configuration in a key-value database. It satisfies the state interfaces
// the escrow and platform engines are wired against.
type Manager struct {
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func escrowKey(id [32]byte) []byte {
	return append([]byte(escrowPrefix), id[:]...)
}

func poolKey(id [32]byte) []byte {
	return append([]byte(poolPrefix), id[:]...)
}

func accountKey(addr [20]byte) []byte {
	return append([]byte(accountPrefix), addr[:]...)
}

// storedEscrow is the RLP form of an escrow record. Timestamps are persisted
// as unsigned seconds since RLP has no signed integer encoding.
type storedEscrow struct {
	ID           [32]byte
	Payer        [20]byte
	Token        string
	Vault        [20]byte
	TotalAmount  uint64
	Splits       []storedSplit
	Recipient    [20]byte
	WorkerAmount uint64
	FeeAmount    uint64
	FeeBps       uint32
	Category     string
	Status       uint8
	CreatedAt    uint64
	FundedAt     uint64
	ApprovedAt   uint64
	SettledAt    uint64
	RefundedAt   uint64
	FrozenAt     uint64
	Deadline     uint64
	Version      uint8
}

type storedSplit struct {
	Recipient [20]byte
	Bps       uint32
}

func splitFromStored(s storedSplit) fees.Split {
	return fees.Split{Recipient: s.Recipient, Bps: s.Bps}
}

type storedPool struct {
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
	Status            uint8
	CreatedAt         uint64
	FundedAt          uint64
	ClosedAt          uint64
	Deadline          uint64
}

type storedBalance struct {
	Asset  string
	Amount uint64
}

type storedAccount struct {
	Nonce    uint64
	Balances []storedBalance
}

type storedRate struct {
	Category string
	Bps      uint32
}

type storedConfig struct {
	Admin            [20]byte
	Treasury         [20]byte
	ReleaseAuthority [20]byte
	Paused           bool
	PendingAdmin     []byte
	DefaultFeeBps    uint32
	CategoryRates    []storedRate
}

// EscrowPut stores the escrow record under its identifier.
func (m *Manager) EscrowPut(esc *escrow.Escrow) error {
	if esc == nil {
		return fmt.Errorf("state: nil escrow record")
	}
	stored := storedEscrow{
		ID:           esc.ID,
		Payer:        esc.Payer,
		Token:        esc.Token,
		Vault:        esc.Vault,
		TotalAmount:  esc.TotalAmount,
		Recipient:    esc.Recipient,
		WorkerAmount: esc.WorkerAmount,
		FeeAmount:    esc.FeeAmount,
		FeeBps:       esc.FeeBps,
		Category:     esc.Category,
		Status:       uint8(esc.Status),
		CreatedAt:    uint64(esc.CreatedAt),
		FundedAt:     uint64(esc.FundedAt),
		ApprovedAt:   uint64(esc.ApprovedAt),
		SettledAt:    uint64(esc.SettledAt),
		RefundedAt:   uint64(esc.RefundedAt),
		FrozenAt:     uint64(esc.FrozenAt),
		Deadline:     uint64(esc.Deadline),
		Version:      esc.Version,
	}
	for _, split := range esc.Splits {
		stored.Splits = append(stored.Splits, storedSplit{Recipient: split.Recipient, Bps: split.Bps})
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return m.db.Put(escrowKey(esc.ID), encoded)
}

// EscrowGet loads the escrow record stored under the identifier.
func (m *Manager) EscrowGet(id [32]byte) (*escrow.Escrow, bool, error) {
	raw, err := m.db.Get(escrowKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored storedEscrow
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, err
	}
	esc := &escrow.Escrow{
		ID:           stored.ID,
		Payer:        stored.Payer,
		Token:        stored.Token,
		Vault:        stored.Vault,
		TotalAmount:  stored.TotalAmount,
		Recipient:    stored.Recipient,
		WorkerAmount: stored.WorkerAmount,
		FeeAmount:    stored.FeeAmount,
		FeeBps:       stored.FeeBps,
		Category:     stored.Category,
		Status:       escrow.EscrowStatus(stored.Status),
		CreatedAt:    int64(stored.CreatedAt),
		FundedAt:     int64(stored.FundedAt),
		ApprovedAt:   int64(stored.ApprovedAt),
		SettledAt:    int64(stored.SettledAt),
		RefundedAt:   int64(stored.RefundedAt),
		FrozenAt:     int64(stored.FrozenAt),
		Deadline:     int64(stored.Deadline),
		Version:      stored.Version,
	}
	for _, split := range stored.Splits {
		esc.Splits = append(esc.Splits, splitFromStored(split))
	}
	return esc, true, nil
}

// EscrowRemove deletes the record stored under the identifier.
func (m *Manager) EscrowRemove(id [32]byte) error {
	return m.db.Delete(escrowKey(id))
}

// PoolPut stores the pool record under its identifier.
func (m *Manager) PoolPut(pool *escrow.PoolEscrow) error {
	if pool == nil {
		return fmt.Errorf("state: nil pool record")
	}
	stored := storedPool{
		ID:                pool.ID,
		Payer:             pool.Payer,
		Token:             pool.Token,
		Vault:             pool.Vault,
		PaymentPerRelease: pool.PaymentPerRelease,
		MaxReleases:       pool.MaxReleases,
		TotalFunded:       pool.TotalFunded,
		TotalReleased:     pool.TotalReleased,
		ReleaseCount:      pool.ReleaseCount,
		FeeBps:            pool.FeeBps,
		ReleaseAuthority:  pool.ReleaseAuthority,
		Status:            uint8(pool.Status),
		CreatedAt:         uint64(pool.CreatedAt),
		FundedAt:          uint64(pool.FundedAt),
		ClosedAt:          uint64(pool.ClosedAt),
		Deadline:          uint64(pool.Deadline),
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return m.db.Put(poolKey(pool.ID), encoded)
}

// PoolGet loads the pool record stored under the identifier.
func (m *Manager) PoolGet(id [32]byte) (*escrow.PoolEscrow, bool, error) {
	raw, err := m.db.Get(poolKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored storedPool
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, err
	}
	pool := &escrow.PoolEscrow{
		ID:                stored.ID,
		Payer:             stored.Payer,
		Token:             stored.Token,
		Vault:             stored.Vault,
		PaymentPerRelease: stored.PaymentPerRelease,
		MaxReleases:       stored.MaxReleases,
		TotalFunded:       stored.TotalFunded,
		TotalReleased:     stored.TotalReleased,
		ReleaseCount:      stored.ReleaseCount,
		FeeBps:            stored.FeeBps,
		ReleaseAuthority:  stored.ReleaseAuthority,
		Status:            escrow.PoolStatus(stored.Status),
		CreatedAt:         int64(stored.CreatedAt),
		FundedAt:          int64(stored.FundedAt),
		ClosedAt:          int64(stored.ClosedAt),
		Deadline:          int64(stored.Deadline),
	}
	return pool, true, nil
}

// PoolRemove deletes the pool record stored under the identifier.
func (m *Manager) PoolRemove(id [32]byte) error {
	return m.db.Delete(poolKey(id))
}

// GetAccount loads the account stored under the address. A missing account
// is reported as nil without an error.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	account := types.NewAccount()
	account.Nonce = stored.Nonce
	for _, balance := range stored.Balances {
		account.SetBalance(balance.Asset, balance.Amount)
	}
	return account, nil
}

// PutAccount stores the account under the address. Balances are persisted in
// sorted asset order so the encoding is deterministic.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	stored := storedAccount{Nonce: account.Nonce}
	assets := make([]string, 0, len(account.Balances))
	for asset := range account.Balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		stored.Balances = append(stored.Balances, storedBalance{Asset: asset, Amount: account.Balances[asset]})
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// PlatformConfigPut stores the platform configuration singleton.
func (m *Manager) PlatformConfigPut(cfg *platform.Config) error {
	if cfg == nil {
		return fmt.Errorf("state: nil platform config")
	}
	stored := storedConfig{
		Admin:            cfg.Admin,
		Treasury:         cfg.Treasury,
		ReleaseAuthority: cfg.ReleaseAuthority,
		Paused:           cfg.Paused,
		DefaultFeeBps:    cfg.DefaultFeeBps,
	}
	if cfg.PendingAdmin != nil {
		stored.PendingAdmin = append([]byte(nil), cfg.PendingAdmin[:]...)
	}
	categories := make([]string, 0, len(cfg.CategoryRates))
	for category := range cfg.CategoryRates {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		stored.CategoryRates = append(stored.CategoryRates, storedRate{Category: category, Bps: cfg.CategoryRates[category]})
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return m.db.Put([]byte(configKey), encoded)
}

// PlatformConfigGet loads the platform configuration singleton.
func (m *Manager) PlatformConfigGet() (*platform.Config, bool, error) {
	raw, err := m.db.Get([]byte(configKey))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored storedConfig
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, err
	}
	cfg := &platform.Config{
		Admin:            stored.Admin,
		Treasury:         stored.Treasury,
		ReleaseAuthority: stored.ReleaseAuthority,
		Paused:           stored.Paused,
		DefaultFeeBps:    stored.DefaultFeeBps,
	}
	if len(stored.PendingAdmin) == 20 {
		var pending [20]byte
		copy(pending[:], stored.PendingAdmin)
		cfg.PendingAdmin = &pending
	}
	for _, rate := range stored.CategoryRates {
		if cfg.CategoryRates == nil {
			cfg.CategoryRates = make(map[string]uint32, len(stored.CategoryRates))
		}
		cfg.CategoryRates[rate.Category] = rate.Bps
	}
	return cfg, true, nil
}
