package platform

import (
	"errors"

	"payvault/core/events"
	"payvault/core/types"
	"payvault/native/fees"
)

var (
	errNilState = errors.New("platform engine: state not configured")

	// ErrNotInitialized is returned when an operation requires a stored
	// configuration and none exists yet.
	ErrNotInitialized = errors.New("platform: config not initialized")
	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("platform: config already initialized")
	// ErrUnauthorized marks a caller that does not hold the identity the
	// operation requires.
	ErrUnauthorized = errors.New("platform: unauthorized caller")
	// ErrInvalidTreasury rejects a zero treasury address.
	ErrInvalidTreasury = errors.New("platform: invalid treasury address")
	// ErrInvalidAdmin rejects a zero admin address.
	ErrInvalidAdmin = errors.New("platform: invalid admin address")
	// ErrNoPendingAdmin is returned when no admin transfer is in flight.
	ErrNoPendingAdmin = errors.New("platform: no pending admin transfer")
)

type configState interface {
	PlatformConfigPut(*Config) error
	PlatformConfigGet() (*Config, bool, error)
}

type platformEvent struct {
	evt *types.Event
}

func (e platformEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e platformEvent) Event() *types.Event { return e.evt }

// Engine manages the platform configuration singleton. It also serves as the
// pause and fee-policy view consumed by the escrow engines.
type Engine struct {
	state     configState
	emitter   events.Emitter
	bootstrap *[20]byte
}

// NewEngine creates a platform engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state configState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetBootstrapAuthority restricts Initialize to a pre-agreed identity so the
// one-time setup cannot be front-run by an arbitrary first caller.
func (e *Engine) SetBootstrapAuthority(addr [20]byte) {
	if addr == ([20]byte{}) {
		e.bootstrap = nil
		return
	}
	bootstrap := addr
	e.bootstrap = &bootstrap
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(platformEvent{evt: event})
}

func (e *Engine) loadConfig() (*Config, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, ok, err := e.state.PlatformConfigGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

func (e *Engine) storeConfig(cfg *Config) error {
	sanitized, err := Sanitize(cfg)
	if err != nil {
		return err
	}
	return e.state.PlatformConfigPut(sanitized)
}

// Initialize performs the one-time platform setup. The caller becomes the
// admin. When a bootstrap authority is configured only that identity may
// perform the call.
func (e *Engine) Initialize(caller, treasury [20]byte) (*Config, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if treasury == ([20]byte{}) {
		return nil, ErrInvalidTreasury
	}
	if caller == ([20]byte{}) {
		return nil, ErrInvalidAdmin
	}
	if e.bootstrap != nil && caller != *e.bootstrap {
		return nil, ErrUnauthorized
	}
	if _, ok, err := e.state.PlatformConfigGet(); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyInitialized
	}
	cfg := &Config{Admin: caller, Treasury: treasury}
	if err := e.storeConfig(cfg); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(cfg))
	return cfg.Clone(), nil
}

// UpdateParams carries the optional fields an admin may change. Nil fields
// are left untouched.
type UpdateParams struct {
	Treasury         *[20]byte
	ReleaseAuthority *[20]byte
	Paused           *bool
	DefaultFeeBps    *uint32
	CategoryRates    map[string]uint32
}

// Update applies the supplied changes to the configuration. Admin only.
func (e *Engine) Update(caller [20]byte, params UpdateParams) (*Config, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if caller != cfg.Admin {
		return nil, ErrUnauthorized
	}
	if params.Treasury != nil {
		if *params.Treasury == ([20]byte{}) {
			return nil, ErrInvalidTreasury
		}
		cfg.Treasury = *params.Treasury
	}
	if params.ReleaseAuthority != nil {
		cfg.ReleaseAuthority = *params.ReleaseAuthority
	}
	if params.Paused != nil {
		cfg.Paused = *params.Paused
	}
	if params.DefaultFeeBps != nil {
		if *params.DefaultFeeBps > fees.BpsDenominator {
			return nil, fees.ErrInvalidPercentage
		}
		cfg.DefaultFeeBps = *params.DefaultFeeBps
	}
	for category, rate := range params.CategoryRates {
		if rate > fees.BpsDenominator {
			return nil, fees.ErrInvalidPercentage
		}
		if cfg.CategoryRates == nil {
			cfg.CategoryRates = make(map[string]uint32)
		}
		cfg.CategoryRates[NormalizeCategory(category)] = rate
	}
	if err := e.storeConfig(cfg); err != nil {
		return nil, err
	}
	e.emit(NewUpdatedEvent(cfg))
	return cfg.Clone(), nil
}

// ProposeAdmin records a pending admin transfer. The transfer only takes
// effect once the proposed identity accepts it.
func (e *Engine) ProposeAdmin(caller, newAdmin [20]byte) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Admin {
		return ErrUnauthorized
	}
	if newAdmin == ([20]byte{}) {
		return ErrInvalidAdmin
	}
	pending := newAdmin
	cfg.PendingAdmin = &pending
	if err := e.storeConfig(cfg); err != nil {
		return err
	}
	e.emit(NewAdminProposedEvent(cfg, newAdmin))
	return nil
}

// AcceptAdmin completes a pending admin transfer. Only the pending identity
// itself may confirm, which prevents irrecoverable mistyped transfers.
func (e *Engine) AcceptAdmin(caller [20]byte) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if cfg.PendingAdmin == nil {
		return ErrNoPendingAdmin
	}
	if caller != *cfg.PendingAdmin {
		return ErrUnauthorized
	}
	cfg.Admin = *cfg.PendingAdmin
	cfg.PendingAdmin = nil
	if err := e.storeConfig(cfg); err != nil {
		return err
	}
	e.emit(NewAdminAcceptedEvent(cfg))
	return nil
}

// CancelAdminTransfer discards a pending admin transfer. Admin only.
func (e *Engine) CancelAdminTransfer(caller [20]byte) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Admin {
		return ErrUnauthorized
	}
	if cfg.PendingAdmin == nil {
		return ErrNoPendingAdmin
	}
	cfg.PendingAdmin = nil
	if err := e.storeConfig(cfg); err != nil {
		return err
	}
	e.emit(NewAdminCancelledEvent(cfg))
	return nil
}

// Admin returns the current administrative identity, or the zero address when
// the platform has not been initialised.
func (e *Engine) Admin() [20]byte {
	cfg, err := e.loadConfig()
	if err != nil {
		return [20]byte{}
	}
	return cfg.Admin
}

// Treasury returns the current treasury identity, or the zero address when
// the platform has not been initialised.
func (e *Engine) Treasury() [20]byte {
	cfg, err := e.loadConfig()
	if err != nil {
		return [20]byte{}
	}
	return cfg.Treasury
}

// CategoryRate resolves the fee rate for an escrow category.
func (e *Engine) CategoryRate(category string) uint32 {
	cfg, err := e.loadConfig()
	if err != nil {
		return 0
	}
	return cfg.FeeRate(category)
}

// IsPaused implements the pause view consumed by native module guards.
// Pausing the platform pauses every module.
func (e *Engine) IsPaused(string) bool {
	cfg, err := e.loadConfig()
	if err != nil {
		return false
	}
	return cfg.Paused
}
