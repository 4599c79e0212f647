package escrow

import "errors"

// The escrow module reports every failure as one of a closed set of sentinel
// errors. Callers branch on the sentinel via errors.Is; the message text is
// presentation only. Arithmetic failures surface as fees.ErrOverflow and
// pause rejections as common.ErrModulePaused.
var (
	// ErrInvalidStatus marks an operation illegal for the record's current
	// status.
	ErrInvalidStatus = errors.New("escrow: invalid status for operation")
	// ErrUnauthorized marks a caller that does not hold the identity the
	// operation requires.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")
	// ErrInsufficientFunds marks a vault balance too small for the requested
	// disbursement.
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	// ErrDeadlineNotPassed rejects a refund attempted at or before the
	// deadline.
	ErrDeadlineNotPassed = errors.New("escrow: deadline not passed")
	// ErrNoDeadline rejects a refund on a record without a deadline.
	ErrNoDeadline = errors.New("escrow: no deadline set")
	// ErrAmountTooSmall rejects amounts below the minimum escrow unit.
	ErrAmountTooSmall = errors.New("escrow: amount below minimum")
	// ErrInvalidVault marks a vault reference mismatch.
	ErrInvalidVault = errors.New("escrow: invalid vault account")
	// ErrInvalidAsset marks a destination carrying the wrong asset.
	ErrInvalidAsset = errors.New("escrow: invalid asset")
	// ErrInvalidTreasury rejects a missing or zero treasury identity.
	ErrInvalidTreasury = errors.New("escrow: invalid treasury address")
	// ErrVaultNotEmpty rejects cancel/close while escrowed funds remain.
	ErrVaultNotEmpty = errors.New("escrow: vault not empty")
	// ErrDeadlineInPast rejects deadlines at or before the current time.
	ErrDeadlineInPast = errors.New("escrow: deadline must be in the future")
	// ErrDeadlineTooFar rejects deadlines more than the maximum duration out.
	ErrDeadlineTooFar = errors.New("escrow: deadline too far in the future")
	// ErrDuplicateAccounts rejects repeated destination accounts and
	// destinations aliasing the vault.
	ErrDuplicateAccounts = errors.New("escrow: duplicate destination accounts")
	// ErrInvalidMaxReleases rejects a max-release count outside 1..10000.
	ErrInvalidMaxReleases = errors.New("escrow: invalid max releases")
	// ErrMaxReleasesReached rejects a release once the metered budget is
	// exhausted.
	ErrMaxReleasesReached = errors.New("escrow: max releases reached")
	// ErrInvalidReleaseAuthority rejects a zero release authority.
	ErrInvalidReleaseAuthority = errors.New("escrow: invalid release authority")
	// ErrDeadlinePassed rejects pool releases after the deadline.
	ErrDeadlinePassed = errors.New("escrow: deadline passed")
	// ErrInvalidRecipient marks a destination whose owner does not match the
	// expected split recipient.
	ErrInvalidRecipient = errors.New("escrow: invalid recipient account")
	// ErrInvalidRemainingAccounts marks a destination list whose length does
	// not match the split set.
	ErrInvalidRemainingAccounts = errors.New("escrow: destination count mismatch")
	// ErrNotFunded rejects administrative resolution of a record that never
	// held funds.
	ErrNotFunded = errors.New("escrow: record was never funded")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("escrow: record not found")
	// ErrAlreadyExists rejects creation under an identifier that already
	// carries a different definition.
	ErrAlreadyExists = errors.New("escrow: identifier already exists with different definition")
)
