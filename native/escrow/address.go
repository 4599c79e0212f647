package escrow

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Record and vault addresses derive deterministically from a kind prefix, the
// funding party and the caller-supplied sequence number, so the same inputs
// always land on the same addressable unit of state.
const (
	escrowSeed    = "escrow"
	vaultSeed     = "vault"
	poolSeed      = "pool_escrow"
	poolVaultSeed = "pool_vault"
)

func deriveID(seed string, payer [20]byte, sequence uint64) [32]byte {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], sequence)
	return ethcrypto.Keccak256Hash([]byte(seed), payer[:], seq[:])
}

func deriveVault(seed string, id [32]byte) [20]byte {
	hash := ethcrypto.Keccak256([]byte(seed), id[:])
	var vault [20]byte
	copy(vault[:], hash[12:])
	return vault
}

// EscrowID derives the record identifier for a payer's escrow sequence
// number.
func EscrowID(payer [20]byte, sequence uint64) [32]byte {
	return deriveID(escrowSeed, payer, sequence)
}

// VaultAddress derives the custody address holding an escrow's funds.
func VaultAddress(id [32]byte) [20]byte {
	return deriveVault(vaultSeed, id)
}

// PoolID derives the record identifier for a payer's pool escrow sequence
// number.
func PoolID(payer [20]byte, sequence uint64) [32]byte {
	return deriveID(poolSeed, payer, sequence)
}

// PoolVaultAddress derives the custody address holding a pool escrow's funds.
func PoolVaultAddress(id [32]byte) [20]byte {
	return deriveVault(poolVaultSeed, id)
}
