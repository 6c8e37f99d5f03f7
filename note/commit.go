package note

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Derived is a freshly generated nullifier/secret/commitment triple. The
// nullifier and secret are 32 bytes of CSPRNG output each; the commitment
// binds them to the amount and the owner context.
type Derived struct {
	Nullifier  common.Hash
	Secret     common.Hash
	Commitment common.Hash
}

// ComputeCommitment derives the public commitment for a note:
//
//	keccak256(nullifier || secret || uint256(amount) || owner)
//
// The owner address acts as a domain separator so the same randomness can
// never produce a valid commitment for two different parties. The function is
// deterministic in its inputs; recomputing with the same values reproduces
// the on-chain commitment exactly.
func ComputeCommitment(nullifier, secret common.Hash, amount *uint256.Int, owner common.Address) common.Hash {
	amt := amount.Bytes32()
	return crypto.Keccak256Hash(nullifier[:], secret[:], amt[:], owner[:])
}

// GenerateCommitment draws a fresh nullifier and secret from crypto/rand and
// derives the matching commitment for the given amount and owner context.
// amount must be a non-negative decimal base-unit string; it fails with
// ErrInvalidAmount otherwise. The call is pure apart from its randomness and
// persists nothing.
func GenerateCommitment(amount string, owner common.Address) (Derived, error) {
	v, err := ParseAmount(amount)
	if err != nil {
		return Derived{}, err
	}
	var nullifier, secret common.Hash
	if _, err := rand.Read(nullifier[:]); err != nil {
		return Derived{}, fmt.Errorf("note: reading nullifier randomness: %w", err)
	}
	if _, err := rand.Read(secret[:]); err != nil {
		return Derived{}, fmt.Errorf("note: reading secret randomness: %w", err)
	}
	return Derived{
		Nullifier:  nullifier,
		Secret:     secret,
		Commitment: ComputeCommitment(nullifier, secret, v, owner),
	}, nil
}

// NewNote assembles an unspent note from a derived triple and the token
// pairing it belongs to. The timestamp is the local wall clock in unix
// milliseconds.
func NewNote(d Derived, amount, tokenSymbol string, converter common.Address, decimals uint8) Note {
	return Note{
		Nullifier:        d.Nullifier,
		Secret:           d.Secret,
		Commitment:       d.Commitment,
		Amount:           amount,
		TokenSymbol:      tokenSymbol,
		ConverterAddress: converter,
		Decimals:         decimals,
		Timestamp:        time.Now().UnixMilli(),
		Spent:            false,
	}
}
