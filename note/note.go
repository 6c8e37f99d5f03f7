// Package note implements the private note ledger: UTXO-like value units
// identified by a keccak commitment, owned until their nullifier is revealed
// on-chain. It contains the commitment derivation and the durable per-wallet
// store; it has no network or chain awareness.
package note

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Errors returned by the note package.
var (
	ErrInvalidAmount = errors.New("note: amount is not a non-negative decimal integer")
	ErrNoteNotFound  = errors.New("note: note not found")
	ErrZeroAmount    = errors.New("note: amount must be greater than zero")
)

// Note is one private value unit. It is created unspent and mutated exactly
// once, to flip Spent; it is never deleted so that history reconciliation
// keeps working after a spend.
type Note struct {
	// Nullifier is the secret-derived value revealed on-chain when the note
	// is spent. Publishing it a second time is rejected by the converter.
	Nullifier common.Hash `json:"nullifier"`

	// Secret is known only to the owner and, with the nullifier, authorizes
	// a spend.
	Secret common.Hash `json:"secret"`

	// Commitment is keccak256(nullifier, secret, amount, owner) and is the
	// only part of the note that appears on-chain.
	Commitment common.Hash `json:"commitment"`

	// Amount is the value in the token's smallest unit, as a decimal string.
	// Amounts are never represented as floats anywhere in the system.
	Amount string `json:"amount"`

	TokenSymbol      string         `json:"tokenSymbol"`
	ConverterAddress common.Address `json:"converterAddress"`
	Decimals         uint8          `json:"decimals"`

	// Timestamp is the local creation time in unix milliseconds, used only
	// for ordering and display.
	Timestamp int64 `json:"timestamp"`

	// Spent transitions false -> true exactly once.
	Spent bool `json:"spent"`
}

// StoredNote pairs a note with its store-local identifier.
type StoredNote struct {
	ID string
	Note
}

// Filter selects notes belonging to one token/converter pairing. A note is
// only meaningful within a single converter's namespace.
type Filter struct {
	TokenSymbol      string
	ConverterAddress common.Address
}

func (f Filter) matches(n Note) bool {
	return n.TokenSymbol == f.TokenSymbol && n.ConverterAddress == f.ConverterAddress
}

// ParseAmount parses a decimal base-unit amount string into a uint256.
// It rejects empty strings, non-digit characters, and values that do not
// fit an EVM word.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, ErrInvalidAmount
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return nil, ErrInvalidAmount
		}
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

// ParsePositiveAmount is ParseAmount restricted to non-zero values.
func ParsePositiveAmount(s string) (*uint256.Int, error) {
	v, err := ParseAmount(s)
	if err != nil {
		return nil, err
	}
	if v.IsZero() {
		return nil, ErrZeroAmount
	}
	return v, nil
}
