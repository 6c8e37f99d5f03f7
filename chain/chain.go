// Package chain defines the boundary to the on-chain converter contracts:
// the operations a shielded-pool converter exposes, the events it emits, and
// the narrow log-reading surface the history reconciler needs. The contracts
// themselves are external; this package provides an RPC-backed client and an
// in-memory simulator for tests.
package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Event signatures emitted by a converter contract.
var (
	// ShieldTopic is the topic0 of Shield(bytes32 indexed commitment, uint256 amount).
	ShieldTopic = crypto.Keccak256Hash([]byte("Shield(bytes32,uint256)"))
	// PrivateTransferTopic is the topic0 of
	// PrivateTransfer(bytes32 indexed nullifier, bytes32 indexed newCommitment).
	PrivateTransferTopic = crypto.Keccak256Hash([]byte("PrivateTransfer(bytes32,bytes32)"))
	// UnshieldTopic is the topic0 of
	// Unshield(bytes32 indexed nullifier, address indexed to, uint256 amount).
	UnshieldTopic = crypto.Keccak256Hash([]byte("Unshield(bytes32,address,uint256)"))
)

// ErrTxReverted is returned by WaitConfirmed when the transaction was mined
// but its receipt reports failure.
var ErrTxReverted = errors.New("chain: transaction reverted")

// Converter is the shielded-pool converter contract surface. Every call
// submits a transaction and returns its hash; confirmation is awaited
// separately through a ReceiptWaiter.
type Converter interface {
	// Shield locks amount publicly and records the commitment in the pool.
	Shield(ctx context.Context, amount *uint256.Int, commitment common.Hash) (common.Hash, error)
	// PrivateTransfer publishes a spent nullifier and the replacement
	// commitment in one transaction.
	PrivateTransfer(ctx context.Context, nullifier, newCommitment common.Hash) (common.Hash, error)
	// Unshield publishes a spent nullifier and releases amount to the
	// public balance of to.
	Unshield(ctx context.Context, nullifier common.Hash, to common.Address, amount *uint256.Int) (common.Hash, error)
}

// ERC20 is the slice of the standard token interface the shield flow needs:
// granting the converter an allowance before a non-native shield.
type ERC20 interface {
	Approve(ctx context.Context, spender common.Address, amount *uint256.Int) (common.Hash, error)
}

// ReceiptWaiter blocks until a submitted transaction is confirmed or fails.
// On context expiry the outcome is unknown, not failed; callers must not
// retry with fresh randomness.
type ReceiptWaiter interface {
	WaitConfirmed(ctx context.Context, tx common.Hash) error
}

// LogReader is the read-only chain surface for event reconciliation. It
// matches the corresponding methods on ethclient.Client.
type LogReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
}
