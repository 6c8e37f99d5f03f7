package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
)

// Contract fragments for the two converter flavours and the standard token.
// The native converter takes the shielded value as msg.value; the ERC-20
// converter pulls it via allowance.
const (
	erc20ConverterABI = `[
		{"type":"function","name":"shield","inputs":[{"name":"amount","type":"uint256"},{"name":"commitment","type":"bytes32"}]},
		{"type":"function","name":"privateTransfer","inputs":[{"name":"nullifier","type":"bytes32"},{"name":"newCommitment","type":"bytes32"}]},
		{"type":"function","name":"unshield","inputs":[{"name":"nullifier","type":"bytes32"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}]}
	]`
	nativeConverterABI = `[
		{"type":"function","name":"shield","stateMutability":"payable","inputs":[{"name":"commitment","type":"bytes32"}]},
		{"type":"function","name":"privateTransfer","inputs":[{"name":"nullifier","type":"bytes32"},{"name":"newCommitment","type":"bytes32"}]},
		{"type":"function","name":"unshield","inputs":[{"name":"nullifier","type":"bytes32"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}]}
	]`
	erc20ABI = `[
		{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}]}
	]`
)

// receiptPollInterval is how often WaitConfirmed polls for a receipt.
const receiptPollInterval = 2 * time.Second

// RPC wraps an ethclient connection with the converter-shaped surface the
// orchestrator and relayer need. It implements ReceiptWaiter and LogReader.
type RPC struct {
	ec *ethclient.Client
}

// DialRPC connects to an Ethereum-compatible JSON-RPC endpoint.
func DialRPC(ctx context.Context, url string) (*RPC, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chain: dialing %s: %w", url, err)
	}
	return &RPC{ec: ec}, nil
}

// NewRPC wraps an existing client connection.
func NewRPC(ec *ethclient.Client) *RPC { return &RPC{ec: ec} }

// Close releases the underlying connection.
func (r *RPC) Close() { r.ec.Close() }

// BlockNumber implements LogReader.
func (r *RPC) BlockNumber(ctx context.Context) (uint64, error) {
	return r.ec.BlockNumber(ctx)
}

// FilterLogs implements LogReader.
func (r *RPC) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return r.ec.FilterLogs(ctx, q)
}

// HeaderByHash implements LogReader.
func (r *RPC) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	return r.ec.HeaderByHash(ctx, hash)
}

// WaitConfirmed polls until the transaction has a receipt. A mined-but-failed
// receipt returns ErrTxReverted. Context expiry returns the context error:
// the transaction's outcome is unknown at that point, not failed.
func (r *RPC) WaitConfirmed(ctx context.Context, tx common.Hash) error {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := r.ec.TransactionReceipt(ctx, tx)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return ErrTxReverted
			}
			return nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("chain: fetching receipt for %s: %w", tx, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RPCConverter drives a deployed converter contract through a bound contract
// and a signing transactor.
type RPCConverter struct {
	contract *bind.BoundContract
	opts     *bind.TransactOpts
	native   bool
}

// Converter binds a converter contract at addr, signing with opts. native
// selects the payable shield(commitment) flavour.
func (r *RPC) Converter(addr common.Address, opts *bind.TransactOpts, native bool) (*RPCConverter, error) {
	src := erc20ConverterABI
	if native {
		src = nativeConverterABI
	}
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("chain: parsing converter ABI: %w", err)
	}
	return &RPCConverter{
		contract: bind.NewBoundContract(addr, parsed, r.ec, r.ec, r.ec),
		opts:     opts,
		native:   native,
	}, nil
}

// Shield implements Converter.
func (c *RPCConverter) Shield(ctx context.Context, amount *uint256.Int, commitment common.Hash) (common.Hash, error) {
	opts := *c.opts
	opts.Context = ctx
	var (
		tx  *types.Transaction
		err error
	)
	if c.native {
		opts.Value = amount.ToBig()
		tx, err = c.contract.Transact(&opts, "shield", commitment)
	} else {
		tx, err = c.contract.Transact(&opts, "shield", amount.ToBig(), commitment)
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: shield: %w", err)
	}
	return tx.Hash(), nil
}

// PrivateTransfer implements Converter.
func (c *RPCConverter) PrivateTransfer(ctx context.Context, nullifier, newCommitment common.Hash) (common.Hash, error) {
	opts := *c.opts
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, "privateTransfer", nullifier, newCommitment)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: privateTransfer: %w", err)
	}
	return tx.Hash(), nil
}

// Unshield implements Converter.
func (c *RPCConverter) Unshield(ctx context.Context, nullifier common.Hash, to common.Address, amount *uint256.Int) (common.Hash, error) {
	opts := *c.opts
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, "unshield", nullifier, to, amount.ToBig())
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: unshield: %w", err)
	}
	return tx.Hash(), nil
}

// RPCERC20 drives a standard token contract for allowance grants.
type RPCERC20 struct {
	contract *bind.BoundContract
	opts     *bind.TransactOpts
}

// ERC20 binds the token contract at addr, signing with opts.
func (r *RPC) ERC20(addr common.Address, opts *bind.TransactOpts) (*RPCERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parsing erc20 ABI: %w", err)
	}
	return &RPCERC20{
		contract: bind.NewBoundContract(addr, parsed, r.ec, r.ec, r.ec),
		opts:     opts,
	}, nil
}

// Approve implements ERC20.
func (t *RPCERC20) Approve(ctx context.Context, spender common.Address, amount *uint256.Int) (common.Hash, error) {
	opts := *t.opts
	opts.Context = ctx
	tx, err := t.contract.Transact(&opts, "approve", spender, amount.ToBig())
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: approve: %w", err)
	}
	return tx.Hash(), nil
}
