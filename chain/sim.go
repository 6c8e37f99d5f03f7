package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Simulator errors.
var (
	ErrSimNullifierSpent = errors.New("chain: nullifier already spent")
	ErrSimUnknownTx      = errors.New("chain: unknown transaction")
)

// ShieldCall records one shield submission for test inspection.
type ShieldCall struct {
	Amount     *uint256.Int
	Commitment common.Hash
}

// ApproveCall records one ERC-20 approval for test inspection.
type ApproveCall struct {
	Spender common.Address
	Amount  *uint256.Int
}

// Sim is an in-memory converter chain: one converter contract, one block per
// submitted transaction, logs and headers retained for filtering. It rejects
// double-published nullifiers the way the real contract does. Sim implements
// Converter, ERC20, ReceiptWaiter, and LogReader.
type Sim struct {
	mu        sync.Mutex
	converter common.Address

	blockNum    uint64
	genesisTime uint64
	logs        []types.Log
	headers     map[common.Hash]*types.Header
	receipts    map[common.Hash]bool
	spent       map[common.Hash]bool

	shieldCalls  []ShieldCall
	approveCalls []ApproveCall

	failSubmit  error
	failConfirm bool
}

// NewSim creates a simulator for a single converter address.
func NewSim(converter common.Address) *Sim {
	return &Sim{
		converter:   converter,
		genesisTime: 1_700_000_000,
		headers:     make(map[common.Hash]*types.Header),
		receipts:    make(map[common.Hash]bool),
		spent:       make(map[common.Hash]bool),
	}
}

// FailNextSubmit makes the next contract call fail with err before any state
// change, simulating an RPC rejection.
func (s *Sim) FailNextSubmit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubmit = err
}

// FailNextConfirm makes the next WaitConfirmed report a reverted receipt.
func (s *Sim) FailNextConfirm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failConfirm = true
}

// mine advances the chain one block and returns the new block's number,
// hash, and a fresh tx hash. Must be called with s.mu held.
func (s *Sim) mine(kind string) (uint64, common.Hash, common.Hash) {
	s.blockNum++
	blockHash := crypto.Keccak256Hash([]byte(fmt.Sprintf("block-%d", s.blockNum)))
	txHash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s-%d", kind, s.blockNum)))
	s.headers[blockHash] = &types.Header{
		Number: new(big.Int).SetUint64(s.blockNum),
		Time:   s.genesisTime + s.blockNum*2,
	}
	s.receipts[txHash] = true
	return s.blockNum, blockHash, txHash
}

func (s *Sim) takeSubmitError() error {
	err := s.failSubmit
	s.failSubmit = nil
	return err
}

// Shield implements Converter.
func (s *Sim) Shield(ctx context.Context, amount *uint256.Int, commitment common.Hash) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeSubmitError(); err != nil {
		return common.Hash{}, err
	}
	num, blockHash, txHash := s.mine("shield")
	amt := amount.Bytes32()
	s.logs = append(s.logs, types.Log{
		Address:     s.converter,
		Topics:      []common.Hash{ShieldTopic, commitment},
		Data:        amt[:],
		BlockNumber: num,
		BlockHash:   blockHash,
		TxHash:      txHash,
		Index:       uint(len(s.logs)),
	})
	s.shieldCalls = append(s.shieldCalls, ShieldCall{Amount: amount.Clone(), Commitment: commitment})
	return txHash, nil
}

// PrivateTransfer implements Converter.
func (s *Sim) PrivateTransfer(ctx context.Context, nullifier, newCommitment common.Hash) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeSubmitError(); err != nil {
		return common.Hash{}, err
	}
	if s.spent[nullifier] {
		return common.Hash{}, ErrSimNullifierSpent
	}
	s.spent[nullifier] = true
	num, blockHash, txHash := s.mine("privateTransfer")
	s.logs = append(s.logs, types.Log{
		Address:     s.converter,
		Topics:      []common.Hash{PrivateTransferTopic, nullifier, newCommitment},
		BlockNumber: num,
		BlockHash:   blockHash,
		TxHash:      txHash,
		Index:       uint(len(s.logs)),
	})
	return txHash, nil
}

// Unshield implements Converter.
func (s *Sim) Unshield(ctx context.Context, nullifier common.Hash, to common.Address, amount *uint256.Int) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeSubmitError(); err != nil {
		return common.Hash{}, err
	}
	if s.spent[nullifier] {
		return common.Hash{}, ErrSimNullifierSpent
	}
	s.spent[nullifier] = true
	num, blockHash, txHash := s.mine("unshield")
	amt := amount.Bytes32()
	s.logs = append(s.logs, types.Log{
		Address:     s.converter,
		Topics:      []common.Hash{UnshieldTopic, nullifier, common.BytesToHash(to.Bytes())},
		Data:        amt[:],
		BlockNumber: num,
		BlockHash:   blockHash,
		TxHash:      txHash,
		Index:       uint(len(s.logs)),
	})
	return txHash, nil
}

// Approve implements ERC20.
func (s *Sim) Approve(ctx context.Context, spender common.Address, amount *uint256.Int) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeSubmitError(); err != nil {
		return common.Hash{}, err
	}
	_, _, txHash := s.mine("approve")
	s.approveCalls = append(s.approveCalls, ApproveCall{Spender: spender, Amount: amount.Clone()})
	return txHash, nil
}

// WaitConfirmed implements ReceiptWaiter.
func (s *Sim) WaitConfirmed(ctx context.Context, tx common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failConfirm {
		s.failConfirm = false
		return ErrTxReverted
	}
	ok, known := s.receipts[tx]
	if !known {
		return ErrSimUnknownTx
	}
	if !ok {
		return ErrTxReverted
	}
	return nil
}

// BlockNumber implements LogReader.
func (s *Sim) BlockNumber(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockNum, nil
}

// HeaderByHash implements LogReader.
func (s *Sim) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.headers[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return h, nil
}

// FilterLogs implements LogReader with the same address, block-range, and
// positional-topic semantics as eth_getLogs.
func (s *Sim) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Log
	for _, lg := range s.logs {
		if !addressMatches(q.Addresses, lg.Address) {
			continue
		}
		if q.FromBlock != nil && lg.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if !topicsMatch(q.Topics, lg.Topics) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

// ShieldCalls returns the recorded shield submissions.
func (s *Sim) ShieldCalls() []ShieldCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ShieldCall(nil), s.shieldCalls...)
}

// ApproveCalls returns the recorded ERC-20 approvals.
func (s *Sim) ApproveCalls() []ApproveCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ApproveCall(nil), s.approveCalls...)
}

// NullifierSpent reports whether the nullifier has been published.
func (s *Sim) NullifierSpent(n common.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spent[n]
}

func addressMatches(addrs []common.Address, a common.Address) bool {
	if len(addrs) == 0 {
		return true
	}
	for _, want := range addrs {
		if want == a {
			return true
		}
	}
	return false
}

func topicsMatch(filter [][]common.Hash, topics []common.Hash) bool {
	for i, allowed := range filter {
		if len(allowed) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, h := range allowed {
			if topics[i] == h {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
