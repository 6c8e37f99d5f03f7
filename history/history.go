// Package history rebuilds a wallet's activity log from converter contract
// events. Nothing is stored locally: each reconciliation scans the chain
// backward over a bounded window and classifies every event that touches one
// of the wallet's notes.
package history

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/privacypay/privacypay/chain"
	"github.com/privacypay/privacypay/log"
	"github.com/privacypay/privacypay/note"
)

// Scan bounds. The lookback caps how far a reconciliation reaches; the chunk
// size keeps each eth_getLogs call inside provider limits.
const (
	DefaultChunkSize = 2000
	DefaultLookback  = 200_000
)

// Kind classifies one history entry from the wallet's point of view.
type Kind string

const (
	// KindDeposit is a shield whose commitment belongs to this wallet.
	KindDeposit Kind = "deposit"
	// KindReceived is a private transfer creating a commitment this wallet
	// holds the note for.
	KindReceived Kind = "received"
	// KindSent is a private transfer publishing a nullifier from one of this
	// wallet's notes.
	KindSent Kind = "sent"
	// KindWithdrawal is an unshield publishing one of this wallet's
	// nullifiers.
	KindWithdrawal Kind = "withdrawal"
)

// Entry is one reconciled event. Timestamp is the block time in unix
// seconds; when the block header could not be resolved the entry is marked
// Pending and the timestamp is zero.
type Entry struct {
	Kind        Kind
	TxHash      common.Hash
	BlockNumber uint64
	Timestamp   uint64
	Pending     bool

	// Amount is the decimal token amount where the event carries one
	// (deposits and withdrawals from log data, received transfers from the
	// matching note). Empty for sent transfers, whose amount is not on chain.
	Amount     string
	Commitment common.Hash
	Nullifier  common.Hash
}

// Options configures a reconciler.
type Options struct {
	Reader    chain.LogReader
	Converter common.Address
	Store     *note.Store
	Logger    *log.Logger
	// ChunkSize and Lookback default to DefaultChunkSize and
	// DefaultLookback when zero.
	ChunkSize uint64
	Lookback  uint64
}

// Reconciler scans converter logs and classifies them against the local note
// store.
type Reconciler struct {
	reader    chain.LogReader
	converter common.Address
	store     *note.Store
	lg        *log.Logger
	chunk     uint64
	lookback  uint64
}

// New creates a reconciler.
func New(opts Options) *Reconciler {
	lg := opts.Logger
	if lg == nil {
		lg = log.Default()
	}
	chunk := opts.ChunkSize
	if chunk == 0 {
		chunk = DefaultChunkSize
	}
	lookback := opts.Lookback
	if lookback == 0 {
		lookback = DefaultLookback
	}
	return &Reconciler{
		reader:    opts.Reader,
		converter: opts.Converter,
		store:     opts.Store,
		lg:        lg.Module("history"),
		chunk:     chunk,
		lookback:  lookback,
	}
}

// noteIndex maps the wallet's commitments and spent nullifiers for O(1)
// event classification. Commitments are indexed for every note, spent or
// not, since their shield and receive events are the history being rebuilt.
// Nullifiers are indexed only for spent notes: an unspent note's nullifier
// has never been published, so a chain event carrying it cannot be ours.
type noteIndex struct {
	commitments map[common.Hash]string // commitment -> amount
	nullifiers  map[common.Hash]bool   // spent nullifiers only
}

func (r *Reconciler) index() noteIndex {
	idx := noteIndex{
		commitments: make(map[common.Hash]string),
		nullifiers:  make(map[common.Hash]bool),
	}
	for _, sn := range r.store.All() {
		idx.commitments[sn.Commitment] = sn.Amount
		if sn.Spent {
			idx.nullifiers[sn.Nullifier] = true
		}
	}
	return idx
}

// Reconcile scans the lookback window newest-first and returns every event
// involving one of the wallet's notes, newest first. A header lookup failure
// downgrades the affected entries to Pending rather than failing the scan; a
// log query failure aborts, since a silently truncated history is worse than
// an error.
func (r *Reconciler) Reconcile(ctx context.Context) ([]Entry, error) {
	head, err := r.reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: reading chain head: %w", err)
	}
	idx := r.index()

	var floor uint64
	if head > r.lookback {
		floor = head - r.lookback
	}

	var entries []Entry
	times := make(map[common.Hash]uint64) // block hash -> time, 0 = unresolved

	end := head
	for {
		start := floor
		if end >= r.chunk && end-r.chunk+1 > floor {
			start = end - r.chunk + 1
		}
		logs, err := r.reader.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{r.converter},
			Topics: [][]common.Hash{
				{chain.ShieldTopic, chain.PrivateTransferTopic, chain.UnshieldTopic},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("history: filtering blocks %d-%d: %w", start, end, err)
		}
		for _, l := range logs {
			e, ok := r.classify(l, idx)
			if !ok {
				continue
			}
			ts, cached := times[l.BlockHash]
			if !cached {
				ts = r.blockTime(ctx, l.BlockHash)
				times[l.BlockHash] = ts
			}
			if ts == 0 {
				e.Pending = true
			} else {
				e.Timestamp = ts
			}
			entries = append(entries, e)
		}
		if start <= floor {
			break
		}
		end = start - 1
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].BlockNumber > entries[j].BlockNumber
	})
	r.lg.Debug("reconciled history", "entries", len(entries), "from", floor, "to", head)
	return entries, nil
}

func (r *Reconciler) blockTime(ctx context.Context, blockHash common.Hash) uint64 {
	h, err := r.reader.HeaderByHash(ctx, blockHash)
	if err != nil {
		r.lg.Warn("header unresolved, marking entries pending", "block", blockHash, "err", err)
		return 0
	}
	return h.Time
}

// classify matches one converter log against the wallet's notes. Events that
// involve none of them are dropped.
func (r *Reconciler) classify(l types.Log, idx noteIndex) (Entry, bool) {
	if len(l.Topics) < 2 {
		return Entry{}, false
	}
	e := Entry{TxHash: l.TxHash, BlockNumber: l.BlockNumber}
	switch l.Topics[0] {
	case chain.ShieldTopic:
		commitment := l.Topics[1]
		if _, mine := idx.commitments[commitment]; !mine {
			return Entry{}, false
		}
		e.Kind = KindDeposit
		e.Commitment = commitment
		e.Amount = dataAmount(l.Data)
		return e, true

	case chain.PrivateTransferTopic:
		if len(l.Topics) < 3 {
			return Entry{}, false
		}
		nullifier, commitment := l.Topics[1], l.Topics[2]
		amount, ownCommitment := idx.commitments[commitment]
		if idx.nullifiers[nullifier] {
			// Own spent nullifier into an owned commitment is a transfer to
			// self; it moves no value and is not listed.
			if ownCommitment {
				return Entry{}, false
			}
			e.Kind = KindSent
			e.Nullifier = nullifier
			e.Commitment = commitment
			return e, true
		}
		if ownCommitment {
			e.Kind = KindReceived
			e.Commitment = commitment
			e.Amount = amount
			return e, true
		}
		return Entry{}, false

	case chain.UnshieldTopic:
		nullifier := l.Topics[1]
		if !idx.nullifiers[nullifier] {
			return Entry{}, false
		}
		e.Kind = KindWithdrawal
		e.Nullifier = nullifier
		e.Amount = dataAmount(l.Data)
		return e, true
	}
	return Entry{}, false
}

func dataAmount(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return new(uint256.Int).SetBytes(data).Dec()
}
