// Package wallet orchestrates the shielded-note lifecycle for one
// token/converter pairing: shielding public value into fresh notes, spending
// notes through private transfer and unshield, and draining the relayer
// mailbox into the local store. One Wallet is bound to one token config;
// callers working across tokens construct one Wallet per pairing.
//
// Atomicity rule: chain confirmation is always awaited before any note-store
// mutation, so a failed or rejected operation leaves the ledger untouched
// and a persisted unspent note always has an accepted on-chain commitment
// behind it.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/privacypay/privacypay/chain"
	"github.com/privacypay/privacypay/config"
	"github.com/privacypay/privacypay/log"
	"github.com/privacypay/privacypay/note"
	"github.com/privacypay/privacypay/relayer"
	"github.com/privacypay/privacypay/sealbox"
)

// Errors surfaced by wallet operations. Precondition failures reject before
// any network call and never mutate the store.
var (
	ErrNoteSpent               = errors.New("wallet: note already spent")
	ErrTokenMismatch           = errors.New("wallet: note does not belong to this token/converter pairing")
	ErrInsufficientNoteBalance = errors.New("wallet: no single unspent note covers the requested amount")
	ErrChainOperationFailed    = errors.New("wallet: chain operation failed")
	// ErrConfirmationTimeout means the outcome is unknown, not failed: the
	// transaction may still confirm. The operation is never retried with
	// fresh randomness, which would risk duplicate commitments.
	ErrConfirmationTimeout = errors.New("wallet: confirmation wait expired, outcome unknown")
	ErrSealPayload         = errors.New("wallet: sealing note payload failed")
)

// Relayer is the slice of the mailbox client the orchestrator depends on.
type Relayer interface {
	SendEncryptedNote(ctx context.Context, req relayer.SendEncryptedNoteRequest) (common.Hash, error)
	Unshield(ctx context.Context, req relayer.UnshieldRequest) (common.Hash, error)
	FetchEncryptedNotes(ctx context.Context, owner common.Address) ([]relayer.EncryptedNote, error)
}

// Options wires a wallet's collaborators.
type Options struct {
	Owner     common.Address
	Token     config.Token
	Store     *note.Store
	Codec     *sealbox.Codec
	Converter chain.Converter
	// ERC20 is the underlying token contract, required unless Token.Native.
	ERC20   chain.ERC20
	Waiter  chain.ReceiptWaiter
	Relayer Relayer
	Logger  *log.Logger
}

// Wallet is the per-token orchestrator.
type Wallet struct {
	owner  common.Address
	token  config.Token
	filter note.Filter

	store  *note.Store
	codec  *sealbox.Codec
	conv   chain.Converter
	erc20  chain.ERC20
	waiter chain.ReceiptWaiter
	relay  Relayer
	lg     *log.Logger
}

// New validates the wiring and returns a wallet bound to one token config.
func New(opts Options) (*Wallet, error) {
	if opts.Owner == (common.Address{}) {
		return nil, errors.New("wallet: owner address is required")
	}
	if err := opts.Token.Validate(); err != nil {
		return nil, err
	}
	if opts.Store == nil || opts.Codec == nil || opts.Converter == nil || opts.Waiter == nil || opts.Relayer == nil {
		return nil, errors.New("wallet: store, codec, converter, waiter, and relayer are all required")
	}
	if !opts.Token.Native && opts.ERC20 == nil {
		return nil, errors.New("wallet: non-native tokens require an ERC20 client for approvals")
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.Default()
	}
	return &Wallet{
		owner: opts.Owner,
		token: opts.Token,
		filter: note.Filter{
			TokenSymbol:      opts.Token.Symbol,
			ConverterAddress: opts.Token.ConverterAddress(),
		},
		store:  opts.Store,
		codec:  opts.Codec,
		conv:   opts.Converter,
		erc20:  opts.ERC20,
		waiter: opts.Waiter,
		relay:  opts.Relayer,
		lg:     lg.Module("wallet").With("token", opts.Token.Symbol),
	}, nil
}

// Balance returns the private balance for this token: the sum of unspent
// note amounts.
func (w *Wallet) Balance() *uint256.Int {
	return w.store.SumUnspent(w.filter)
}

// UnspentNotes lists the spendable notes for this token, oldest first.
func (w *Wallet) UnspentNotes() []note.StoredNote {
	return w.store.Unspent(w.filter)
}

// confirm awaits a submitted transaction. Context expiry maps to
// ErrConfirmationTimeout (outcome unknown); everything else to
// ErrChainOperationFailed.
func (w *Wallet) confirm(ctx context.Context, tx common.Hash) error {
	if err := w.waiter.WaitConfirmed(ctx, tx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: tx %s", ErrConfirmationTimeout, tx)
		}
		return fmt.Errorf("%w: tx %s: %v", ErrChainOperationFailed, tx, err)
	}
	return nil
}

// ShieldResult reports a settled shield operation.
type ShieldResult struct {
	TxHash     common.Hash
	NoteID     string
	Commitment common.Hash
}

// Shield converts public balance into a fresh private note. For non-native
// tokens an allowance covering the amount is granted and confirmed first;
// an approval failure aborts before the shield is attempted. The note is
// persisted only after the shield transaction confirms.
func (w *Wallet) Shield(ctx context.Context, amount string) (*ShieldResult, error) {
	v, err := note.ParsePositiveAmount(amount)
	if err != nil {
		return nil, err
	}

	if !w.token.Native {
		w.lg.Info("approving converter allowance", "amount", amount)
		approveTx, err := w.erc20.Approve(ctx, w.token.ConverterAddress(), v)
		if err != nil {
			return nil, fmt.Errorf("%w: approve: %v", ErrChainOperationFailed, err)
		}
		if err := w.confirm(ctx, approveTx); err != nil {
			return nil, err
		}
	}

	d, err := note.GenerateCommitment(amount, w.owner)
	if err != nil {
		return nil, err
	}

	w.lg.Info("submitting shield", "commitment", d.Commitment)
	tx, err := w.conv.Shield(ctx, v, d.Commitment)
	if err != nil {
		return nil, fmt.Errorf("%w: shield: %v", ErrChainOperationFailed, err)
	}
	if err := w.confirm(ctx, tx); err != nil {
		return nil, err
	}

	n := note.NewNote(d, amount, w.token.Symbol, w.token.ConverterAddress(), w.token.Decimals)
	id, err := w.store.Insert(n)
	if err != nil {
		return nil, err
	}
	w.lg.Info("shield settled", "tx", tx, "note", id)
	return &ShieldResult{TxHash: tx, NoteID: id, Commitment: d.Commitment}, nil
}

// SelectFundingNote picks the note that funds a requested amount: the
// smallest sufficient unspent note, ties broken by earliest creation time
// then id. The policy is deterministic so spends are reproducible. If no
// single note covers the amount it fails with ErrInsufficientNoteBalance;
// notes are never aggregated into one spend; see DESIGN.md for the
// aggregation limitation.
func (w *Wallet) SelectFundingNote(amount string) (note.StoredNote, error) {
	v, err := note.ParsePositiveAmount(amount)
	if err != nil {
		return note.StoredNote{}, err
	}
	var (
		best    note.StoredNote
		bestAmt *uint256.Int
	)
	for _, sn := range w.store.Unspent(w.filter) {
		na, err := note.ParseAmount(sn.Amount)
		if err != nil || na.Lt(v) {
			continue
		}
		if bestAmt == nil || na.Lt(bestAmt) {
			best, bestAmt = sn, na
		}
	}
	if bestAmt == nil {
		return note.StoredNote{}, ErrInsufficientNoteBalance
	}
	return best, nil
}

// checkFunding loads and validates a funding note against the requested
// amount. Returns the note and its parsed amount.
func (w *Wallet) checkFunding(noteID string, v *uint256.Int) (note.Note, *uint256.Int, error) {
	n, err := w.store.Get(noteID)
	if err != nil {
		return note.Note{}, nil, err
	}
	if n.Spent {
		return note.Note{}, nil, ErrNoteSpent
	}
	if n.TokenSymbol != w.token.Symbol || n.ConverterAddress != w.token.ConverterAddress() {
		return note.Note{}, nil, ErrTokenMismatch
	}
	na, err := note.ParseAmount(n.Amount)
	if err != nil {
		return note.Note{}, nil, err
	}
	if na.Lt(v) {
		return note.Note{}, nil, ErrInsufficientNoteBalance
	}
	return n, na, nil
}

// changeNote derives a self-owned change note for the remainder, or nil
// when the spend is exact. No value is created or destroyed: the change is
// exactly noteAmount - spendAmount.
func (w *Wallet) changeNote(noteAmt, v *uint256.Int) (*note.Note, error) {
	if noteAmt.Eq(v) {
		return nil, nil
	}
	changeAmt := new(uint256.Int).Sub(noteAmt, v)
	d, err := note.GenerateCommitment(changeAmt.Dec(), w.owner)
	if err != nil {
		return nil, err
	}
	n := note.NewNote(d, changeAmt.Dec(), w.token.Symbol, w.token.ConverterAddress(), w.token.Decimals)
	return &n, nil
}

// TransferResult reports a settled private transfer.
type TransferResult struct {
	TxHash       common.Hash
	Commitment   common.Hash // recipient's new commitment
	ChangeNoteID string      // empty when the spend was exact
}

// PrivateTransfer spends the funding note to send amount to the recipient:
// a recipient-owned note is derived, sealed to their public key, and handed
// to the relayer together with the on-chain spend. Only after the chain
// accepts is the funding note marked spent and any change note inserted,
// in a single store update. Failure at any earlier step leaves the store
// unchanged.
func (w *Wallet) PrivateTransfer(ctx context.Context, noteID, amount string, recipient common.Address, recipientKeyBase64 string) (*TransferResult, error) {
	v, err := note.ParsePositiveAmount(amount)
	if err != nil {
		return nil, err
	}
	n, noteAmt, err := w.checkFunding(noteID, v)
	if err != nil {
		return nil, err
	}

	// Recipient-owned note for exactly the transferred amount, scoped to
	// their address.
	recipientNote, err := note.GenerateCommitment(amount, recipient)
	if err != nil {
		return nil, err
	}
	change, err := w.changeNote(noteAmt, v)
	if err != nil {
		return nil, err
	}

	sealed, err := w.codec.EncryptForRecipient(sealbox.NotePayload{
		Nullifier:        recipientNote.Nullifier,
		Secret:           recipientNote.Secret,
		Commitment:       recipientNote.Commitment,
		Amount:           amount,
		TokenSymbol:      n.TokenSymbol,
		Decimals:         n.Decimals,
		ConverterAddress: n.ConverterAddress,
	}, recipientKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealPayload, err)
	}

	w.lg.Info("delivering sealed note", "recipient", recipient, "commitment", recipientNote.Commitment)
	tx, err := w.relay.SendEncryptedNote(ctx, relayer.SendEncryptedNoteRequest{
		RecipientWalletAddress: recipient,
		EncryptedNotePayload:   sealed,
		CommitmentForRecipient: recipientNote.Commitment,
		NullifierToSpend:       n.Nullifier,
		ConverterAddress:       n.ConverterAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sendEncryptedNote: %v", ErrChainOperationFailed, err)
	}
	if err := w.confirm(ctx, tx); err != nil {
		return nil, err
	}

	changeID, err := w.store.SpendAndInsert(noteID, change)
	if err != nil {
		return nil, err
	}
	w.lg.Info("private transfer settled", "tx", tx, "change", changeID)
	return &TransferResult{TxHash: tx, Commitment: recipientNote.Commitment, ChangeNoteID: changeID}, nil
}

// UnshieldResult reports a settled unshield.
type UnshieldResult struct {
	TxHash       common.Hash
	ChangeNoteID string
}

// Unshield spends the funding note back to the owner's public balance via
// the relayer. The same atomicity rule as PrivateTransfer applies: the
// spend and any change note land in the store only after chain acceptance.
func (w *Wallet) Unshield(ctx context.Context, noteID, amount string) (*UnshieldResult, error) {
	v, err := note.ParsePositiveAmount(amount)
	if err != nil {
		return nil, err
	}
	n, noteAmt, err := w.checkFunding(noteID, v)
	if err != nil {
		return nil, err
	}
	change, err := w.changeNote(noteAmt, v)
	if err != nil {
		return nil, err
	}

	w.lg.Info("submitting unshield", "amount", amount)
	tx, err := w.relay.Unshield(ctx, relayer.UnshieldRequest{
		Nullifier:        n.Nullifier,
		Recipient:        w.owner,
		Amount:           amount,
		ConverterAddress: n.ConverterAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: unshield: %v", ErrChainOperationFailed, err)
	}
	if err := w.confirm(ctx, tx); err != nil {
		return nil, err
	}

	changeID, err := w.store.SpendAndInsert(noteID, change)
	if err != nil {
		return nil, err
	}
	w.lg.Info("unshield settled", "tx", tx, "change", changeID)
	return &UnshieldResult{TxHash: tx, ChangeNoteID: changeID}, nil
}

// DrainResult reports one mailbox drain.
type DrainResult struct {
	Accepted int
	Skipped  int
	NoteIDs  []string
}

// DrainMailbox fetches and processes every sealed payload waiting for the
// owner. Each entry is decrypted, checked against the mailbox commitment,
// and schema-validated; a bad entry is skipped without aborting the batch.
// All accepted notes are inserted in one store update. The mailbox read is
// destructive on the relayer, so the insert must succeed before the drain
// counts as complete: an insert failure here is a real data-loss signal
// and is returned as an error with the decrypted notes still in hand.
func (w *Wallet) DrainMailbox(ctx context.Context) (*DrainResult, error) {
	entries, err := w.relay.FetchEncryptedNotes(ctx, w.owner)
	if err != nil {
		return nil, fmt.Errorf("%w: fetchEncryptedNotes: %v", ErrChainOperationFailed, err)
	}
	res := &DrainResult{}
	var accepted []note.Note
	for _, e := range entries {
		p, ok := w.codec.DecryptOwn(e.EncryptedData)
		if !ok {
			w.lg.Warn("skipping undecryptable mailbox entry", "commitment", e.Commitment)
			res.Skipped++
			continue
		}
		if p.Commitment != e.Commitment {
			w.lg.Warn("skipping mailbox entry with commitment mismatch",
				"entry", e.Commitment, "payload", p.Commitment)
			res.Skipped++
			continue
		}
		accepted = append(accepted, note.NewNote(note.Derived{
			Nullifier:  p.Nullifier,
			Secret:     p.Secret,
			Commitment: p.Commitment,
		}, p.Amount, p.TokenSymbol, p.ConverterAddress, p.Decimals))
	}

	ids, err := w.store.InsertBatch(accepted)
	if err != nil {
		return nil, err
	}
	res.Accepted = len(ids)
	res.NoteIDs = ids
	if res.Accepted > 0 || res.Skipped > 0 {
		w.lg.Info("mailbox drained", "accepted", res.Accepted, "skipped", res.Skipped)
	}
	return res, nil
}
