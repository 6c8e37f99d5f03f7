// Package relayer implements both sides of the store-and-forward note
// mailbox: the HTTP client wallets use to deliver and drain sealed payloads,
// and the relayer service that forwards the paired contract call and holds
// payloads until the recipient fetches them.
package relayer

import (
	"github.com/ethereum/go-ethereum/common"
)

// SendEncryptedNoteRequest delivers a sealed payload together with the
// on-chain spend it belongs to. The relayer must land both or neither.
type SendEncryptedNoteRequest struct {
	RecipientWalletAddress common.Address `json:"recipientWalletAddress"`
	EncryptedNotePayload   string         `json:"encryptedNotePayload"`
	CommitmentForRecipient common.Hash    `json:"commitmentForRecipient"`
	NullifierToSpend       common.Hash    `json:"nullifierToSpend"`
	ConverterAddress       common.Address `json:"converterAddress"`
}

// UnshieldRequest asks the relayer to publish the nullifier and release the
// amount to the recipient's public balance.
type UnshieldRequest struct {
	Nullifier        common.Hash    `json:"nullifier"`
	Recipient        common.Address `json:"recipient"`
	Amount           string         `json:"amount"`
	ConverterAddress common.Address `json:"converterAddress"`
}

// PrivateTransferRequest is the legacy flow: publish a spend without any
// sealed payload attached. Kept for callers that deliver note data out of
// band.
type PrivateTransferRequest struct {
	Nullifier        common.Hash    `json:"nullifier"`
	NewCommitment    common.Hash    `json:"newCommitment"`
	ConverterAddress common.Address `json:"converterAddress"`
}

// EncryptedNote is one mailbox entry: the sealed payload plus the commitment
// it claims to describe. Recipients verify the decrypted payload against the
// commitment before accepting the note.
type EncryptedNote struct {
	Commitment    common.Hash `json:"commitment"`
	EncryptedData string      `json:"encryptedData"`
}

type hashResponse struct {
	Hash common.Hash `json:"hash"`
}

type notesResponse struct {
	Notes []EncryptedNote `json:"notes"`
}

type errorResponse struct {
	Error string `json:"error"`
}
