package sealbox

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/privacypay/privacypay/log"
	"github.com/privacypay/privacypay/note"
)

// ErrBadRecipientKey is returned when the recipient public key is not a
// base64-encoded 32-byte value.
var ErrBadRecipientKey = errors.New("sealbox: recipient public key is not a valid base64 32-byte key")

// NotePayload is the wire schema of a sealed note: everything the recipient
// needs to own and later spend the note. Decrypted blobs are decoded into
// this struct and validated field by field; a payload with missing pieces is
// rejected, never trusted by shape.
type NotePayload struct {
	Nullifier        common.Hash    `json:"nullifier"`
	Secret           common.Hash    `json:"secret"`
	Commitment       common.Hash    `json:"commitment"`
	Amount           string         `json:"amount"`
	TokenSymbol      string         `json:"tokenSymbol"`
	Decimals         uint8          `json:"decimals"`
	ConverterAddress common.Address `json:"converterAddress"`
}

// Validate rejects payloads missing any field a spendable note requires.
func (p *NotePayload) Validate() error {
	if p.Nullifier == (common.Hash{}) || p.Secret == (common.Hash{}) || p.Commitment == (common.Hash{}) {
		return errors.New("sealbox: payload missing nullifier, secret, or commitment")
	}
	if p.ConverterAddress == (common.Address{}) {
		return errors.New("sealbox: payload missing converter address")
	}
	if p.TokenSymbol == "" {
		return errors.New("sealbox: payload missing token symbol")
	}
	if _, err := note.ParsePositiveAmount(p.Amount); err != nil {
		return errors.New("sealbox: payload amount invalid")
	}
	return nil
}

// Codec seals note payloads for counterparties and opens payloads addressed
// to the local identity.
type Codec struct {
	id *Identity
	lg *log.Logger
}

// NewCodec binds a codec to the local sealed-delivery identity.
func NewCodec(id *Identity, lg *log.Logger) *Codec {
	if lg == nil {
		lg = log.Default()
	}
	return &Codec{id: id, lg: lg.Module("sealbox")}
}

// EncryptForRecipient seals the payload to the recipient's base64 public key
// and returns the ciphertext base64-encoded for transport.
func (c *Codec) EncryptForRecipient(p NotePayload, recipientPubBase64 string) (string, error) {
	rpk, err := base64.StdEncoding.DecodeString(recipientPubBase64)
	if err != nil || len(rpk) != 32 {
		return "", ErrBadRecipientKey
	}
	var pub [32]byte
	copy(pub[:], rpk)

	msg, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sealed, err := Seal(msg, &pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptOwn opens a base64 ciphertext sealed to the local identity. The
// second return is false (and the first nil) for ciphertexts that are
// malformed, addressed elsewhere, or carry an invalid payload. A false
// result means "skip this entry", not an error to abort on.
func (c *Codec) DecryptOwn(ciphertextBase64 string) (*NotePayload, bool) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		c.lg.Debug("ciphertext is not valid base64")
		return nil, false
	}
	msg, ok := Open(sealed, &c.id.pub, &c.id.priv)
	if !ok {
		c.lg.Debug("ciphertext not addressed to this identity")
		return nil, false
	}
	var p NotePayload
	if err := json.Unmarshal(msg, &p); err != nil {
		c.lg.Warn("decrypted payload is not valid JSON", "err", err)
		return nil, false
	}
	if err := p.Validate(); err != nil {
		c.lg.Warn("decrypted payload failed validation", "err", err)
		return nil, false
	}
	return &p, true
}
