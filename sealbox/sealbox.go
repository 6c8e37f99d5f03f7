// Package sealbox implements sender-anonymous public-key encryption for note
// delivery, compatible with libsodium's crypto_box_seal: an ephemeral X25519
// keypair is generated per message, the nonce is BLAKE2b-24(epk || rpk), and
// the ephemeral public key is prepended to the box. Anyone holding the
// recipient's public key can seal; only the matching private key opens; the
// recipient cannot identify the sender from the ciphertext. That anonymity is
// deliberate; the relayer mailbox is keyed by recipient address only.
package sealbox

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/box"
)

// Overhead is the number of bytes a sealed message grows by: the 32-byte
// ephemeral public key plus the 16-byte poly1305 tag.
const Overhead = 32 + box.Overhead

var errShortCiphertext = errors.New("sealbox: ciphertext shorter than overhead")

// sealNonce derives the deterministic sealed-box nonce from the ephemeral
// and recipient public keys.
func sealNonce(epk, rpk *[32]byte) ([24]byte, error) {
	var nonce [24]byte
	h, err := blake2b.New(24, nil)
	if err != nil {
		return nonce, err
	}
	h.Write(epk[:])
	h.Write(rpk[:])
	copy(nonce[:], h.Sum(nil))
	return nonce, nil
}

// Seal encrypts msg to the recipient public key. The output carries the
// ephemeral public key followed by the NaCl box; nothing in it identifies
// the sender.
func Seal(msg []byte, recipientPub *[32]byte) ([]byte, error) {
	epk, esk, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sealbox: generating ephemeral key: %w", err)
	}
	nonce, err := sealNonce(epk, recipientPub)
	if err != nil {
		return nil, fmt.Errorf("sealbox: deriving nonce: %w", err)
	}
	out := make([]byte, 32, 32+len(msg)+box.Overhead)
	copy(out, epk[:])
	return box.Seal(out, msg, &nonce, recipientPub, esk), nil
}

// Open decrypts a sealed message addressed to the given keypair. It returns
// false for any ciphertext that is malformed or not sealed to this identity;
// callers treat that as "skip", never as fatal.
func Open(sealed []byte, pub, priv *[32]byte) ([]byte, bool) {
	if len(sealed) < Overhead {
		return nil, false
	}
	var epk [32]byte
	copy(epk[:], sealed[:32])
	nonce, err := sealNonce(&epk, pub)
	if err != nil {
		return nil, false
	}
	return box.Open(nil, sealed[32:], &nonce, &epk, priv)
}
