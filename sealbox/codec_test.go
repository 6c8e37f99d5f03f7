package sealbox

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testIdentity(t *testing.T) *Identity {
	t.Helper()
	id, err := LoadOrCreateIdentity(filepath.Join(t.TempDir(), "identity.json"))
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	return id
}

func testPayload() NotePayload {
	return NotePayload{
		Nullifier:        common.HexToHash("0x01"),
		Secret:           common.HexToHash("0x02"),
		Commitment:       common.HexToHash("0x03"),
		Amount:           "400000",
		TokenSymbol:      "USDC",
		Decimals:         6,
		ConverterAddress: common.HexToAddress("0x00000000000000000000000000000000000c0ffe"),
	}
}

func TestCodecRoundTrip(t *testing.T) {
	id := testIdentity(t)
	codec := NewCodec(id, nil)

	ct, err := codec.EncryptForRecipient(testPayload(), id.PublicKeyBase64())
	if err != nil {
		t.Fatalf("EncryptForRecipient: %v", err)
	}
	got, ok := codec.DecryptOwn(ct)
	if !ok {
		t.Fatal("DecryptOwn failed on own payload")
	}
	if *got != testPayload() {
		t.Fatalf("payload mismatch: %+v", got)
	}
}

func TestDecryptOwnSkipsBadInput(t *testing.T) {
	codec := NewCodec(testIdentity(t), nil)

	if _, ok := codec.DecryptOwn("not-base64!!!"); ok {
		t.Error("accepted malformed base64")
	}
	if _, ok := codec.DecryptOwn(base64.StdEncoding.EncodeToString([]byte("too short"))); ok {
		t.Error("accepted undersized ciphertext")
	}

	// Sealed to someone else entirely.
	other := NewCodec(testIdentity(t), nil)
	ct, err := other.EncryptForRecipient(testPayload(), other.id.PublicKeyBase64())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := codec.DecryptOwn(ct); ok {
		t.Error("decrypted a payload addressed to another identity")
	}
}

func TestDecryptOwnRejectsIncompletePayload(t *testing.T) {
	id := testIdentity(t)
	codec := NewCodec(id, nil)

	p := testPayload()
	p.Secret = common.Hash{}
	ct, err := codec.EncryptForRecipient(p, id.PublicKeyBase64())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := codec.DecryptOwn(ct); ok {
		t.Fatal("accepted payload with missing secret")
	}
}

func TestEncryptRejectsBadRecipientKey(t *testing.T) {
	codec := NewCodec(testIdentity(t), nil)
	for _, key := range []string{"", "xx", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := codec.EncryptForRecipient(testPayload(), key); err != ErrBadRecipientKey {
			t.Errorf("key %q: err = %v, want ErrBadRecipientKey", key, err)
		}
	}
}

func TestIdentityPersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	first, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatal(err)
	}
	if first.PublicKeyBase64() != second.PublicKeyBase64() {
		t.Fatal("reload regenerated the identity")
	}
}

func TestCorruptIdentityIsNotOverwritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateIdentity(path); err == nil {
		t.Fatal("corrupt identity silently replaced")
	}
	raw, err := os.ReadFile(path)
	if err != nil || string(raw) != "{broken" {
		t.Fatal("corrupt identity file was modified")
	}
}

func TestRotateReplacesKeypair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	id, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatal(err)
	}
	codec := NewCodec(id, nil)
	ct, err := codec.EncryptForRecipient(testPayload(), id.PublicKeyBase64())
	if err != nil {
		t.Fatal(err)
	}

	oldPub := id.PublicKeyBase64()
	if err := id.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if id.PublicKeyBase64() == oldPub {
		t.Fatal("rotation kept the old public key")
	}
	if _, ok := codec.DecryptOwn(ct); ok {
		t.Fatal("payload sealed to old key opened after rotation")
	}

	// The rotated key must be what a fresh load sees.
	reloaded, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.PublicKeyBase64() != id.PublicKeyBase64() {
		t.Fatal("rotated identity not persisted")
	}
}
