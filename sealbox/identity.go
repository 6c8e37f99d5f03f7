package sealbox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/box"
)

// ErrIdentityCorrupt is returned when the persisted keypair file exists but
// cannot be decoded. The file is left in place: silently regenerating over an
// existing identity would orphan every payload sealed to the old public key,
// so replacement must be an explicit Rotate call.
var ErrIdentityCorrupt = errors.New("sealbox: persisted identity is corrupt")

// Identity is the local sealed-delivery keypair.
type Identity struct {
	pub  [32]byte
	priv [32]byte
	path string
}

// identityFile is the serialized keypair, base64 like every other key field
// on the wire.
type identityFile struct {
	PublicKey string `json:"publicKey"`
	SecretKey string `json:"secretKey"`
}

// LoadOrCreateIdentity loads the keypair persisted at path, generating and
// persisting a fresh one only if the file does not exist. An existing pair is
// never regenerated implicitly.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		return decodeIdentity(raw, path)
	case errors.Is(err, os.ErrNotExist):
		return generateIdentity(path)
	default:
		return nil, fmt.Errorf("sealbox: reading identity: %w", err)
	}
}

func decodeIdentity(raw []byte, path string) (*Identity, error) {
	var f identityFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}
	pub, err1 := base64.StdEncoding.DecodeString(f.PublicKey)
	priv, err2 := base64.StdEncoding.DecodeString(f.SecretKey)
	if err1 != nil || err2 != nil || len(pub) != 32 || len(priv) != 32 {
		return nil, ErrIdentityCorrupt
	}
	id := &Identity{path: path}
	copy(id.pub[:], pub)
	copy(id.priv[:], priv)
	return id, nil
}

func generateIdentity(path string) (*Identity, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sealbox: generating identity: %w", err)
	}
	id := &Identity{pub: *pub, priv: *priv, path: path}
	if err := id.persist(); err != nil {
		return nil, err
	}
	return id, nil
}

func (id *Identity) persist() error {
	raw, err := json.Marshal(identityFile{
		PublicKey: base64.StdEncoding.EncodeToString(id.pub[:]),
		SecretKey: base64.StdEncoding.EncodeToString(id.priv[:]),
	})
	if err != nil {
		return fmt.Errorf("sealbox: encoding identity: %w", err)
	}
	dir := filepath.Dir(id.path)
	tmp, err := os.CreateTemp(dir, ".identity-*.tmp")
	if err != nil {
		return fmt.Errorf("sealbox: creating temp identity file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sealbox: writing identity: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("sealbox: closing identity: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("sealbox: restricting identity permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), id.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("sealbox: replacing identity: %w", err)
	}
	return nil
}

// PublicKeyBase64 returns the public key callers hand out so counterparties
// can seal notes to this identity.
func (id *Identity) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(id.pub[:])
}

// Rotate generates and persists a replacement keypair. Payloads sealed to
// the previous public key become undecryptable; this is the only code path
// that discards an identity, and callers must invoke it deliberately.
func (id *Identity) Rotate() error {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("sealbox: generating replacement identity: %w", err)
	}
	old := *id
	id.pub, id.priv = *pub, *priv
	if err := id.persist(); err != nil {
		id.pub, id.priv = old.pub, old.priv
		return err
	}
	return nil
}
