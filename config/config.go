// Package config holds the token registry and relayer daemon configuration,
// loaded from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownToken = errors.New("config: unknown token symbol")

	hexAddrRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	hexKeyRe  = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
)

// Token describes one token/converter pairing. A note is only valid within
// one converter's namespace, so the pairing travels with every note.
type Token struct {
	Symbol    string `yaml:"symbol"`
	Converter string `yaml:"converter"`
	// ERC20 is the underlying token contract; empty for the native asset.
	ERC20    string `yaml:"erc20,omitempty"`
	Decimals uint8  `yaml:"decimals"`
	Native   bool   `yaml:"native,omitempty"`
}

// Validate checks the pairing is usable before any chain call sees it.
func (t Token) Validate() error {
	if t.Symbol == "" {
		return errors.New("config: token symbol is empty")
	}
	if !hexAddrRe.MatchString(t.Converter) {
		return fmt.Errorf("config: token %s: converter %q is not a 20-byte hex address", t.Symbol, t.Converter)
	}
	if !t.Native && t.ERC20 != "" && !hexAddrRe.MatchString(t.ERC20) {
		return fmt.Errorf("config: token %s: erc20 %q is not a 20-byte hex address", t.Symbol, t.ERC20)
	}
	if t.Native && t.ERC20 != "" {
		return fmt.Errorf("config: token %s: native tokens have no erc20 address", t.Symbol)
	}
	if t.Decimals > 36 {
		return fmt.Errorf("config: token %s: decimals %d out of range", t.Symbol, t.Decimals)
	}
	return nil
}

// ConverterAddress returns the converter as a parsed address. Validate must
// have passed.
func (t Token) ConverterAddress() common.Address {
	return common.HexToAddress(t.Converter)
}

// ERC20Address returns the underlying token contract address.
func (t Token) ERC20Address() common.Address {
	return common.HexToAddress(t.ERC20)
}

// Registry is the set of supported token pairings.
type Registry struct {
	Tokens []Token `yaml:"tokens"`
}

// Validate checks every token and rejects duplicate symbols.
func (r *Registry) Validate() error {
	seen := make(map[string]bool, len(r.Tokens))
	for _, t := range r.Tokens {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Symbol] {
			return fmt.Errorf("config: duplicate token symbol %s", t.Symbol)
		}
		seen[t.Symbol] = true
	}
	return nil
}

// Lookup finds a token by symbol.
func (r *Registry) Lookup(symbol string) (Token, error) {
	for _, t := range r.Tokens {
		if t.Symbol == symbol {
			return t, nil
		}
	}
	return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
}

// LoadRegistry reads and validates a token registry YAML file.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading registry: %w", err)
	}
	var r Registry
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("config: parsing registry: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Relayer configures the relayer daemon: where it listens, which chain it
// forwards to, and the key it signs with.
type Relayer struct {
	Listen string `yaml:"listen"`
	RPCURL string `yaml:"rpcUrl"`
	// SigningKey is the relayer's transaction-signing key, 32-byte hex.
	// Payload encryption keys are unrelated; the relayer never sees those.
	SigningKey string `yaml:"signingKey"`
	ChainID    uint64 `yaml:"chainId"`
	LogLevel   string `yaml:"logLevel,omitempty"`
}

// Validate rejects incomplete relayer configuration.
func (c *Relayer) Validate() error {
	if c.Listen == "" {
		return errors.New("config: relayer listen address is empty")
	}
	if c.RPCURL == "" {
		return errors.New("config: relayer rpcUrl is empty")
	}
	if !hexKeyRe.MatchString(c.SigningKey) {
		return errors.New("config: relayer signingKey is not 32-byte hex")
	}
	if c.ChainID == 0 {
		return errors.New("config: relayer chainId is zero")
	}
	return nil
}

// DefaultRelayer returns the development defaults the original relayer used.
func DefaultRelayer() Relayer {
	return Relayer{
		Listen:   ":3001",
		LogLevel: "info",
	}
}

// LoadRelayer reads and validates a relayer config YAML file, applied over
// the defaults.
func LoadRelayer(path string) (*Relayer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading relayer config: %w", err)
	}
	c := DefaultRelayer()
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: parsing relayer config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
