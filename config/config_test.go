package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRegistry(t *testing.T) {
	path := writeFile(t, "tokens.yaml", `
tokens:
  - symbol: USDC
    converter: "0x00000000000000000000000000000000000c0ffe"
    erc20: "0x0000000000000000000000000000000000000001"
    decimals: 6
  - symbol: AVAX
    converter: "0x0000000000000000000000000000000000000002"
    decimals: 18
    native: true
`)
	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	usdc, err := r.Lookup("USDC")
	if err != nil {
		t.Fatal(err)
	}
	if usdc.Decimals != 6 || usdc.Native {
		t.Fatalf("USDC = %+v", usdc)
	}
	avax, err := r.Lookup("AVAX")
	if err != nil {
		t.Fatal(err)
	}
	if !avax.Native || avax.ERC20 != "" {
		t.Fatalf("AVAX = %+v", avax)
	}
	if _, err := r.Lookup("DOGE"); err == nil {
		t.Fatal("unknown symbol did not fail")
	}
}

func TestRegistryValidation(t *testing.T) {
	cases := []struct {
		name string
		tok  Token
	}{
		{"empty symbol", Token{Converter: "0x0000000000000000000000000000000000000001", Decimals: 6}},
		{"bad converter", Token{Symbol: "X", Converter: "0x123", Decimals: 6}},
		{"native with erc20", Token{Symbol: "X", Converter: "0x0000000000000000000000000000000000000001", ERC20: "0x0000000000000000000000000000000000000002", Native: true}},
		{"decimals out of range", Token{Symbol: "X", Converter: "0x0000000000000000000000000000000000000001", Decimals: 77}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.tok.Validate(); err == nil {
				t.Errorf("%+v validated", tc.tok)
			}
		})
	}

	dup := Registry{Tokens: []Token{
		{Symbol: "X", Converter: "0x0000000000000000000000000000000000000001", Decimals: 6},
		{Symbol: "X", Converter: "0x0000000000000000000000000000000000000002", Decimals: 6},
	}}
	if err := dup.Validate(); err == nil {
		t.Error("duplicate symbols validated")
	}
}

func TestLoadRelayer(t *testing.T) {
	path := writeFile(t, "relayer.yaml", `
listen: ":4000"
rpcUrl: "https://api.avax-test.network/ext/bc/C/rpc"
signingKey: "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
chainId: 43113
`)
	c, err := LoadRelayer(path)
	if err != nil {
		t.Fatalf("LoadRelayer: %v", err)
	}
	if c.Listen != ":4000" || c.ChainID != 43113 {
		t.Fatalf("config = %+v", c)
	}

	bad := writeFile(t, "bad.yaml", "listen: \":4000\"\nrpcUrl: x\nsigningKey: nope\nchainId: 1\n")
	if _, err := LoadRelayer(bad); err == nil {
		t.Fatal("invalid signing key accepted")
	}
}
