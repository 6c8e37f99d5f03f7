// Command relayer runs the privacypay relayer daemon: it submits converter
// spend transactions on behalf of wallets and holds sealed note payloads in
// a per-recipient mailbox until they are fetched.
//
// Usage:
//
//	relayer [flags]
//
// Flags:
//
//	--config   Relayer config YAML path (default: relayer.yaml)
//	--tokens   Token registry YAML path (default: tokens.yaml)
//	--listen   Listen address, overrides the config file
//	--version  Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/privacypay/privacypay/chain"
	"github.com/privacypay/privacypay/config"
	"github.com/privacypay/privacypay/log"
	"github.com/privacypay/privacypay/relayer"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	fs := flag.NewFlagSet("relayer", flag.ContinueOnError)
	configPath := fs.String("config", "relayer.yaml", "relayer config YAML path")
	tokensPath := fs.String("tokens", "tokens.yaml", "token registry YAML path")
	listen := fs.String("listen", "", "listen address, overrides the config file")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("relayer %s (commit %s)\n", version, commit)
		return 0
	}

	cfg, err := config.LoadRelayer(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	registry, err := config.LoadRegistry(*tokensPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	lg := log.New(parseLevel(cfg.LogLevel))
	log.SetDefault(lg)
	lg.Info("relayer starting",
		"version", version,
		"listen", cfg.Listen,
		"rpc", cfg.RPCURL,
		"chainId", cfg.ChainID,
		"tokens", len(registry.Tokens))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rpc, err := chain.DialRPC(ctx, cfg.RPCURL)
	if err != nil {
		lg.Error("chain dial failed", "err", err)
		return 1
	}
	defer rpc.Close()

	resolver, err := buildResolver(rpc, cfg, registry)
	if err != nil {
		lg.Error("converter setup failed", "err", err)
		return 1
	}

	srv := relayer.NewServer(relayer.ServerOptions{
		Resolver: resolver,
		Waiter:   rpc,
		Logger:   lg,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		lg.Error("serve failed", "err", err)
		return 1
	case <-ctx.Done():
	}

	lg.Info("signal received, shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		lg.Error("shutdown error", "err", err)
		return 1
	}
	lg.Info("shutdown complete")
	return 0
}

// buildResolver binds one signing converter client per registry entry. The
// relayer signs every forwarded spend with its own key; only addresses in
// the registry are served.
func buildResolver(rpc *chain.RPC, cfg *config.Relayer, registry *config.Registry) (relayer.ConverterResolver, error) {
	key, err := crypto.HexToECDSA(stripHexPrefix(cfg.SigningKey))
	if err != nil {
		return nil, fmt.Errorf("parsing signing key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, new(big.Int).SetUint64(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("building transactor: %w", err)
	}

	converters := make(map[common.Address]chain.Converter, len(registry.Tokens))
	for _, t := range registry.Tokens {
		addr := t.ConverterAddress()
		if _, dup := converters[addr]; dup {
			continue
		}
		c, err := rpc.Converter(addr, opts, t.Native)
		if err != nil {
			return nil, fmt.Errorf("binding converter for %s: %w", t.Symbol, err)
		}
		converters[addr] = c
	}
	return func(addr common.Address) (chain.Converter, error) {
		c, ok := converters[addr]
		if !ok {
			return nil, fmt.Errorf("converter %s is not in the token registry", addr)
		}
		return c, nil
	}, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func stripHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
