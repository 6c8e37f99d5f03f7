package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var simConverter = common.HexToAddress("0x00000000000000000000000000000000000c0ffe")

func TestSimShieldEmitsLog(t *testing.T) {
	s := NewSim(simConverter)
	ctx := context.Background()
	commitment := common.HexToHash("0xabcd")

	tx, err := s.Shield(ctx, uint256.NewInt(1000000), commitment)
	if err != nil {
		t.Fatalf("Shield: %v", err)
	}
	if err := s.WaitConfirmed(ctx, tx); err != nil {
		t.Fatalf("WaitConfirmed: %v", err)
	}

	logs, err := s.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{simConverter},
		Topics:    [][]common.Hash{{ShieldTopic}, {commitment}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d shield logs, want 1", len(logs))
	}
	if got := new(uint256.Int).SetBytes(logs[0].Data); got.Uint64() != 1000000 {
		t.Fatalf("log amount = %s", got.Dec())
	}
	if _, err := s.HeaderByHash(ctx, logs[0].BlockHash); err != nil {
		t.Fatalf("HeaderByHash: %v", err)
	}
}

func TestSimRejectsDoubleSpend(t *testing.T) {
	s := NewSim(simConverter)
	ctx := context.Background()
	nullifier := common.HexToHash("0x01")

	if _, err := s.PrivateTransfer(ctx, nullifier, common.HexToHash("0x02")); err != nil {
		t.Fatalf("first spend: %v", err)
	}
	if _, err := s.PrivateTransfer(ctx, nullifier, common.HexToHash("0x03")); err != ErrSimNullifierSpent {
		t.Fatalf("second spend: err = %v, want ErrSimNullifierSpent", err)
	}
	if _, err := s.Unshield(ctx, nullifier, common.Address{1}, uint256.NewInt(1)); err != ErrSimNullifierSpent {
		t.Fatalf("unshield of spent nullifier: err = %v", err)
	}
}

func TestSimFilterByBlockRange(t *testing.T) {
	s := NewSim(simConverter)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Shield(ctx, uint256.NewInt(1), common.BigToHash(big.NewInt(int64(i)))); err != nil {
			t.Fatal(err)
		}
	}
	logs, err := s.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(2),
		ToBlock:   big.NewInt(4),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 3 {
		t.Fatalf("got %d logs in range, want 3", len(logs))
	}
}

func TestSimFailureInjection(t *testing.T) {
	s := NewSim(simConverter)
	ctx := context.Background()

	s.FailNextSubmit(ErrSimUnknownTx)
	if _, err := s.Shield(ctx, uint256.NewInt(1), common.Hash{}); err == nil {
		t.Fatal("injected submit failure did not surface")
	}
	// The failure must be one-shot.
	tx, err := s.Shield(ctx, uint256.NewInt(1), common.Hash{})
	if err != nil {
		t.Fatalf("second shield: %v", err)
	}

	s.FailNextConfirm()
	if err := s.WaitConfirmed(ctx, tx); err != ErrTxReverted {
		t.Fatalf("injected confirm failure: err = %v, want ErrTxReverted", err)
	}
	if err := s.WaitConfirmed(ctx, tx); err != nil {
		t.Fatalf("confirm after one-shot failure: %v", err)
	}
}
