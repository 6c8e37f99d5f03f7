package note

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	testOwner = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherUser = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestComputeCommitmentDeterministic(t *testing.T) {
	n := common.HexToHash("0xaa")
	s := common.HexToHash("0xbb")
	amt := uint256.NewInt(1000000)

	c1 := ComputeCommitment(n, s, amt, testOwner)
	c2 := ComputeCommitment(n, s, amt, testOwner)
	if c1 != c2 {
		t.Fatal("same inputs produced different commitments")
	}
	if c1 == (common.Hash{}) {
		t.Fatal("commitment is the zero hash")
	}
}

func TestComputeCommitmentDomainSeparation(t *testing.T) {
	n := common.HexToHash("0xaa")
	s := common.HexToHash("0xbb")
	amt := uint256.NewInt(42)

	if ComputeCommitment(n, s, amt, testOwner) == ComputeCommitment(n, s, amt, otherUser) {
		t.Error("commitment does not depend on owner context")
	}
	if ComputeCommitment(n, s, amt, testOwner) == ComputeCommitment(n, s, uint256.NewInt(43), testOwner) {
		t.Error("commitment does not depend on amount")
	}
	if ComputeCommitment(n, s, amt, testOwner) == ComputeCommitment(s, n, amt, testOwner) {
		t.Error("commitment does not depend on nullifier/secret order")
	}
}

func TestGenerateCommitmentFreshness(t *testing.T) {
	seen := make(map[common.Hash]bool)
	for i := 0; i < 32; i++ {
		d, err := GenerateCommitment("1000000", testOwner)
		if err != nil {
			t.Fatalf("GenerateCommitment: %v", err)
		}
		if d.Nullifier == (common.Hash{}) || d.Secret == (common.Hash{}) {
			t.Fatal("zero randomness")
		}
		if seen[d.Commitment] {
			t.Fatal("duplicate commitment from fresh randomness")
		}
		seen[d.Commitment] = true

		// The commitment must recompute from its parts.
		amt, _ := ParseAmount("1000000")
		if got := ComputeCommitment(d.Nullifier, d.Secret, amt, testOwner); got != d.Commitment {
			t.Fatalf("commitment mismatch: %s vs %s", got, d.Commitment)
		}
	}
}

func TestGenerateCommitmentRejectsBadAmounts(t *testing.T) {
	for _, bad := range []string{"", "-1", "1.5", "0x10", "12a", " 12", "1e6"} {
		if _, err := GenerateCommitment(bad, testOwner); err != ErrInvalidAmount {
			t.Errorf("amount %q: err = %v, want ErrInvalidAmount", bad, err)
		}
	}
	// Zero is a valid commitment input; positivity is an orchestrator rule.
	if _, err := GenerateCommitment("0", testOwner); err != nil {
		t.Errorf("amount 0: unexpected err %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1000000")
	if err != nil || v.Uint64() != 1000000 {
		t.Fatalf("ParseAmount(1000000) = %v, %v", v, err)
	}
	// Larger than 2^256 must be rejected.
	huge := "123456789012345678901234567890123456789012345678901234567890123456789012345678901234567890"
	if _, err := ParseAmount(huge); err != ErrInvalidAmount {
		t.Errorf("oversized amount: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := ParsePositiveAmount("0"); err != ErrZeroAmount {
		t.Errorf("ParsePositiveAmount(0): err = %v, want ErrZeroAmount", err)
	}
}
