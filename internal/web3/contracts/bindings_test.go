package contracts

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"SageChain/internal/web3"
)

const testSwap = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"

func TestLoadDefaultBindings(t *testing.T) {
	b, err := Load(web3.ContractDefinition{Swap: testSwap}, "")
	if err != nil {
		t.Fatalf("load bindings: %v", err)
	}
	if b.SwapAddress() != common.HexToAddress(testSwap) {
		t.Fatalf("unexpected swap address %s", b.SwapAddress())
	}

	data, err := b.PackBuy()
	if err != nil {
		t.Fatalf("pack buy: %v", err)
	}
	if want := crypto.Keccak256([]byte("buyTokens()"))[:4]; string(data) != string(want) {
		t.Fatalf("unexpected selector %x", data)
	}

	in := common.HexToAddress("0x1")
	out := common.HexToAddress("0x2")
	data, err = b.PackSwapToken(in, out, big.NewInt(5))
	if err != nil {
		t.Fatalf("pack swapToken: %v", err)
	}
	if len(data) != 4+3*32 {
		t.Fatalf("unexpected calldata length %d", len(data))
	}
}

func TestLoadRejectsMissingMethod(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swap.json")
	if err := os.WriteFile(path, []byte(`[{"type":"function","name":"buyTokens","stateMutability":"payable","inputs":[],"outputs":[]}]`), 0o644); err != nil {
		t.Fatalf("write abi: %v", err)
	}
	if _, err := Load(web3.ContractDefinition{Swap: testSwap, SwapABI: "swap.json"}, dir); err == nil {
		t.Fatal("expected error for ABI without swap entry points")
	}
	if _, err := Load(web3.ContractDefinition{Swap: "not-an-address"}, dir); err == nil {
		t.Fatal("expected error for invalid swap address")
	}
}

func TestUnpackAllowance(t *testing.T) {
	b, err := Load(web3.ContractDefinition{Swap: testSwap}, "")
	if err != nil {
		t.Fatalf("load bindings: %v", err)
	}
	encoded := math.U256Bytes(big.NewInt(42))
	value, err := b.UnpackAllowance(encoded)
	if err != nil {
		t.Fatalf("unpack allowance: %v", err)
	}
	if value.Int64() != 42 {
		t.Fatalf("unexpected allowance %s", value)
	}
	if _, err := b.UnpackAllowance(nil); err == nil {
		t.Fatal("expected error on empty return data")
	}
}
