package ledger

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/voidwallet/voidd/internal/app/storage/kv"
	apperrors "github.com/voidwallet/voidd/internal/errors"
	"github.com/voidwallet/voidd/internal/kvstore"
	"github.com/voidwallet/voidd/internal/smt"
	"github.com/voidwallet/voidd/pkg/logger"
)

const (
	sentinel = "0x4aE649044CC818A00fA20266aE5d5b77E79089C3"
	walletA  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	walletB  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	usdc     = "0x1111111111111111111111111111111111111111"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db := kvstore.NewMemory()
	svc, err := New(db, kv.New(db), sentinel, logger.NewNop())
	if err != nil {
		t.Fatalf("new ledger service: %v", err)
	}
	return svc
}

func TestGetBalance_DefaultsToZero(t *testing.T) {
	svc := newService(t)
	balance, err := svc.GetBalance(context.Background(), walletA, usdc)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != "0" {
		t.Fatalf("expected 0, got %s", balance)
	}
}

func TestUpdateBalance_RejectsNegative(t *testing.T) {
	svc := newService(t)
	err := svc.UpdateBalance(context.Background(), walletA, usdc, "-5")
	if !apperrors.Is(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransfer_Conservation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if err := svc.Credit(ctx, walletA, usdc, "100"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	result, err := svc.Transfer(ctx, walletA, walletB, usdc, "40")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if result.TxHash != svc.BalanceRoot() {
		t.Fatalf("tx hash is not the post-transfer balance root")
	}

	balanceA, _ := svc.GetBalance(ctx, walletA, usdc)
	balanceB, _ := svc.GetBalance(ctx, walletB, usdc)
	if balanceA != "60" {
		t.Fatalf("sender balance: got %s, want 60", balanceA)
	}
	if balanceB != "40" {
		t.Fatalf("receiver balance: got %s, want 40", balanceB)
	}
}

func TestTransfer_RejectsSelfTransfer(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if err := svc.Credit(ctx, walletA, usdc, "100"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	// Also cover a differently-cased spelling of the same wallet.
	for _, to := range []string{walletA, "0x" + strings.ToUpper(walletA[2:])} {
		_, err := svc.Transfer(ctx, walletA, to, usdc, "100")
		if !apperrors.Is(err, apperrors.CodeValidation) {
			t.Fatalf("self transfer to %s: expected validation error, got %v", to, err)
		}
	}

	balance, err := svc.GetBalance(ctx, walletA, usdc)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != "100" {
		t.Fatalf("self transfer changed supply: balance now %s, want 100", balance)
	}
}

func TestTransfer_InsufficientLeavesStateUntouched(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if err := svc.Credit(ctx, walletA, usdc, "10"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	rootBefore := svc.BalanceRoot()
	historyBefore := svc.HistoryRoot()

	_, err := svc.Transfer(ctx, walletA, walletB, usdc, "11")
	if !apperrors.Is(err, apperrors.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	if svc.BalanceRoot() != rootBefore {
		t.Fatalf("balance root moved on rejected transfer")
	}
	if svc.HistoryRoot() != historyBefore {
		t.Fatalf("history root moved on rejected transfer")
	}
	balanceA, _ := svc.GetBalance(ctx, walletA, usdc)
	balanceB, _ := svc.GetBalance(ctx, walletB, usdc)
	if balanceA != "10" || balanceB != "0" {
		t.Fatalf("balances mutated: a=%s b=%s", balanceA, balanceB)
	}
}

func TestProveBalance_Soundness(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if err := svc.Credit(ctx, walletA, usdc, "60"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	proof, err := svc.ProveBalance(ctx, walletA, usdc)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if proof.Root != svc.BalanceRoot() {
		t.Fatalf("proof root %s is not the current root %s", proof.Root, svc.BalanceRoot())
	}
	if proof.Value != "60" {
		t.Fatalf("proof value: got %s", proof.Value)
	}
	if !verifyDomainProof(t, proof.Root, proof.Siblings, proof.Key, proof.Value) {
		t.Fatalf("proof does not recompute to root")
	}
}

func TestProveBalance_JustCreatedLeaf(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	proof, err := svc.ProveBalance(ctx, walletB, usdc)
	if err != nil {
		t.Fatalf("prove absent: %v", err)
	}
	if proof.Value != "0" {
		t.Fatalf("expected explicit zero leaf, got %q", proof.Value)
	}
	if !verifyDomainProof(t, proof.Root, proof.Siblings, proof.Key, proof.Value) {
		t.Fatalf("zero-leaf proof does not recompute to root")
	}
}

func TestProveBalance_UnrelatedLeafMovesRoot(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if err := svc.Credit(ctx, walletA, usdc, "5"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	first, err := svc.ProveBalance(ctx, walletA, usdc)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	if err := svc.Credit(ctx, walletB, usdc, "5"); err != nil {
		t.Fatalf("credit unrelated: %v", err)
	}
	second, err := svc.ProveBalance(ctx, walletA, usdc)
	if err != nil {
		t.Fatalf("re-prove: %v", err)
	}

	if first.Root == second.Root {
		t.Fatalf("root unchanged after unrelated write")
	}
	if !verifyDomainProof(t, second.Root, second.Siblings, second.Key, second.Value) {
		t.Fatalf("regenerated proof invalid against new root")
	}
}

func TestHistory_TypesAndOrder(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if err := svc.Credit(ctx, walletA, usdc, "100"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := svc.Transfer(ctx, walletA, walletB, usdc, "40"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := svc.Debit(ctx, walletA, usdc, "10"); err != nil {
		t.Fatalf("debit: %v", err)
	}

	historyA, err := svc.History(ctx, walletA)
	if err != nil {
		t.Fatalf("history a: %v", err)
	}
	if len(historyA) != 3 {
		t.Fatalf("expected 3 entries for sender, got %d", len(historyA))
	}
	if historyA[0].Type != "deposit" || historyA[0].Amount != "100" {
		t.Fatalf("first entry: %+v", historyA[0])
	}
	if historyA[1].Type != "sent" || historyA[1].Amount != "40" {
		t.Fatalf("second entry: %+v", historyA[1])
	}
	if historyA[2].Type != "sent" || historyA[2].Amount != "10" {
		t.Fatalf("third entry (withdraw): %+v", historyA[2])
	}

	historyB, err := svc.History(ctx, walletB)
	if err != nil {
		t.Fatalf("history b: %v", err)
	}
	if len(historyB) != 1 || historyB[0].Type != "received" || historyB[0].Amount != "40" {
		t.Fatalf("receiver history: %+v", historyB)
	}
}

func TestDebit_RequiresBalance(t *testing.T) {
	svc := newService(t)
	err := svc.Debit(context.Background(), walletA, usdc, "1")
	if !apperrors.Is(err, apperrors.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

// verifyDomainProof decodes the hex-encoded client proof and re-runs the smt
// verifier against it.
func verifyDomainProof(t *testing.T, root string, siblings []string, key, value string) bool {
	t.Helper()

	decode := func(s string) []byte {
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			t.Fatalf("decode hex %q: %v", s, err)
		}
		return b
	}

	proof := &smt.Proof{
		Root:  decode(root),
		Key:   decode(key),
		Value: []byte(value),
	}
	for _, sib := range siblings {
		proof.Siblings = append(proof.Siblings, decode(sib))
	}
	return smt.Verify(proof)
}
