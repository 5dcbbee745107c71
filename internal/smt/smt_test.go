package smt

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/voidwallet/voidd/internal/kvstore"
)

func newTree(t *testing.T) *Tree {
	t.Helper()
	tree, err := New(kvstore.NewMemory(), "t")
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	return tree
}

func TestTree_EmptyRootIsDeterministic(t *testing.T) {
	a := newTree(t)
	b := newTree(t)
	if !bytes.Equal(a.Root(), b.Root()) {
		t.Fatalf("empty roots differ")
	}
}

func TestTree_UpdateChangesRoot(t *testing.T) {
	tree := newTree(t)
	before := tree.Root()

	key := crypto.Keccak256([]byte("wallet|token"))
	if err := tree.Update(key, []byte("100")); err != nil {
		t.Fatalf("update: %v", err)
	}
	if bytes.Equal(before, tree.Root()) {
		t.Fatalf("root unchanged after update")
	}

	got, err := tree.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "100" {
		t.Fatalf("unexpected leaf value: %q", got)
	}
}

func TestTree_ProofRecomputesRoot(t *testing.T) {
	tree := newTree(t)
	key := crypto.Keccak256([]byte("a"))
	if err := tree.Update(key, []byte("42")); err != nil {
		t.Fatalf("update: %v", err)
	}

	proof, err := tree.Prove(key)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if len(proof.Siblings) != Depth {
		t.Fatalf("expected %d siblings, got %d", Depth, len(proof.Siblings))
	}
	if !Verify(proof) {
		t.Fatalf("proof did not recompute to root")
	}

	// Tampering with the value must break verification.
	proof.Value = []byte("43")
	if Verify(proof) {
		t.Fatalf("tampered proof verified")
	}
}

func TestTree_ProofForAbsentKey(t *testing.T) {
	tree := newTree(t)
	if err := tree.Update(crypto.Keccak256([]byte("present")), []byte("1")); err != nil {
		t.Fatalf("update: %v", err)
	}

	proof, err := tree.Prove(crypto.Keccak256([]byte("absent")))
	if err != nil {
		t.Fatalf("prove absent: %v", err)
	}
	if proof.Value != nil {
		t.Fatalf("absent leaf should carry no value")
	}
	if !Verify(proof) {
		t.Fatalf("absence proof did not verify")
	}
}

func TestVerify_AbsenceWithoutTree(t *testing.T) {
	// A hand-built absence proof against the empty root must verify even
	// when no Tree was ever constructed in the process.
	siblings := make([][]byte, Depth)
	for i := range siblings {
		siblings[i] = zeroHashes[Depth-i]
	}
	proof := &Proof{
		Root:     zeroHashes[0],
		Siblings: siblings,
		Key:      crypto.Keccak256([]byte("never inserted")),
		Value:    nil,
	}
	if !Verify(proof) {
		t.Fatalf("absence proof against the empty root did not verify")
	}
}

func TestTree_UnrelatedUpdateKeepsOldProofAgainstOldRoot(t *testing.T) {
	tree := newTree(t)
	keyA := crypto.Keccak256([]byte("a"))
	keyB := crypto.Keccak256([]byte("b"))

	if err := tree.Update(keyA, []byte("10")); err != nil {
		t.Fatalf("update a: %v", err)
	}
	proofA, err := tree.Prove(keyA)
	if err != nil {
		t.Fatalf("prove a: %v", err)
	}

	if err := tree.Update(keyB, []byte("20")); err != nil {
		t.Fatalf("update b: %v", err)
	}

	// Old proof still verifies against the root it was issued for.
	if !Verify(proofA) {
		t.Fatalf("old proof invalid against its own root")
	}

	// A fresh proof for A tracks the new root.
	fresh, err := tree.Prove(keyA)
	if err != nil {
		t.Fatalf("re-prove a: %v", err)
	}
	if bytes.Equal(fresh.Root, proofA.Root) {
		t.Fatalf("root should have moved after unrelated update")
	}
	if !Verify(fresh) {
		t.Fatalf("fresh proof invalid")
	}
}

func TestTree_RootSurvivesReopen(t *testing.T) {
	store := kvstore.NewMemory()
	tree, err := New(store, "t")
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	key := crypto.Keccak256([]byte("persisted"))
	if err := tree.Update(key, []byte("7")); err != nil {
		t.Fatalf("update: %v", err)
	}
	root := tree.Root()

	reopened, err := New(store, "t")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !bytes.Equal(reopened.Root(), root) {
		t.Fatalf("root not restored from store")
	}

	proof, err := reopened.Prove(key)
	if err != nil {
		t.Fatalf("prove after reopen: %v", err)
	}
	if !Verify(proof) {
		t.Fatalf("proof after reopen invalid")
	}
}

func TestTree_IndependentPrefixes(t *testing.T) {
	store := kvstore.NewMemory()
	balances, err := New(store, "balance")
	if err != nil {
		t.Fatalf("balance tree: %v", err)
	}
	history, err := New(store, "tx")
	if err != nil {
		t.Fatalf("tx tree: %v", err)
	}

	if err := balances.Update(crypto.Keccak256([]byte("k")), []byte("1")); err != nil {
		t.Fatalf("update balance: %v", err)
	}
	if !bytes.Equal(history.Root(), zeroHashes[0]) {
		t.Fatalf("tx tree root moved with balance tree write")
	}
}
