// Package smt implements a fixed-depth sparse Merkle tree over a key-value
// store. Keys are 32-byte hashes, so the tree is 256 levels deep; empty
// subtrees collapse to precomputed zero hashes and are never materialized.
//
// Hashing convention (the on-chain verifier recomputes exactly this):
//
//	leaf     = keccak256(key || value)        for a present leaf
//	empty    = 32 zero bytes                  for an absent leaf
//	internal = keccak256(left || right)
//
// Proof siblings are ordered leaf to root. A proof always carries exactly
// Depth siblings; absent neighbours appear as the zero hash of their level.
package smt

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/voidwallet/voidd/internal/kvstore"
)

// Depth is the number of levels below the root. Keys must be exactly
// Depth/8 bytes.
const Depth = 256

// KeySize is the required key length in bytes.
const KeySize = Depth / 8

// zeroHashes[level] is the hash of an empty subtree whose root sits at
// that level. zeroHashes[Depth] is the empty leaf. Built at package init
// so Verify works without a Tree ever being constructed.
var zeroHashes [Depth + 1][]byte

func init() {
	zeroHashes[Depth] = make([]byte, 32)
	for level := Depth - 1; level >= 0; level-- {
		zeroHashes[level] = crypto.Keccak256(zeroHashes[level+1], zeroHashes[level+1])
	}
}

// Tree is a sparse Merkle tree persisted through a kvstore.Store. All state
// lives in the store except the cached root. Tree itself is not safe for
// concurrent writers; the owning service serializes mutations.
type Tree struct {
	store  kvstore.Store
	prefix []byte

	mu   sync.RWMutex
	root []byte
}

// Proof is an inclusion proof for a single leaf.
type Proof struct {
	Root     []byte
	Siblings [][]byte // leaf to root
	Key      []byte
	Value    []byte
}

// New opens a tree under the given key prefix, loading the persisted root if
// one exists.
func New(store kvstore.Store, prefix string) (*Tree, error) {
	t := &Tree{store: store, prefix: []byte(prefix)}

	root, err := store.Get(t.rootKey())
	switch err {
	case nil:
		t.root = root
	case kvstore.ErrNotFound:
		t.root = zeroHashes[0]
	default:
		return nil, fmt.Errorf("load tree root: %w", err)
	}
	return t, nil
}

// Root returns the current root hash. O(1).
func (t *Tree) Root() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]byte, len(t.root))
	copy(out, t.root)
	return out
}

// Get returns the raw leaf value for key, or kvstore.ErrNotFound.
func (t *Tree) Get(key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("smt: key must be %d bytes, got %d", KeySize, len(key))
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.store.Get(t.leafKey(key))
}

// Update upserts the leaf at key and rehashes the path to the root.
func (t *Tree) Update(key, value []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("smt: key must be %d bytes, got %d", KeySize, len(key))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.Put(t.leafKey(key), value); err != nil {
		return fmt.Errorf("store leaf: %w", err)
	}

	current := crypto.Keccak256(key, value)
	if err := t.store.Put(t.nodeKey(Depth, key), current); err != nil {
		return fmt.Errorf("store leaf hash: %w", err)
	}

	// Rehash ancestors from the leaf's parent up to the root.
	for level := Depth - 1; level >= 0; level-- {
		sibling, err := t.nodeHash(level+1, siblingPath(key, level+1))
		if err != nil {
			return err
		}

		if bit(key, level) == 0 {
			current = crypto.Keccak256(current, sibling)
		} else {
			current = crypto.Keccak256(sibling, current)
		}
		if err := t.store.Put(t.nodeKey(level, key), current); err != nil {
			return fmt.Errorf("store node at level %d: %w", level, err)
		}
	}

	if err := t.store.Put(t.rootKey(), current); err != nil {
		return fmt.Errorf("store root: %w", err)
	}
	t.root = current
	return nil
}

// Prove builds an inclusion proof for key against the current root. A key
// that has never been written proves an explicit empty leaf.
func (t *Tree) Prove(key []byte) (*Proof, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("smt: key must be %d bytes, got %d", KeySize, len(key))
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	value, err := t.store.Get(t.leafKey(key))
	if err != nil && err != kvstore.ErrNotFound {
		return nil, fmt.Errorf("load leaf: %w", err)
	}

	siblings := make([][]byte, 0, Depth)
	for level := Depth; level >= 1; level-- {
		sibling, err := t.nodeHash(level, siblingPath(key, level))
		if err != nil {
			return nil, err
		}
		siblings = append(siblings, sibling)
	}

	root := make([]byte, len(t.root))
	copy(root, t.root)

	return &Proof{Root: root, Siblings: siblings, Key: append([]byte(nil), key...), Value: value}, nil
}

// Verify recomputes the path hash from (key, value, siblings) and checks it
// reproduces root. This mirrors the contract-side verifier.
func Verify(proof *Proof) bool {
	if proof == nil || len(proof.Key) != KeySize || len(proof.Siblings) != Depth {
		return false
	}

	var current []byte
	if proof.Value == nil {
		current = zeroHashes[Depth]
	} else {
		current = crypto.Keccak256(proof.Key, proof.Value)
	}

	for i, sibling := range proof.Siblings {
		level := Depth - 1 - i // level of the parent being computed
		if bit(proof.Key, level) == 0 {
			current = crypto.Keccak256(current, sibling)
		} else {
			current = crypto.Keccak256(sibling, current)
		}
	}

	return len(current) == len(proof.Root) && string(current) == string(proof.Root)
}

// nodeHash returns the stored hash for the node at (level, path), falling
// back to the zero hash of that level.
func (t *Tree) nodeHash(level int, path []byte) ([]byte, error) {
	hash, err := t.store.Get(t.nodeKeyFromPath(level, path))
	if err == kvstore.ErrNotFound {
		return zeroHashes[level], nil
	}
	if err != nil {
		return nil, fmt.Errorf("load node at level %d: %w", level, err)
	}
	return hash, nil
}

// rootKey, leafKey and nodeKey lay the tree out in the store under the tree
// prefix: "<p>/r" for the root, "<p>/l/<key>" for raw leaf values, and
// "<p>/n/<level><path>" for node hashes.
func (t *Tree) rootKey() []byte {
	return append(append([]byte{}, t.prefix...), []byte("/r")...)
}

func (t *Tree) leafKey(key []byte) []byte {
	out := append(append([]byte{}, t.prefix...), []byte("/l/")...)
	return append(out, key...)
}

func (t *Tree) nodeKey(level int, key []byte) []byte {
	return t.nodeKeyFromPath(level, pathPrefix(key, level))
}

func (t *Tree) nodeKeyFromPath(level int, path []byte) []byte {
	out := append(append([]byte{}, t.prefix...), []byte("/n/")...)
	out = append(out, byte(level>>8), byte(level))
	return append(out, path...)
}

// bit returns the i-th bit of key, MSB first.
func bit(key []byte, i int) byte {
	return (key[i/8] >> (7 - uint(i%8))) & 1
}

// pathPrefix zeroes every bit of key below level, so nodes are addressed by
// the path bits that actually select them.
func pathPrefix(key []byte, level int) []byte {
	out := make([]byte, KeySize)
	fullBytes := level / 8
	copy(out, key[:fullBytes])
	if rem := level % 8; rem != 0 {
		out[fullBytes] = key[fullBytes] & (0xFF << (8 - uint(rem)))
	}
	return out
}

// siblingPath returns the path of the sibling of the node holding key at the
// given level: the same prefix with the last selecting bit flipped.
func siblingPath(key []byte, level int) []byte {
	path := pathPrefix(key, level)
	idx := level - 1
	path[idx/8] ^= 1 << (7 - uint(idx%8))
	return path
}
