// Package kv implements the storage interfaces over the ordered key-value
// store. Key prefixes:
//
//	secret:balance:<wallet>   enrollment secrets (wallet lowercased)
//	secret:tx:<wallet>
//	deposit:pending:<id>      queued deposits awaiting enrollment
//	deposit:applied:<id>      dedupe markers, id = "<txHash>:<logIndex>"
//	ledger:tokens:<wallet>:<token>
//	ledger:leaves:<wallet>:<seq>
//	ledger:leafcount          history leaf counter
//	commit:term               last used commitment term
//	commit:last               last submitted commitment
package kv

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/voidwallet/voidd/internal/app/domain/bridge"
	"github.com/voidwallet/voidd/internal/app/storage"
	"github.com/voidwallet/voidd/internal/kvstore"
)

// Store implements every storage interface over a kvstore.Store.
type Store struct {
	db kvstore.Store

	// counterMu serializes leaf-counter read-modify-write.
	counterMu sync.Mutex
}

var _ storage.SecretStore = (*Store)(nil)
var _ storage.DepositStore = (*Store)(nil)
var _ storage.CommitmentStore = (*Store)(nil)
var _ storage.LedgerIndexStore = (*Store)(nil)

// New creates a store over db.
func New(db kvstore.Store) *Store {
	return &Store{db: db}
}

// SecretStore ---------------------------------------------------------------

func secretKey(wallet string, kind storage.SecretKind) []byte {
	prefix := "secret:balance:"
	if kind == storage.SecretTransaction {
		prefix = "secret:tx:"
	}
	return []byte(prefix + strings.ToLower(wallet))
}

func (s *Store) PutSecret(_ context.Context, wallet string, kind storage.SecretKind, secret string) error {
	return s.db.Put(secretKey(wallet, kind), []byte(secret))
}

func (s *Store) GetSecret(_ context.Context, wallet string, kind storage.SecretKind) (string, error) {
	value, err := s.db.Get(secretKey(wallet, kind))
	if err == kvstore.ErrNotFound {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// DepositStore --------------------------------------------------------------

func (s *Store) EnqueuePending(_ context.Context, dep bridge.Deposit) error {
	data, err := json.Marshal(dep)
	if err != nil {
		return fmt.Errorf("marshal pending deposit: %w", err)
	}
	return s.db.Put([]byte("deposit:pending:"+dep.ID), data)
}

func (s *Store) ListPending(_ context.Context) ([]bridge.Deposit, error) {
	entries, err := s.db.Scan([]byte("deposit:pending:"))
	if err != nil {
		return nil, err
	}
	deposits := make([]bridge.Deposit, 0, len(entries))
	for _, entry := range entries {
		var dep bridge.Deposit
		if err := json.Unmarshal(entry.Value, &dep); err != nil {
			return nil, fmt.Errorf("unmarshal pending deposit %s: %w", entry.Key, err)
		}
		deposits = append(deposits, dep)
	}
	return deposits, nil
}

func (s *Store) DeletePending(_ context.Context, id string) error {
	return s.db.Delete([]byte("deposit:pending:" + id))
}

func (s *Store) MarkApplied(_ context.Context, id string) error {
	return s.db.Put([]byte("deposit:applied:"+id), []byte{1})
}

func (s *Store) IsApplied(_ context.Context, id string) (bool, error) {
	_, err := s.db.Get([]byte("deposit:applied:" + id))
	if err == kvstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CommitmentStore -----------------------------------------------------------

func (s *Store) CurrentTerm(_ context.Context) (uint64, error) {
	value, err := s.db.Get([]byte("commit:term"))
	if err == kvstore.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("corrupt term record: %d bytes", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

func (s *Store) PutTerm(_ context.Context, term uint64) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, term)
	return s.db.Put([]byte("commit:term"), value)
}

func (s *Store) PutLastCommitment(_ context.Context, c bridge.Commitment) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal commitment: %w", err)
	}
	return s.db.Put([]byte("commit:last"), data)
}

func (s *Store) LastCommitment(_ context.Context) (bridge.Commitment, error) {
	value, err := s.db.Get([]byte("commit:last"))
	if err == kvstore.ErrNotFound {
		return bridge.Commitment{}, storage.ErrNotFound
	}
	if err != nil {
		return bridge.Commitment{}, err
	}
	var c bridge.Commitment
	if err := json.Unmarshal(value, &c); err != nil {
		return bridge.Commitment{}, fmt.Errorf("unmarshal commitment: %w", err)
	}
	return c, nil
}

// LedgerIndexStore ----------------------------------------------------------

func (s *Store) AddWalletToken(_ context.Context, wallet, token string) error {
	key := fmt.Sprintf("ledger:tokens:%s:%s", strings.ToLower(wallet), strings.ToLower(token))
	return s.db.Put([]byte(key), []byte(token))
}

func (s *Store) ListWalletTokens(_ context.Context, wallet string) ([]string, error) {
	prefix := fmt.Sprintf("ledger:tokens:%s:", strings.ToLower(wallet))
	entries, err := s.db.Scan([]byte(prefix))
	if err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(entries))
	for _, entry := range entries {
		tokens = append(tokens, string(entry.Value))
	}
	return tokens, nil
}

func (s *Store) AppendWalletLeaf(_ context.Context, wallet string, leafIndex uint64) error {
	key := make([]byte, 0, 64)
	key = append(key, []byte(fmt.Sprintf("ledger:leaves:%s:", strings.ToLower(wallet)))...)
	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, leafIndex)
	key = append(key, seq...)

	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, leafIndex)
	return s.db.Put(key, value)
}

func (s *Store) ListWalletLeaves(_ context.Context, wallet string) ([]uint64, error) {
	prefix := fmt.Sprintf("ledger:leaves:%s:", strings.ToLower(wallet))
	entries, err := s.db.Scan([]byte(prefix))
	if err != nil {
		return nil, err
	}
	leaves := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Value) != 8 {
			return nil, fmt.Errorf("corrupt leaf index record at %s", entry.Key)
		}
		leaves = append(leaves, binary.BigEndian.Uint64(entry.Value))
	}
	return leaves, nil
}

func (s *Store) NextLeafIndex(_ context.Context) (uint64, error) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	var next uint64
	value, err := s.db.Get([]byte("ledger:leafcount"))
	switch err {
	case nil:
		if len(value) != 8 {
			return 0, fmt.Errorf("corrupt leaf counter: %d bytes", len(value))
		}
		next = binary.BigEndian.Uint64(value)
	case kvstore.ErrNotFound:
		next = 0
	default:
		return 0, err
	}

	updated := make([]byte, 8)
	binary.BigEndian.PutUint64(updated, next+1)
	if err := s.db.Put([]byte("ledger:leafcount"), updated); err != nil {
		return 0, err
	}
	return next, nil
}
