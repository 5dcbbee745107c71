// Package ledger implements the Merkle ledger service: two sparse Merkle
// trees (balances and transfer history) with serialized writes, snapshot
// reads, and inclusion proofs.
package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/voidwallet/voidd/internal/amount"
	"github.com/voidwallet/voidd/internal/app/domain/ledger"
	"github.com/voidwallet/voidd/internal/app/storage"
	apperrors "github.com/voidwallet/voidd/internal/errors"
	"github.com/voidwallet/voidd/internal/kvstore"
	"github.com/voidwallet/voidd/internal/smt"
	"github.com/voidwallet/voidd/pkg/logger"
)

// Service owns all mutation of the balance and history trees. A single
// RWMutex spans both trees so a transfer's two balance writes and two
// history appends commit as one unit no reader can split.
type Service struct {
	mu       sync.RWMutex
	balances *smt.Tree
	history  *smt.Tree
	index    storage.LedgerIndexStore
	// sentinel is the contract address; history entries it sends are
	// deposits, entries it receives are withdrawals.
	sentinel string
	log      *logger.Logger
}

// New opens the two trees in db under fixed prefixes and returns the
// service. sentinel is the on-chain contract address.
func New(db kvstore.Store, index storage.LedgerIndexStore, sentinel string, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewDefault("ledger")
	}

	balances, err := smt.New(db, "smt:balance")
	if err != nil {
		return nil, fmt.Errorf("open balance tree: %w", err)
	}
	history, err := smt.New(db, "smt:tx")
	if err != nil {
		return nil, fmt.Errorf("open transaction tree: %w", err)
	}

	return &Service{
		balances: balances,
		history:  history,
		index:    index,
		sentinel: strings.ToLower(sentinel),
		log:      log,
	}, nil
}

// balanceKey derives the balance-tree key for a (wallet, token) pair.
// Hashing distributes leaves uniformly across the key space.
func balanceKey(wallet, token string) []byte {
	return crypto.Keccak256([]byte(strings.ToLower(wallet)), []byte(strings.ToLower(token)))
}

// historyKey derives the transaction-tree key for a history leaf index.
func historyKey(index uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, index)
	return crypto.Keccak256(buf)
}

// GetBalance returns the decimal-string balance, "0" when no leaf exists.
func (s *Service) GetBalance(ctx context.Context, wallet, token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getBalanceLocked(wallet, token)
}

func (s *Service) getBalanceLocked(wallet, token string) (string, error) {
	value, err := s.balances.Get(balanceKey(wallet, token))
	if err == kvstore.ErrNotFound {
		return "0", nil
	}
	if err != nil {
		return "", fmt.Errorf("read balance leaf: %w", err)
	}
	return string(value), nil
}

// UpdateBalance replaces the (wallet, token) leaf and rehashes its path.
// Negative values are rejected.
func (s *Service) UpdateBalance(ctx context.Context, wallet, token, newValue string) error {
	if _, err := amount.Parse(newValue); err != nil {
		return apperrors.Validation(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateBalanceLocked(ctx, wallet, token, newValue)
}

func (s *Service) updateBalanceLocked(ctx context.Context, wallet, token, newValue string) error {
	if err := s.balances.Update(balanceKey(wallet, token), []byte(newValue)); err != nil {
		return fmt.Errorf("update balance leaf: %w", err)
	}
	if err := s.index.AddWalletToken(ctx, wallet, token); err != nil {
		return fmt.Errorf("index wallet token: %w", err)
	}
	return nil
}

// Transfer moves amt between two wallets off-chain. The insufficiency check,
// both balance writes and both history appends happen inside one critical
// section: readers see either the full transfer or none of it.
func (s *Service) Transfer(ctx context.Context, from, to, token, amt string) (ledger.TransferResult, error) {
	if _, err := amount.Parse(amt); err != nil {
		return ledger.TransferResult{}, apperrors.Validation(err.Error())
	}
	// Both balances are read before either write, so a self-transfer would
	// let the credit clobber the debit and inflate supply.
	if strings.EqualFold(from, to) {
		return ledger.TransferResult{}, apperrors.Validation("sender and receiver must differ")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fromBalance, err := s.getBalanceLocked(from, token)
	if err != nil {
		return ledger.TransferResult{}, err
	}
	cmp, err := amount.Cmp(fromBalance, amt)
	if err != nil {
		return ledger.TransferResult{}, apperrors.Validation(err.Error())
	}
	if cmp < 0 {
		return ledger.TransferResult{}, apperrors.InsufficientBalance()
	}

	toBalance, err := s.getBalanceLocked(to, token)
	if err != nil {
		return ledger.TransferResult{}, err
	}

	newFrom, err := amount.Sub(fromBalance, amt)
	if err != nil {
		return ledger.TransferResult{}, err
	}
	newTo, err := amount.Add(toBalance, amt)
	if err != nil {
		return ledger.TransferResult{}, err
	}

	if err := s.updateBalanceLocked(ctx, from, token, newFrom); err != nil {
		return ledger.TransferResult{}, err
	}
	if err := s.updateBalanceLocked(ctx, to, token, newTo); err != nil {
		return ledger.TransferResult{}, err
	}
	if err := s.appendEntryLocked(ctx, from, to, token, amt); err != nil {
		return ledger.TransferResult{}, err
	}

	root := hexutil.Encode(s.balances.Root())
	s.log.WithFields(map[string]interface{}{
		"from": from, "to": to, "token": token, "amount": amt,
	}).Info("transfer applied")

	return ledger.TransferResult{TxHash: root, From: from, To: to, Token: token, Amount: amt}, nil
}

// Credit adds amt to a wallet's balance and records a deposit history entry
// from the sentinel. Used by the chain bridge after a verified deposit.
func (s *Service) Credit(ctx context.Context, wallet, token, amt string) error {
	if _, err := amount.Parse(amt); err != nil {
		return apperrors.Validation(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getBalanceLocked(wallet, token)
	if err != nil {
		return err
	}
	updated, err := amount.Add(current, amt)
	if err != nil {
		return err
	}
	if err := s.updateBalanceLocked(ctx, wallet, token, updated); err != nil {
		return err
	}
	return s.appendEntryLocked(ctx, s.sentinel, wallet, token, amt)
}

// Debit removes amt from a wallet's balance and records a withdraw history
// entry toward the sentinel. The caller must only invoke this after the
// corresponding on-chain transfer is confirmed.
func (s *Service) Debit(ctx context.Context, wallet, token, amt string) error {
	if _, err := amount.Parse(amt); err != nil {
		return apperrors.Validation(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getBalanceLocked(wallet, token)
	if err != nil {
		return err
	}
	cmp, err := amount.Cmp(current, amt)
	if err != nil {
		return err
	}
	if cmp < 0 {
		return apperrors.InsufficientBalance()
	}
	updated, err := amount.Sub(current, amt)
	if err != nil {
		return err
	}
	if err := s.updateBalanceLocked(ctx, wallet, token, updated); err != nil {
		return err
	}
	return s.appendEntryLocked(ctx, wallet, s.sentinel, token, amt)
}

// appendEntryLocked writes the two history leaves of one logical transfer,
// one attributable to each party.
func (s *Service) appendEntryLocked(ctx context.Context, sender, receiver, token, amt string) error {
	entry := ledger.Entry{
		Sender:    strings.ToLower(sender),
		Receiver:  strings.ToLower(receiver),
		Token:     strings.ToLower(token),
		Amount:    amt,
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	for _, wallet := range []string{sender, receiver} {
		idx, err := s.index.NextLeafIndex(ctx)
		if err != nil {
			return fmt.Errorf("allocate history leaf: %w", err)
		}
		if err := s.history.Update(historyKey(idx), data); err != nil {
			return fmt.Errorf("append history leaf %d: %w", idx, err)
		}
		if err := s.index.AppendWalletLeaf(ctx, wallet, idx); err != nil {
			return fmt.Errorf("index history leaf %d: %w", idx, err)
		}
	}
	return nil
}

// ProveBalance builds an inclusion proof for (wallet, token) against the
// current balance root. A never-written pair is materialized as an explicit
// "0" leaf first so the proof covers a concrete leaf, not a missing path.
func (s *Service) ProveBalance(ctx context.Context, wallet, token string) (ledger.Proof, error) {
	key := balanceKey(wallet, token)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.balances.Get(key); err == kvstore.ErrNotFound {
		if err := s.updateBalanceLocked(ctx, wallet, token, "0"); err != nil {
			return ledger.Proof{}, err
		}
	} else if err != nil {
		return ledger.Proof{}, fmt.Errorf("read balance leaf: %w", err)
	}

	proof, err := s.balances.Prove(key)
	if err != nil {
		return ledger.Proof{}, fmt.Errorf("prove balance: %w", err)
	}
	return encodeProof(proof), nil
}

// Balances returns every known token balance of a wallet, each with an
// inclusion proof against the same current root.
func (s *Service) Balances(ctx context.Context, wallet string) ([]ledger.Balance, error) {
	tokens, err := s.index.ListWalletTokens(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("list wallet tokens: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	balances := make([]ledger.Balance, 0, len(tokens))
	for _, token := range tokens {
		value, err := s.getBalanceLocked(wallet, token)
		if err != nil {
			return nil, err
		}
		proof, err := s.balances.Prove(balanceKey(wallet, token))
		if err != nil {
			return nil, fmt.Errorf("prove balance for %s: %w", token, err)
		}
		balances = append(balances, ledger.Balance{
			Token:   token,
			Balance: value,
			Proof:   encodeProof(proof),
		})
	}
	return balances, nil
}

// History returns the wallet's transaction history, oldest first, tagged
// with the direction relative to the wallet.
func (s *Service) History(ctx context.Context, wallet string) ([]ledger.HistoryItem, error) {
	leaves, err := s.index.ListWalletLeaves(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("list wallet history: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	walletLower := strings.ToLower(wallet)
	items := make([]ledger.HistoryItem, 0, len(leaves))
	for _, idx := range leaves {
		value, err := s.history.Get(historyKey(idx))
		if err != nil {
			return nil, fmt.Errorf("read history leaf %d: %w", idx, err)
		}
		var entry ledger.Entry
		if err := json.Unmarshal(value, &entry); err != nil {
			return nil, fmt.Errorf("unmarshal history leaf %d: %w", idx, err)
		}

		item := ledger.HistoryItem{Entry: entry}
		switch {
		case entry.Sender == s.sentinel:
			item.Type = ledger.TypeDeposit
		case entry.Sender == walletLower:
			item.Type = ledger.TypeSent
		default:
			item.Type = ledger.TypeReceived
		}
		items = append(items, item)
	}
	return items, nil
}

// BalanceRoot returns the current balance-tree root. O(1).
func (s *Service) BalanceRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hexutil.Encode(s.balances.Root())
}

// HistoryRoot returns the current transaction-tree root. O(1).
func (s *Service) HistoryRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hexutil.Encode(s.history.Root())
}

func encodeProof(p *smt.Proof) ledger.Proof {
	siblings := make([]string, len(p.Siblings))
	for i, sib := range p.Siblings {
		siblings[i] = hexutil.Encode(sib)
	}
	return ledger.Proof{
		Root:     hexutil.Encode(p.Root),
		Siblings: siblings,
		Key:      hexutil.Encode(p.Key),
		Value:    string(p.Value),
	}
}
