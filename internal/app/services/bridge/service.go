// Package bridge connects the ledger to the Void contract: deposit
// ingestion from provider webhooks and log backfill, withdrawals through
// the enclave signer, and periodic state-root commitments.
package bridge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/voidwallet/voidd/internal/amount"
	domain "github.com/voidwallet/voidd/internal/app/domain/bridge"
	ledgersvc "github.com/voidwallet/voidd/internal/app/services/ledger"
	secretssvc "github.com/voidwallet/voidd/internal/app/services/secrets"
	"github.com/voidwallet/voidd/internal/app/storage"
	"github.com/voidwallet/voidd/internal/chain"
	apperrors "github.com/voidwallet/voidd/internal/errors"
	"github.com/voidwallet/voidd/internal/metrics"
	"github.com/voidwallet/voidd/pkg/logger"
)

// ChainClient is the slice of the contract client the bridge consumes.
type ChainClient interface {
	SignerAddress() common.Address
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	Withdraw(ctx context.Context, to common.Address, amount *big.Int, token common.Address) (common.Hash, error)
	CommitStateRoot(ctx context.Context, stateRoot common.Hash, term uint64) (common.Hash, []byte, error)
	FilterDeposits(ctx context.Context, wallet common.Address) ([]chain.DepositEvent, error)
	DecodeDeposit(topics []common.Hash, data []byte) (chain.DepositEvent, error)
}

var _ ChainClient = (*chain.Client)(nil)

type Service struct {
	chain       ChainClient
	ledger      *ledgersvc.Service
	secrets     *secretssvc.Service
	deposits    storage.DepositStore
	commitments storage.CommitmentStore
	signingKey  string
	contract    string
	log         *logger.Logger

	// withdrawLocks serializes withdrawals per wallet so two in-flight
	// requests cannot both pass the balance check before either debits.
	withdrawLocksMu sync.Mutex
	withdrawLocks   map[string]*sync.Mutex
}

func New(
	chainClient ChainClient,
	ledger *ledgersvc.Service,
	secrets *secretssvc.Service,
	deposits storage.DepositStore,
	commitments storage.CommitmentStore,
	contract string,
	alchemySigningKey string,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewDefault("bridge")
	}
	return &Service{
		chain:       chainClient,
		ledger:      ledger,
		secrets:     secrets,
		deposits:    deposits,
		commitments: commitments,
		signingKey:  alchemySigningKey,
		contract:    strings.ToLower(contract),
		log:         log,

		withdrawLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) withdrawLock(wallet string) *sync.Mutex {
	s.withdrawLocksMu.Lock()
	defer s.withdrawLocksMu.Unlock()
	mu, ok := s.withdrawLocks[wallet]
	if !ok {
		mu = &sync.Mutex{}
		s.withdrawLocks[wallet] = mu
	}
	return mu
}

// alchemyPayload is the GraphQL custom-webhook shape: logs grouped under
// event.data.block.
type alchemyPayload struct {
	Event struct {
		Data struct {
			Block struct {
				Logs []alchemyLog `json:"logs"`
			} `json:"block"`
		} `json:"data"`
	} `json:"event"`
}

type alchemyLog struct {
	Account struct {
		Address string `json:"address"`
	} `json:"account"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Index       uint     `json:"index"`
	Transaction struct {
		Hash string `json:"hash"`
	} `json:"transaction"`
}

func (l alchemyLog) contractAddress() string {
	if l.Account.Address != "" {
		return l.Account.Address
	}
	return l.Address
}

// VerifyWebhookSignature checks the provider HMAC-SHA256 over the raw body.
// An empty signing key disables the check, development only.
func (s *Service) VerifyWebhookSignature(rawBody []byte, signature string) error {
	if s.signingKey == "" {
		s.log.Warn("webhook signing key not set, skipping verification")
		return nil
	}

	mac := hmac.New(sha256.New, []byte(s.signingKey))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		metrics.WebhookRejections.Inc()
		return apperrors.WebhookAuthenticity("webhook signature mismatch")
	}
	return nil
}

// ProcessWebhook verifies and ingests one webhook delivery. Ingestion is
// idempotent per (txHash, logIndex); a replayed delivery never
// double-credits.
func (s *Service) ProcessWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if err := s.VerifyWebhookSignature(rawBody, signature); err != nil {
		return err
	}

	var payload alchemyPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return apperrors.Validation("malformed webhook payload")
	}

	logs := payload.Event.Data.Block.Logs
	if len(logs) == 0 {
		s.log.Debug("webhook delivery without logs")
		return nil
	}

	for _, lg := range logs {
		if err := s.processWebhookLog(ctx, lg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) processWebhookLog(ctx context.Context, lg alchemyLog) error {
	if !strings.EqualFold(lg.contractAddress(), s.contract) {
		s.log.WithField("address", lg.contractAddress()).Debug("ignoring log from foreign contract")
		return nil
	}
	if len(lg.Topics) == 0 || common.HexToHash(lg.Topics[0]) != chain.DepositedTopic {
		return nil
	}

	topics := make([]common.Hash, len(lg.Topics))
	for i, t := range lg.Topics {
		topics[i] = common.HexToHash(t)
	}
	data, err := hex.DecodeString(strings.TrimPrefix(lg.Data, "0x"))
	if err != nil {
		return apperrors.Validation("malformed log data")
	}

	event, err := s.chain.DecodeDeposit(topics, data)
	if err != nil {
		s.log.WithError(err).Warn("skipping undecodable deposit log")
		return nil
	}
	event.TxHash = common.HexToHash(lg.Transaction.Hash)
	event.LogIndex = lg.Index

	return s.ingestDeposit(ctx, event)
}

// ingestDeposit is the single path every deposit takes, from webhooks,
// backfill and the pending-queue poller alike.
func (s *Service) ingestDeposit(ctx context.Context, event chain.DepositEvent) error {
	id := depositID(event.TxHash, event.LogIndex)

	applied, err := s.deposits.IsApplied(ctx, id)
	if err != nil {
		return fmt.Errorf("check applied marker: %w", err)
	}
	if applied {
		s.log.WithField("deposit", id).Debug("deposit already applied")
		return nil
	}

	decimals, err := s.chain.TokenDecimals(ctx, event.Token)
	if err != nil {
		return apperrors.OnChain("read token decimals", err)
	}

	dep := domain.Deposit{
		ID:        id,
		User:      strings.ToLower(event.User.Hex()),
		Token:     strings.ToLower(event.Token.Hex()),
		RawAmount: event.Amount.String(),
		Amount:    amount.FromRaw(event.Amount, decimals),
		TxHash:    strings.ToLower(event.TxHash.Hex()),
		LogIndex:  event.LogIndex,
		CreatedAt: time.Now().UTC(),
	}
	return s.applyOrQueue(ctx, dep)
}

// applyOrQueue credits an enrolled wallet or parks the deposit until the
// wallet enrolls its balance secret. Queued deposits survive restarts.
func (s *Service) applyOrQueue(ctx context.Context, dep domain.Deposit) error {
	enrolled, err := s.secrets.IsEnrolled(ctx, dep.User, storage.SecretBalance)
	if err != nil {
		return fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		if err := s.deposits.EnqueuePending(ctx, dep); err != nil {
			return fmt.Errorf("queue pending deposit: %w", err)
		}
		metrics.DepositsQueued.Inc()
		s.log.WithFields(map[string]interface{}{
			"deposit": dep.ID, "wallet": dep.User,
		}).Info("deposit queued until balance secret enrollment")
		return nil
	}

	// The credit spans several tree pages, so the applied marker cannot be
	// written atomically with it. A crash between the two re-credits the
	// deposit on the next replay; marker-first would drop it instead.
	if err := s.ledger.Credit(ctx, dep.User, dep.Token, dep.Amount); err != nil {
		return fmt.Errorf("credit deposit %s: %w", dep.ID, err)
	}
	if err := s.deposits.MarkApplied(ctx, dep.ID); err != nil {
		return fmt.Errorf("mark deposit applied: %w", err)
	}
	if err := s.deposits.DeletePending(ctx, dep.ID); err != nil {
		return fmt.Errorf("dequeue deposit: %w", err)
	}

	metrics.DepositsApplied.Inc()
	s.log.WithFields(map[string]interface{}{
		"deposit": dep.ID, "wallet": dep.User, "token": dep.Token, "amount": dep.Amount,
	}).Info("deposit applied")
	return nil
}

// Backfill replays all past on-chain deposits for a wallet through the
// normal ingestion path. Safe to call repeatedly; applied deposits are
// skipped by the dedupe marker. Returns how many events were seen.
func (s *Service) Backfill(ctx context.Context, wallet string) (int, error) {
	if !common.IsHexAddress(wallet) {
		return 0, apperrors.Validation("invalid wallet address")
	}

	events, err := s.chain.FilterDeposits(ctx, common.HexToAddress(wallet))
	if err != nil {
		return 0, apperrors.OnChain("scan deposit logs", err)
	}

	for _, event := range events {
		if err := s.ingestDeposit(ctx, event); err != nil {
			return 0, err
		}
	}
	if len(events) > 0 {
		s.log.WithFields(map[string]interface{}{
			"wallet": strings.ToLower(wallet), "events": len(events),
		}).Info("deposit backfill replayed")
	}
	return len(events), nil
}

// Withdraw moves funds from the contract to the wallet. The ledger debit
// happens strictly after the on-chain receipt confirms; a failed submission
// leaves the ledger untouched.
func (s *Service) Withdraw(ctx context.Context, wallet, token, amt string) (string, error) {
	if !common.IsHexAddress(wallet) {
		return "", apperrors.Validation("invalid wallet address")
	}
	if !common.IsHexAddress(token) {
		return "", apperrors.Validation("invalid token address")
	}
	if _, err := amount.Parse(amt); err != nil {
		return "", apperrors.Validation(err.Error())
	}

	// Held across check, submit and debit: without it two concurrent
	// requests for the full balance would both reach the contract.
	mu := s.withdrawLock(strings.ToLower(wallet))
	mu.Lock()
	defer mu.Unlock()

	balance, err := s.ledger.GetBalance(ctx, wallet, token)
	if err != nil {
		return "", err
	}
	cmp, err := amount.Cmp(balance, amt)
	if err != nil {
		return "", apperrors.Validation(err.Error())
	}
	if cmp < 0 {
		return "", apperrors.InsufficientBalance()
	}

	tokenAddr := common.HexToAddress(token)
	decimals, err := s.chain.TokenDecimals(ctx, tokenAddr)
	if err != nil {
		return "", apperrors.OnChain("read token decimals", err)
	}
	raw, err := amount.ToRaw(amt, decimals)
	if err != nil {
		return "", apperrors.Validation(err.Error())
	}
	if raw.Sign() <= 0 {
		return "", apperrors.Validation("amount rounds to zero in token units")
	}

	txHash, err := s.chain.Withdraw(ctx, common.HexToAddress(wallet), raw, tokenAddr)
	if err != nil {
		return "", apperrors.OnChain("submit withdraw", err)
	}

	if err := s.ledger.Debit(ctx, wallet, token, amt); err != nil {
		// The on-chain transfer already happened; this needs an operator.
		s.log.WithError(err).WithFields(map[string]interface{}{
			"wallet": wallet, "token": token, "amount": amt, "tx": txHash.Hex(),
		}).Error("ledger debit failed after confirmed withdraw")
		return "", apperrors.Internal("debit after confirmed withdraw", err)
	}

	metrics.WithdrawalsSubmitted.Inc()
	s.log.WithFields(map[string]interface{}{
		"wallet": strings.ToLower(wallet), "token": strings.ToLower(token),
		"amount": amt, "tx": txHash.Hex(),
	}).Info("withdraw executed")
	return txHash.Hex(), nil
}

func depositID(txHash common.Hash, logIndex uint) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(txHash.Hex()), logIndex)
}
