// Package secrets gates access to balances and transaction history behind
// per-wallet secrets derived from fixed-message signatures.
package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/voidwallet/voidd/internal/app/storage"
	apperrors "github.com/voidwallet/voidd/internal/errors"
	"github.com/voidwallet/voidd/internal/ethutil"
	"github.com/voidwallet/voidd/pkg/logger"
)

// The wallet signs one of these fixed messages; the resulting signature is
// deterministic per key, so the derived secret is reproducible on any device
// holding the key.
const (
	BalanceSecretMessage     = "Cloak Wallet Balances Secret"
	TransactionSecretMessage = "Cloak Wallet Transactions Secret"
)

// Service enrolls and checks the two per-wallet secrets.
type Service struct {
	store storage.SecretStore
	log   *logger.Logger
}

func New(store storage.SecretStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("secrets")
	}
	return &Service{store: store, log: log}
}

func messageFor(kind storage.SecretKind) (string, error) {
	switch kind {
	case storage.SecretBalance:
		return BalanceSecretMessage, nil
	case storage.SecretTransaction:
		return TransactionSecretMessage, nil
	default:
		return "", fmt.Errorf("unknown secret kind %q", kind)
	}
}

// Derive computes the secret for a signature over the fixed message: the
// keccak256 of the 64 signature bytes, recovery byte excluded. Excluding it
// keeps the secret stable across the 27/28 and 0/1 v conventions.
func Derive(signatureHex string) (string, error) {
	sig, err := ethutil.DecodeSignature(signatureHex)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(crypto.Keccak256(sig[:64])), nil
}

// Enroll verifies that signatureHex is wallet's signature over the fixed
// message for kind, derives the secret and stores it. Re-enrolling is a
// no-op when the derived secret matches the stored one and an error when it
// does not, which only happens if the wallet key changed.
func (s *Service) Enroll(ctx context.Context, wallet string, kind storage.SecretKind, signatureHex string) error {
	message, err := messageFor(kind)
	if err != nil {
		return apperrors.Validation(err.Error())
	}

	ok, err := ethutil.VerifyPersonalSignature(wallet, []byte(message), signatureHex)
	if err != nil {
		return apperrors.Validation(err.Error())
	}
	if !ok {
		s.log.WithField("wallet", wallet).Warn("secret enrollment signature rejected")
		return apperrors.SignatureMismatch("signature does not recover to wallet address")
	}

	secret, err := Derive(signatureHex)
	if err != nil {
		return apperrors.Validation(err.Error())
	}

	existing, err := s.store.GetSecret(ctx, wallet, kind)
	if err == nil {
		if existing == secret {
			return nil
		}
		return apperrors.Validation("secret already enrolled with a different value")
	}
	if err != storage.ErrNotFound {
		return apperrors.Internal("read secret", err)
	}

	if err := s.store.PutSecret(ctx, wallet, kind, secret); err != nil {
		return apperrors.Internal("store secret", err)
	}
	s.log.WithFields(map[string]interface{}{"wallet": strings.ToLower(wallet), "kind": string(kind)}).Info("secret enrolled")
	return nil
}

// SeedSentinel stores fixed secrets for the contract sentinel address so the
// bridge can write deposit history without a wallet-side enrollment.
func (s *Service) SeedSentinel(ctx context.Context, sentinel string) error {
	for kind, seed := range map[storage.SecretKind]string{
		storage.SecretBalance:     "sentinel-balance",
		storage.SecretTransaction: "sentinel-transaction",
	} {
		secret := hexutil.Encode(crypto.Keccak256([]byte(seed), []byte(strings.ToLower(sentinel))))
		if _, err := s.store.GetSecret(ctx, sentinel, kind); err == nil {
			continue
		} else if err != storage.ErrNotFound {
			return fmt.Errorf("read sentinel secret: %w", err)
		}
		if err := s.store.PutSecret(ctx, sentinel, kind, secret); err != nil {
			return fmt.Errorf("seed sentinel secret: %w", err)
		}
	}
	return nil
}

// IsEnrolled reports whether the wallet holds a secret of the given kind.
func (s *Service) IsEnrolled(ctx context.Context, wallet string, kind storage.SecretKind) (bool, error) {
	_, err := s.store.GetSecret(ctx, wallet, kind)
	if err == storage.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read secret: %w", err)
	}
	return true, nil
}

// Require returns SecretNotSet when the wallet has no secret of this kind.
// Gated endpoints call this before touching the ledger.
func (s *Service) Require(ctx context.Context, wallet string, kind storage.SecretKind) error {
	enrolled, err := s.IsEnrolled(ctx, wallet, kind)
	if err != nil {
		return apperrors.Internal("check secret enrollment", err)
	}
	if !enrolled {
		return apperrors.SecretNotSet(string(kind))
	}
	return nil
}

// Missing lists the secret kinds the wallet has not enrolled yet.
func (s *Service) Missing(ctx context.Context, wallet string) ([]string, error) {
	var missing []string
	for _, kind := range []storage.SecretKind{storage.SecretBalance, storage.SecretTransaction} {
		enrolled, err := s.IsEnrolled(ctx, wallet, kind)
		if err != nil {
			return nil, err
		}
		if !enrolled {
			missing = append(missing, string(kind))
		}
	}
	return missing, nil
}
