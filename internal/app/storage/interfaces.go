// Package storage defines the persistence interfaces consumed by the
// application services.
package storage

import (
	"context"
	"errors"

	"github.com/voidwallet/voidd/internal/app/domain/bridge"
)

// ErrNotFound is returned for absent records.
var ErrNotFound = errors.New("storage: not found")

// SecretKind names one independently-enrolled visibility secret.
type SecretKind string

const (
	SecretBalance     SecretKind = "balance"
	SecretTransaction SecretKind = "transaction"
)

// SecretStore persists per-wallet enrollment secrets. Records are
// write-once: PutSecret must not be called for an existing (wallet, kind).
type SecretStore interface {
	PutSecret(ctx context.Context, wallet string, kind SecretKind, secret string) error
	GetSecret(ctx context.Context, wallet string, kind SecretKind) (string, error)
}

// DepositStore persists deposit state for idempotent, lossless ingestion:
// a durable pending queue for deposits that arrived before enrollment, and
// applied markers keyed by (txHash, logIndex) for replay dedupe.
type DepositStore interface {
	EnqueuePending(ctx context.Context, dep bridge.Deposit) error
	ListPending(ctx context.Context) ([]bridge.Deposit, error)
	DeletePending(ctx context.Context, id string) error

	MarkApplied(ctx context.Context, id string) error
	IsApplied(ctx context.Context, id string) (bool, error)
}

// CommitmentStore persists the state-root commitment term and the last
// submitted commitment.
type CommitmentStore interface {
	CurrentTerm(ctx context.Context) (uint64, error)
	PutTerm(ctx context.Context, term uint64) error
	PutLastCommitment(ctx context.Context, c bridge.Commitment) error
	LastCommitment(ctx context.Context) (bridge.Commitment, error)
}

// LedgerIndexStore persists the secondary indexes the ledger needs to serve
// per-wallet reads: which tokens a wallet holds, which history leaves are
// attributable to it, and the monotonic history leaf counter.
type LedgerIndexStore interface {
	AddWalletToken(ctx context.Context, wallet, token string) error
	ListWalletTokens(ctx context.Context, wallet string) ([]string, error)

	AppendWalletLeaf(ctx context.Context, wallet string, leafIndex uint64) error
	ListWalletLeaves(ctx context.Context, wallet string) ([]uint64, error)

	// NextLeafIndex returns the next history leaf index and advances the
	// persisted counter.
	NextLeafIndex(ctx context.Context) (uint64, error)
}
