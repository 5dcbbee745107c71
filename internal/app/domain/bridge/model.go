// Package bridge holds the domain types shared between the chain bridge and
// its stores.
package bridge

import "time"

// Deposit is one on-chain Deposited event, normalized to decimal units.
// ID is "<txHash>:<logIndex>", the dedupe key for idempotent replay.
type Deposit struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Token     string    `json:"token"`
	RawAmount string    `json:"raw_amount"`
	Amount    string    `json:"amount"`
	TxHash    string    `json:"tx_hash"`
	LogIndex  uint      `json:"log_index"`
	CreatedAt time.Time `json:"created_at"`
}

// Commitment is a signed state-root snapshot submitted on-chain.
type Commitment struct {
	StateRoot string    `json:"state_root"`
	Term      uint64    `json:"term"`
	Signature string    `json:"signature"`
	TxHash    string    `json:"tx_hash"`
	SentAt    time.Time `json:"sent_at"`
}
