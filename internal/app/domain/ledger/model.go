// Package ledger holds the domain types of the Merkle-backed token ledger.
package ledger

// Proof is a Merkle inclusion proof as handed to clients. Siblings are hex
// encoded and ordered leaf to root; a proof is meaningless detached from the
// root it was issued against.
type Proof struct {
	Root     string   `json:"root"`
	Siblings []string `json:"siblings"`
	Key      string   `json:"key"`
	Value    string   `json:"value"`
}

// Balance is one (wallet, token) leaf with its current proof.
type Balance struct {
	Token   string `json:"token"`
	Balance string `json:"balance"`
	Proof   Proof  `json:"proof"`
}

// Entry is one transaction-history leaf. Two entries exist per logical
// transfer, one attributable to each side.
type Entry struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// Direction of a history entry relative to the wallet asking for it.
const (
	TypeSent     = "sent"
	TypeReceived = "received"
	TypeDeposit  = "deposit"
)

// HistoryItem is an Entry tagged with its direction for the caller.
type HistoryItem struct {
	Entry
	Type string `json:"type"`
}

// TransferResult is returned by a completed off-chain transfer. TxHash is
// the balance-tree root after the transfer applied.
type TransferResult struct {
	TxHash string `json:"txHash"`
	From   string `json:"from"`
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}
