package receipt

import "context"

// Receipt is the tamper-evident proof of a completed settlement.
type Receipt struct {
	SessionID int64  `json:"sessionId"`
	Wallet    string `json:"wallet"`
	Amount    string `json:"amountUSDC"`
	TxHash    string `json:"txHash"`
	Timestamp int64  `json:"ts"`
}

// Backend persists receipts and KYC references to content-addressed
// storage. One implementation is selected at startup: the remote 0G
// endpoint when configured, a deterministic local derivation otherwise.
type Backend interface {
	StoreReceipt(ctx context.Context, r *Receipt) (string, error)
	StoreKYCReference(ctx context.Context, wallet, cid string, meta map[string]string) (string, error)
}
