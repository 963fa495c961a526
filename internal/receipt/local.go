package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// LocalBackend derives content IDs without an upload. The identifier is a
// real CIDv1 (raw + sha2-256) over the canonical JSON encoding, so the same
// receipt always yields the same ID and the content can later be backfilled
// to real storage under the identical address. Requires the explicit
// ALLOW_LOCAL_RECEIPTS deployment flag; nothing is persisted remotely.
type LocalBackend struct {
	log *slog.Logger
}

// NewLocalBackend creates a local fallback backend
func NewLocalBackend(log *slog.Logger) *LocalBackend {
	return &LocalBackend{log: log}
}

// CIDv1RawSHA256 returns a CIDv1 string using the raw multicodec and a
// sha2-256 multihash over data.
func CIDv1RawSHA256(data []byte) (string, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// StoreReceipt derives a deterministic content ID for the receipt.
func (b *LocalBackend) StoreReceipt(ctx context.Context, r *Receipt) (string, error) {
	envelope := struct {
		Kind string   `json:"kind"`
		Data *Receipt `json:"data"`
	}{Kind: "receipt", Data: r}

	data, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}

	id, err := CIDv1RawSHA256(data)
	if err != nil {
		return "", err
	}

	b.log.Warn("receipt storage not configured; derived local content id",
		"session_id", r.SessionID,
		"cid", id,
	)

	return id, nil
}

// StoreKYCReference returns the caller-provided CID unchanged, matching the
// unconfigured-storage behavior the KYC flow expects.
func (b *LocalBackend) StoreKYCReference(ctx context.Context, wallet, cidStr string, meta map[string]string) (string, error) {
	b.log.Warn("receipt storage not configured; returning provided cid as-is", "wallet", wallet)
	return cidStr, nil
}
