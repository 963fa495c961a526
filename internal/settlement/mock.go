package settlement

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// MockBackend synthesizes transfer references without touching a chain.
// It exists so the receipt and ledger pipeline stays exercisable in
// development; enabling it requires an explicit deployment flag.
type MockBackend struct {
	decimals int
	log      *slog.Logger
}

// NewMockBackend creates a mock settlement backend for a token with the
// given number of decimals.
func NewMockBackend(decimals int, log *slog.Logger) *MockBackend {
	return &MockBackend{decimals: decimals, log: log}
}

// Transfer returns a plausible-looking but non-authoritative reference.
func (b *MockBackend) Transfer(ctx context.Context, toWallet string, amount decimal.Decimal) (string, error) {
	if _, err := ToBaseUnits(amount, b.decimals); err != nil {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate mock reference: %w", err)
	}
	ref := "0x" + hex.EncodeToString(buf)

	b.log.Warn("mock settlement: no real transfer occurred",
		"to", toWallet,
		"amount", amount.String(),
		"ref", ref,
	)

	return ref, nil
}
