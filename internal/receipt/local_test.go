package receipt

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLocalStoreReceiptDeterministic(t *testing.T) {
	b := NewLocalBackend(discardLogger())
	r := &Receipt{
		SessionID: 1,
		Wallet:    "0xabc",
		Amount:    "100",
		TxHash:    "0xdeadbeef",
		Timestamp: 1700000000000,
	}

	id1, err := b.StoreReceipt(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := b.StoreReceipt(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}

	if id1 != id2 {
		t.Errorf("same receipt produced different ids: %s vs %s", id1, id2)
	}
	if !strings.HasPrefix(id1, "bafkrei") {
		t.Errorf("expected CIDv1 raw sha2-256 prefix, got %s", id1)
	}
}

func TestLocalStoreReceiptContentBound(t *testing.T) {
	b := NewLocalBackend(discardLogger())
	r1 := &Receipt{SessionID: 1, Wallet: "0xabc", Amount: "100", Timestamp: 1}
	r2 := &Receipt{SessionID: 2, Wallet: "0xabc", Amount: "100", Timestamp: 1}

	id1, err := b.StoreReceipt(context.Background(), r1)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := b.StoreReceipt(context.Background(), r2)
	if err != nil {
		t.Fatal(err)
	}

	if id1 == id2 {
		t.Error("different receipts must produce different ids")
	}
}

func TestLocalStoreKYCReferencePassthrough(t *testing.T) {
	b := NewLocalBackend(discardLogger())

	got, err := b.StoreKYCReference(context.Background(), "0xabc", "bafkreigh2akiscaildc", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "bafkreigh2akiscaildc" {
		t.Errorf("expected provided cid back, got %s", got)
	}
}
