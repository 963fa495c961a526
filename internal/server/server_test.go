package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/velora/ramp-backend/internal/payment"
	"github.com/velora/ramp-backend/internal/ramp"
	"github.com/velora/ramp-backend/internal/receipt"
	"github.com/velora/ramp-backend/internal/settlement"
	"github.com/velora/ramp-backend/internal/storage"
)

type apiFixture struct {
	srv      *httptest.Server
	store    *storage.Storage
	verifier *payment.Verifier
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("init storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	verifier := payment.NewVerifier("test-secret", false)
	payments := payment.NewClient("", "")
	settler := settlement.NewMockBackend(6, log)
	receipts := receipt.NewLocalBackend(log)

	sessions := ramp.NewService(store, payments, log)
	processor := ramp.NewProcessor(store, verifier, settler, receipts, nil, log)

	api := New(sessions, processor, store, receipts, log)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiFixture{srv: srv, store: store, verifier: verifier}
}

func (f *apiFixture) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return resp, decodeObject(t, resp)
}

func (f *apiFixture) postWebhook(t *testing.T, body []byte, signature string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/webhook/payment", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp, decodeObject(t, resp)
}

func decodeObject(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestOnRampSettlementFlow(t *testing.T) {
	f := newAPIFixture(t)

	// Create the session
	resp, created := f.postJSON(t, "/api/onramp/create-session", map[string]any{
		"walletAddress": "0xabc",
		"fiatAmount":    100,
		"currency":      "USD",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	sessionID := int64(created["sessionId"].(float64))
	if sessionID != 1 {
		t.Errorf("first session id = %d, want 1", sessionID)
	}
	if created["clientToken"] == "" || created["paymentUrl"] == "" {
		t.Errorf("incomplete create response: %v", created)
	}

	// Deliver the signed success callback
	body, _ := json.Marshal(map[string]any{"sessionId": sessionID, "status": "success"})
	resp, ack := f.postWebhook(t, body, f.verifier.Sign(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: status %d body %v", resp.StatusCode, ack)
	}
	if ack["ok"] != true {
		t.Errorf("ack = %v", ack)
	}

	sess, err := f.store.GetSession(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != storage.StatusCompleted {
		t.Errorf("status = %s, want completed", sess.Status)
	}

	// Exactly one ledger row, visible through the API
	resp, err2 := http.Get(f.srv.URL + "/api/transactions/by-wallet/0xabc")
	if err2 != nil {
		t.Fatal(err2)
	}
	defer resp.Body.Close()
	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row["amount"] != "100" || row["wallet"] != "0xabc" || row["type"] != storage.TypeOnRamp {
		t.Errorf("ledger row = %v", row)
	}
	if !strings.HasPrefix(row["storageCid"].(string), "baf") {
		t.Errorf("storage cid = %v", row["storageCid"])
	}

	// Redelivery is acknowledged as a duplicate and writes nothing new
	resp, ack = f.postWebhook(t, body, f.verifier.Sign(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("redelivery: status %d", resp.StatusCode)
	}
	if ack["duplicate"] != true {
		t.Errorf("redelivery ack = %v", ack)
	}
	count, _ := f.store.CountTransactionsBySession(sessionID)
	if count != 1 {
		t.Errorf("ledger rows after redelivery = %d, want 1", count)
	}
}

func TestOnRampFailureFlow(t *testing.T) {
	f := newAPIFixture(t)

	_, created := f.postJSON(t, "/api/onramp/create-session", map[string]any{
		"walletAddress": "0xabc",
		"fiatAmount":    "25.50",
		"currency":      "EUR",
	})
	sessionID := int64(created["sessionId"].(float64))

	body, _ := json.Marshal(map[string]any{"sessionId": sessionID, "status": "failed"})
	resp, _ := f.postWebhook(t, body, f.verifier.Sign(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: status %d", resp.StatusCode)
	}

	sess, _ := f.store.GetSession(sessionID)
	if sess.Status != storage.StatusFailed {
		t.Errorf("status = %s, want failed", sess.Status)
	}
	count, _ := f.store.CountTransactionsBySession(sessionID)
	if count != 0 {
		t.Errorf("failed session has %d ledger rows", count)
	}
}

func TestOffRampRequest(t *testing.T) {
	f := newAPIFixture(t)

	resp, created := f.postJSON(t, "/api/offramp/request", map[string]any{
		"walletAddress": "0xABC",
		"amount":        50,
		"payoutMethod":  "bank",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, created)
	}

	memoPattern := regexp.MustCompile(`^OFF-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	ref, _ := created["depositRef"].(string)
	if !memoPattern.MatchString(ref) {
		t.Errorf("deposit ref %q does not match the memo format", ref)
	}
}

func TestValidationErrors(t *testing.T) {
	f := newAPIFixture(t)

	cases := []struct {
		name string
		path string
		body map[string]any
	}{
		{"onramp missing wallet", "/api/onramp/create-session", map[string]any{"fiatAmount": 100, "currency": "USD"}},
		{"onramp missing amount", "/api/onramp/create-session", map[string]any{"walletAddress": "0xabc", "currency": "USD"}},
		{"onramp negative amount", "/api/onramp/create-session", map[string]any{"walletAddress": "0xabc", "fiatAmount": -1, "currency": "USD"}},
		{"offramp missing payout", "/api/offramp/request", map[string]any{"walletAddress": "0xabc", "amount": 50}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := f.postJSON(t, tc.path, tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%v)", resp.StatusCode, body)
			}
			if body["error"] == "" {
				t.Error("error body missing message")
			}
		})
	}
}

func TestWebhookRejections(t *testing.T) {
	f := newAPIFixture(t)

	_, created := f.postJSON(t, "/api/onramp/create-session", map[string]any{
		"walletAddress": "0xabc",
		"fiatAmount":    100,
		"currency":      "USD",
	})
	sessionID := int64(created["sessionId"].(float64))
	body, _ := json.Marshal(map[string]any{"sessionId": sessionID, "status": "success"})

	// Missing signature
	resp, _ := f.postWebhook(t, body, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing signature: status = %d, want 401", resp.StatusCode)
	}

	// Tampered body under a valid signature for different bytes
	tampered, _ := json.Marshal(map[string]any{"sessionId": sessionID, "status": "failed"})
	resp, _ = f.postWebhook(t, tampered, f.verifier.Sign(body))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("tampered body: status = %d, want 401", resp.StatusCode)
	}

	// Unknown session
	unknown, _ := json.Marshal(map[string]any{"sessionId": 9999, "status": "success"})
	resp, _ = f.postWebhook(t, unknown, f.verifier.Sign(unknown))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: status = %d, want 404", resp.StatusCode)
	}

	// Rejected deliveries must not advance the session
	sess, _ := f.store.GetSession(sessionID)
	if sess.Status != storage.StatusPending {
		t.Errorf("status = %s, want pending", sess.Status)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	// No key yet
	resp, err := http.Get(f.srv.URL + "/api/dev/apikey/0xabc")
	if err != nil {
		t.Fatal(err)
	}
	got := decodeObject(t, resp)
	if got["apiKey"] != nil {
		t.Errorf("fresh wallet has key %v", got["apiKey"])
	}

	// Generate
	resp, created := f.postJSON(t, "/api/dev/apikey", map[string]any{"wallet": "0xabc"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate: status %d", resp.StatusCode)
	}
	key, _ := created["apiKey"].(string)
	if len(key) != 64 {
		t.Errorf("api key %q is not 32 hex bytes", key)
	}

	// Read back
	resp, err = http.Get(f.srv.URL + "/api/dev/apikey/0xabc")
	if err != nil {
		t.Fatal(err)
	}
	got = decodeObject(t, resp)
	if got["apiKey"] != key {
		t.Errorf("read back %v, want %q", got["apiKey"], key)
	}
}

func TestKYCSubmit(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.postJSON(t, "/api/kyc/submit", map[string]any{
		"walletAddress": "0xabc",
		"cid":           "bafkreidoc",
		"mime":          "application/pdf",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["cid"] != "bafkreidoc" {
		t.Errorf("cid = %v", body["cid"])
	}

	resp, _ = f.postJSON(t, "/api/kyc/submit", map[string]any{"walletAddress": "0xabc"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing cid: status = %d, want 400", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeObject(t, resp)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Errorf("health: status=%d body=%v", resp.StatusCode, body)
	}
}
