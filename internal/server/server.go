package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/velora/ramp-backend/internal/ramp"
	"github.com/velora/ramp-backend/internal/receipt"
	"github.com/velora/ramp-backend/internal/storage"
)

// SignatureHeader carries the provider's HMAC over the callback body.
const SignatureHeader = "x-provider-signature"

// Server exposes the ramp HTTP API.
type Server struct {
	sessions  *ramp.Service
	processor *ramp.Processor
	storage   *storage.Storage
	receipts  receipt.Backend
	log       *slog.Logger

	server *http.Server
}

// New creates a new API server
func New(sessions *ramp.Service, processor *ramp.Processor, store *storage.Storage, receipts receipt.Backend, log *slog.Logger) *Server {
	return &Server{
		sessions:  sessions,
		processor: processor,
		storage:   store,
		receipts:  receipts,
		log:       log,
	}
}

// Handler returns the route table. Exposed separately so tests can drive
// the API without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/onramp/create-session", s.handleCreateOnRamp)
	mux.HandleFunc("POST /api/offramp/request", s.handleOffRampRequest)
	mux.HandleFunc("POST /api/webhook/payment", s.handlePaymentWebhook)
	mux.HandleFunc("GET /api/transactions/by-wallet/{wallet}", s.handleTransactionsByWallet)
	mux.HandleFunc("GET /api/dev/apikey/{wallet}", s.handleGetAPIKey)
	mux.HandleFunc("POST /api/dev/apikey", s.handleGenerateAPIKey)
	mux.HandleFunc("POST /api/kyc/submit", s.handleKYCSubmit)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start serves the API until the context is canceled.
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Minute, // webhook settlement waits for chain confirmation
	}

	s.log.Info("starting api server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type onRampRequest struct {
	WalletAddress string      `json:"walletAddress"`
	FiatAmount    json.Number `json:"fiatAmount"`
	Currency      string      `json:"currency"`
}

func (s *Server) handleCreateOnRamp(w http.ResponseWriter, r *http.Request) {
	var req onRampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, ramp.WrapError(ramp.KindValidation, "malformed JSON body", err))
		return
	}

	amount, err := parseAmount(req.FiatAmount, "fiatAmount")
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.sessions.CreateOnRamp(r.Context(), req.WalletAddress, amount, req.Currency)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type offRampRequest struct {
	WalletAddress string      `json:"walletAddress"`
	Amount        json.Number `json:"amount"`
	PayoutMethod  string      `json:"payoutMethod"`
}

func (s *Server) handleOffRampRequest(w http.ResponseWriter, r *http.Request) {
	var req offRampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, ramp.WrapError(ramp.KindValidation, "malformed JSON body", err))
		return
	}

	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.sessions.CreateOffRamp(r.Context(), req.WalletAddress, amount, req.PayoutMethod)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	// The signature covers the exact body bytes; read them before decoding.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, ramp.WrapError(ramp.KindValidation, "unreadable body", err))
		return
	}

	ack, err := s.processor.Handle(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleTransactionsByWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := ramp.NormalizeWallet(r.PathValue("wallet"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	txs, err := s.storage.ListTransactionsByWallet(wallet)
	if err != nil {
		s.writeError(w, ramp.WrapError(ramp.KindInternal, "list transactions", err))
		return
	}

	rows := make([]transactionRow, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, transactionRow{
			ID:         tx.ID,
			SessionID:  tx.SessionID,
			TxHash:     tx.TxHash,
			StorageCID: tx.StorageCID,
			Amount:     tx.Amount.String(),
			Status:     tx.Status,
			Type:       tx.Type,
			Wallet:     tx.Wallet,
			CreatedAt:  tx.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, rows)
}

type transactionRow struct {
	ID         int64  `json:"id"`
	SessionID  int64  `json:"sessionId"`
	TxHash     string `json:"txHash,omitempty"`
	StorageCID string `json:"storageCid"`
	Amount     string `json:"amount"`
	Status     string `json:"status"`
	Type       string `json:"type"`
	Wallet     string `json:"wallet"`
	CreatedAt  string `json:"createdAt"`
}

func (s *Server) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	wallet, err := ramp.NormalizeWallet(r.PathValue("wallet"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	user, err := s.storage.GetUserByWallet(wallet)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, ramp.WrapError(ramp.KindInternal, "get user", err))
		return
	}

	var key *string
	if user != nil {
		key = user.APIKey
	}
	writeJSON(w, http.StatusOK, map[string]*string{"apiKey": key})
}

func (s *Server) handleGenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, ramp.WrapError(ramp.KindValidation, "malformed JSON body", err))
		return
	}

	wallet, err := ramp.NormalizeWallet(req.Wallet)
	if err != nil {
		s.writeError(w, err)
		return
	}

	key, err := generateAPIKey()
	if err != nil {
		s.writeError(w, ramp.WrapError(ramp.KindInternal, "generate api key", err))
		return
	}

	user, err := s.storage.SetAPIKey(wallet, key)
	if err != nil {
		s.writeError(w, ramp.WrapError(ramp.KindInternal, "store api key", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]*string{"apiKey": user.APIKey})
}

func (s *Server) handleKYCSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string `json:"walletAddress"`
		CID           string `json:"cid"`
		Mime          string `json:"mime"`
		Size          string `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, ramp.WrapError(ramp.KindValidation, "malformed JSON body", err))
		return
	}

	wallet, err := ramp.NormalizeWallet(req.WalletAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.CID == "" {
		s.writeError(w, ramp.NewError(ramp.KindValidation, "cid required"))
		return
	}

	meta := map[string]string{}
	if req.Mime != "" {
		meta["mime"] = req.Mime
	}
	if req.Size != "" {
		meta["size"] = req.Size
	}

	stored, err := s.receipts.StoreKYCReference(r.Context(), wallet, req.CID, meta)
	if err != nil {
		s.writeError(w, ramp.WrapError(ramp.KindStorage, "kyc reference storage failed", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"cid": stored})
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func parseAmount(raw json.Number, field string) (decimal.Decimal, error) {
	if raw.String() == "" {
		return decimal.Zero, ramp.NewError(ramp.KindValidation, field+" required")
	}
	amount, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, ramp.WrapError(ramp.KindValidation, field+" is not a number", err)
	}
	return amount, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := ramp.KindOf(err)

	var status int
	var message string
	switch kind {
	case ramp.KindValidation:
		status = http.StatusBadRequest
		message = errMessage(err)
	case ramp.KindAuth:
		status = http.StatusUnauthorized
		message = errMessage(err)
	case ramp.KindNotFound:
		status = http.StatusNotFound
		message = errMessage(err)
	case ramp.KindSettlement:
		status = http.StatusBadGateway
		message = "settlement failed"
	case ramp.KindStorage:
		status = http.StatusInternalServerError
		message = "storage failed"
	default:
		status = http.StatusInternalServerError
		message = "internal error"
	}

	if status >= 500 {
		s.log.Error("request failed", "kind", string(kind), "error", err)
	} else {
		s.log.Warn("request rejected", "kind", string(kind), "error", err)
	}

	writeJSON(w, status, map[string]string{"error": message})
}

// errMessage returns the category message without wrapped cause detail, so
// 4xx bodies stay specific but never leak internals.
func errMessage(err error) string {
	if e, ok := err.(*ramp.Error); ok {
		return e.Message
	}
	return "request failed"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
