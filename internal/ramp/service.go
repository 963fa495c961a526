package ramp

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/velora/ramp-backend/internal/payment"
	"github.com/velora/ramp-backend/internal/storage"
)

// Service creates and looks up ramp sessions.
type Service struct {
	storage  *storage.Storage
	payments *payment.Client
	log      *slog.Logger
}

// NewService creates a new session service
func NewService(store *storage.Storage, payments *payment.Client, log *slog.Logger) *Service {
	return &Service{
		storage:  store,
		payments: payments,
		log:      log,
	}
}

// OnRampResult is returned from a created on-ramp session.
type OnRampResult struct {
	SessionID   int64  `json:"sessionId"`
	ClientToken string `json:"clientToken"`
	PaymentURL  string `json:"paymentUrl"`
}

// OffRampResult is returned from a created off-ramp request.
type OffRampResult struct {
	SessionID  int64  `json:"sessionId"`
	DepositRef string `json:"depositRef"`
}

// NormalizeWallet lower-cases a wallet address, which is the canonical key
// form everywhere in the system.
func NormalizeWallet(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", NewError(KindValidation, "walletAddress required")
	}
	return strings.ToLower(addr), nil
}

// CreateOnRamp validates input, resolves the user, obtains a payment intent
// and persists a pending session correlated by the intent's client token.
func (s *Service) CreateOnRamp(ctx context.Context, walletAddress string, fiatAmount decimal.Decimal, currency string) (*OnRampResult, error) {
	wallet, err := NormalizeWallet(walletAddress)
	if err != nil {
		return nil, err
	}
	if !fiatAmount.IsPositive() {
		return nil, NewError(KindValidation, "fiatAmount must be positive")
	}
	if strings.TrimSpace(currency) == "" {
		return nil, NewError(KindValidation, "currency required")
	}

	user, err := s.storage.ResolveUser(wallet)
	if err != nil {
		return nil, WrapError(KindInternal, "resolve user", err)
	}

	intent, err := s.payments.CreateIntent(ctx, wallet, fiatAmount, currency)
	if err != nil {
		return nil, WrapError(KindInternal, "create payment intent", err)
	}

	sess, err := s.storage.CreateSession(user.ID, storage.TypeOnRamp, fiatAmount, currency, "", intent.ClientToken)
	if err != nil {
		return nil, WrapError(KindInternal, "create session", err)
	}

	s.log.Info("onramp session created",
		"session_id", sess.ID,
		"wallet", wallet,
		"fiat_amount", fiatAmount.String(),
		"currency", currency,
	)

	return &OnRampResult{
		SessionID:   sess.ID,
		ClientToken: intent.ClientToken,
		PaymentURL:  intent.PaymentURL,
	}, nil
}

// CreateOffRamp validates input, resolves the user and persists a pending
// session correlated by a freshly generated deposit memo. The memo carries a
// random UUID so concurrent requests can never collide.
func (s *Service) CreateOffRamp(ctx context.Context, walletAddress string, amount decimal.Decimal, payoutMethod string) (*OffRampResult, error) {
	wallet, err := NormalizeWallet(walletAddress)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, NewError(KindValidation, "amount must be positive")
	}
	if strings.TrimSpace(payoutMethod) == "" {
		return nil, NewError(KindValidation, "payoutMethod required")
	}

	user, err := s.storage.ResolveUser(wallet)
	if err != nil {
		return nil, WrapError(KindInternal, "resolve user", err)
	}

	memo := "OFF-" + uuid.NewString()

	sess, err := s.storage.CreateSession(user.ID, storage.TypeOffRamp, amount, "", payoutMethod, memo)
	if err != nil {
		return nil, WrapError(KindInternal, "create session", err)
	}

	s.log.Info("offramp session created",
		"session_id", sess.ID,
		"wallet", wallet,
		"amount", amount.String(),
		"deposit_ref", memo,
	)

	return &OffRampResult{
		SessionID:  sess.ID,
		DepositRef: memo,
	}, nil
}

// Get returns a session by ID.
func (s *Service) Get(sessionID int64) (*storage.Session, error) {
	sess, err := s.storage.GetSession(sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, NewError(KindNotFound, "session not found")
	}
	if err != nil {
		return nil, WrapError(KindInternal, "get session", err)
	}
	return sess, nil
}
