package ramp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/velora/ramp-backend/internal/payment"
	"github.com/velora/ramp-backend/internal/receipt"
	"github.com/velora/ramp-backend/internal/settlement"
	"github.com/velora/ramp-backend/internal/storage"
)

// Alerter delivers out-of-band operator alerts. May be a no-op.
type Alerter interface {
	Alert(ctx context.Context, text string)
}

// Ack is the webhook acknowledgement returned to the provider. Duplicate
// deliveries are acknowledged so the provider stops retrying.
type Ack struct {
	OK        bool `json:"ok"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// Processor drives the settlement state machine triggered by provider
// callbacks.
//
// Statuses move pending -> settling -> completed | failed | needs_review.
// The pending -> settling claim is a conditional update committed before any
// external call, so redelivered or concurrent callbacks for the same session
// short-circuit instead of transferring twice.
type Processor struct {
	storage  *storage.Storage
	verifier *payment.Verifier
	settler  settlement.Backend
	receipts receipt.Backend
	alerts   Alerter
	log      *slog.Logger

	transferTimeout time.Duration
	storageTimeout  time.Duration
}

// NewProcessor creates a webhook processor
func NewProcessor(store *storage.Storage, verifier *payment.Verifier, settler settlement.Backend, receipts receipt.Backend, alerts Alerter, log *slog.Logger) *Processor {
	return &Processor{
		storage:         store,
		verifier:        verifier,
		settler:         settler,
		receipts:        receipts,
		alerts:          alerts,
		log:             log,
		transferTimeout: 2 * time.Minute,
		storageTimeout:  30 * time.Second,
	}
}

// Handle processes one settlement callback delivery. rawBody is the exact
// request body the signature was computed over.
func (p *Processor) Handle(ctx context.Context, rawBody []byte, signature string) (*Ack, error) {
	if !p.verifier.Verify(rawBody, signature) {
		return nil, NewError(KindAuth, "invalid signature")
	}

	var cb payment.Callback
	if err := json.Unmarshal(rawBody, &cb); err != nil {
		return nil, WrapError(KindValidation, "malformed callback body", err)
	}
	if cb.SessionID == 0 {
		return nil, NewError(KindValidation, "sessionId required")
	}

	sess, user, err := p.storage.GetSessionWithUser(cb.SessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, NewError(KindNotFound, "session not found")
	}
	if err != nil {
		return nil, WrapError(KindInternal, "load session", err)
	}

	if cb.Status == "success" {
		return p.settle(ctx, sess, user)
	}
	return p.fail(sess, cb.Status)
}

func (p *Processor) fail(sess *storage.Session, cbStatus string) (*Ack, error) {
	transitioned, err := p.storage.TransitionSession(sess.ID, storage.StatusPending, storage.StatusFailed)
	if err != nil {
		return nil, WrapError(KindInternal, "mark session failed", err)
	}
	if !transitioned {
		p.log.Info("duplicate callback for non-pending session",
			"session_id", sess.ID,
			"session_status", sess.Status,
			"callback_status", cbStatus,
		)
		return &Ack{OK: true, Duplicate: true}, nil
	}

	p.log.Info("session failed by provider callback",
		"session_id", sess.ID,
		"callback_status", cbStatus,
	)
	return &Ack{OK: true}, nil
}

func (p *Processor) settle(ctx context.Context, sess *storage.Session, user *storage.User) (*Ack, error) {
	claimed, err := p.storage.TransitionSession(sess.ID, storage.StatusPending, storage.StatusSettling)
	if err != nil {
		return nil, WrapError(KindInternal, "claim session", err)
	}
	if !claimed {
		// Already settling, completed, failed or under review. Whatever the
		// state, re-executing the transfer here is the double-settlement
		// hazard this claim exists to prevent.
		p.log.Info("duplicate success callback ignored",
			"session_id", sess.ID,
			"session_status", sess.Status,
		)
		return &Ack{OK: true, Duplicate: true}, nil
	}

	// Fiat settles 1:1 into stablecoin units.
	amount := sess.FiatAmount

	transferCtx, cancel := context.WithTimeout(ctx, p.transferTimeout)
	defer cancel()

	ref, err := p.settler.Transfer(transferCtx, user.Wallet, amount)
	if err != nil {
		var ind *settlement.IndeterminateError
		if errors.As(err, &ind) {
			// The transfer was submitted and may still mine. Releasing the
			// claim would invite a provider retry that transfers twice.
			p.review(ctx, sess.ID, ind.TxHash, "transfer outcome indeterminate")
			return nil, WrapError(KindInternal, "transfer outcome indeterminate", err)
		}

		// Nothing moved. Release the claim so a provider retry can settle.
		if _, relErr := p.storage.TransitionSession(sess.ID, storage.StatusSettling, storage.StatusPending); relErr != nil {
			p.log.Error("release claim after transfer failure", "session_id", sess.ID, "error", relErr)
		}
		return nil, WrapError(KindSettlement, "stablecoin transfer failed", err)
	}

	storageCtx, cancel := context.WithTimeout(ctx, p.storageTimeout)
	defer cancel()

	rec := &receipt.Receipt{
		SessionID: sess.ID,
		Wallet:    user.Wallet,
		Amount:    amount.String(),
		TxHash:    ref,
		Timestamp: time.Now().UnixMilli(),
	}
	cid, err := p.receipts.StoreReceipt(storageCtx, rec)
	if err != nil {
		// The transfer is already out; retrying the whole callback would
		// transfer again. Park the session for manual reconciliation.
		p.review(ctx, sess.ID, ref, "receipt upload failed after transfer")
		return nil, WrapError(KindStorage, "receipt storage failed", err)
	}

	ledger := &storage.Transaction{
		SessionID:  sess.ID,
		TxHash:     ref,
		StorageCID: cid,
		Amount:     amount,
		Status:     "success",
		Type:       sess.Type,
		Wallet:     user.Wallet,
	}
	if err := p.storage.CreateTransaction(ledger); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		p.review(ctx, sess.ID, ref, "ledger write failed after transfer")
		return nil, WrapError(KindInternal, "ledger write failed", err)
	}

	completed, err := p.storage.TransitionSession(sess.ID, storage.StatusSettling, storage.StatusCompleted)
	if err != nil {
		p.review(ctx, sess.ID, ref, "completion update failed after transfer")
		return nil, WrapError(KindInternal, "complete session", err)
	}
	if !completed {
		// Someone moved the session out of settling underneath us. The
		// transfer and ledger row stand; leave the external status alone.
		p.log.Warn("completion edge lost; session left settling externally",
			"session_id", sess.ID,
			"tx_hash", ref,
		)
	}

	p.log.Info("session settled",
		"session_id", sess.ID,
		"wallet", user.Wallet,
		"amount", amount.String(),
		"tx_hash", ref,
		"storage_cid", cid,
	)

	return &Ack{OK: true}, nil
}

// review parks a partially settled session for manual reconciliation and
// alerts operators. The transfer reference is included so the reconciler
// can verify what actually moved on chain.
func (p *Processor) review(ctx context.Context, sessionID int64, transferRef, reason string) {
	if _, err := p.storage.TransitionSession(sessionID, storage.StatusSettling, storage.StatusNeedsReview); err != nil {
		p.log.Error("mark session for review", "session_id", sessionID, "error", err)
	}

	p.log.Error("session needs reconciliation",
		"session_id", sessionID,
		"transfer_ref", transferRef,
		"reason", reason,
	)

	if p.alerts != nil {
		p.alerts.Alert(ctx, fmt.Sprintf(
			"⚠️ <b>Settlement needs review</b>\n\nSession <code>%d</code>\nTransfer <code>%s</code>\n%s",
			sessionID, transferRef, reason,
		))
	}
}
