package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrUploadFailed marks a failed upload against a configured endpoint.
// Unlike the unconfigured local fallback, this is an operational incident
// and must never be silently replaced by a synthetic identifier.
var ErrUploadFailed = errors.New("receipt upload failed")

// RemoteBackend uploads to the 0G storage HTTP endpoint.
type RemoteBackend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewRemoteBackend creates a remote storage backend
func NewRemoteBackend(baseURL, apiKey string, log *slog.Logger) *RemoteBackend {
	return &RemoteBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		log: log,
	}
}

type uploadResponse struct {
	CID  string `json:"cid"`
	Hash string `json:"hash"`
}

func (b *RemoteBackend) upload(ctx context.Context, payload interface{}) (string, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/upload", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrUploadFailed, err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode, string(data))
	}

	var parsed uploadResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", ErrUploadFailed, err)
	}

	// The endpoint has returned either field across versions.
	if parsed.CID != "" {
		return parsed.CID, nil
	}
	if parsed.Hash != "" {
		return parsed.Hash, nil
	}
	return "", fmt.Errorf("%w: response carried neither cid nor hash", ErrUploadFailed)
}

// StoreReceipt uploads a settlement receipt and returns its content ID.
func (b *RemoteBackend) StoreReceipt(ctx context.Context, r *Receipt) (string, error) {
	envelope := map[string]interface{}{
		"kind": "receipt",
		"data": r,
	}

	cid, err := b.upload(ctx, envelope)
	if err != nil {
		b.log.Error("receipt upload failed", "session_id", r.SessionID, "error", err)
		return "", err
	}

	return cid, nil
}

// StoreKYCReference uploads a KYC document reference for a wallet.
func (b *RemoteBackend) StoreKYCReference(ctx context.Context, wallet, cid string, meta map[string]string) (string, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	payload := map[string]interface{}{
		"kind":   "kyc",
		"wallet": wallet,
		"cid":    cid,
		"meta":   meta,
		"ts":     time.Now().UnixMilli(),
	}

	stored, err := b.upload(ctx, payload)
	if err != nil {
		b.log.Error("kyc upload failed", "wallet", wallet, "error", err)
		return "", err
	}

	return stored, nil
}
