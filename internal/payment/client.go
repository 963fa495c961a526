package payment

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Intent is a provider-issued payment intent for an on-ramp session.
type Intent struct {
	ClientToken string `json:"clientToken"`
	PaymentURL  string `json:"paymentUrl"`
}

// Callback is the settlement outcome posted by the provider.
type Callback struct {
	SessionID int64  `json:"sessionId"`
	Status    string `json:"status"`
}

// Client talks to the payment provider's API. When no base URL is
// configured it issues self-generated intents, which is enough for local
// development against the hosted checkout stub.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new payment provider client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("provider error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// CreateIntent obtains a payment intent for an on-ramp session. The client
// token correlates the provider's later webhook with the session.
func (c *Client) CreateIntent(ctx context.Context, wallet string, fiatAmount decimal.Decimal, currency string) (*Intent, error) {
	if c.baseURL == "" {
		return localIntent()
	}

	body := map[string]string{
		"wallet":     wallet,
		"fiatAmount": fiatAmount.String(),
		"currency":   currency,
	}
	data, err := c.doRequest(ctx, "POST", "/intents", body)
	if err != nil {
		return nil, err
	}

	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if intent.ClientToken == "" {
		return nil, fmt.Errorf("provider returned empty client token")
	}

	return &intent, nil
}

func localIntent() (*Intent, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate client token: %w", err)
	}
	token := hex.EncodeToString(buf)
	return &Intent{
		ClientToken: token,
		PaymentURL:  "https://checkout.example.com/pay/" + token,
	}, nil
}
