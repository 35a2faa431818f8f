package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const apiBaseURL = "https://api.stripe.com"

type Client struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// CheckoutParams describes one hosted checkout session for a credit package.
type CheckoutParams struct {
	UserID        string
	CustomerEmail string
	AmountCents   int
	Currency      string
	Credits       int
	ProductName   string
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession is the subset of the processor's session object we use.
type CheckoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentIntent string `json:"payment_intent"`
}

func NewClient(secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		secretKey: secretKey,
		baseURL:   apiBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewClientWithBaseURL points the client at a non-default API host. Used by
// tests to stand in a fake processor.
func NewClientWithBaseURL(secretKey, baseURL string, timeout time.Duration) *Client {
	c := NewClient(secretKey, timeout)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// CreateCheckoutSession creates a hosted payment page and returns its id and
// redirect URL. The user id and credit amount ride along as metadata so the
// completion webhook can be reconciled without extra lookups.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price_data][currency]", params.Currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.Itoa(params.AmountCents))
	form.Set("line_items[0][price_data][product_data][name]", params.ProductName)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("metadata[userId]", params.UserID)
	form.Set("metadata[credits]", strconv.Itoa(params.Credits))
	if params.CustomerEmail != "" {
		form.Set("customer_email", params.CustomerEmail)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build checkout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checkout request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read checkout response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("checkout error: status=%d body=%s", resp.StatusCode, truncate(rawBody))
	}

	var session CheckoutSession
	if err := json.Unmarshal(rawBody, &session); err != nil {
		return nil, fmt.Errorf("decode checkout response: %w", err)
	}
	if session.ID == "" || session.URL == "" {
		return nil, fmt.Errorf("invalid checkout response (missing id or url)")
	}
	return &session, nil
}

func truncate(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
