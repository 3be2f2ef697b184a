package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yofarm-hub/ussd/config"
	"github.com/yofarm-hub/ussd/internal/logger"
	"github.com/yofarm-hub/ussd/types"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
)

// CollectionRequest asks the provider to debit a mobile money wallet.
type CollectionRequest struct {
	// Phone is the canonical 256XXXXXXXXX MSISDN.
	Phone      string
	Amount     int64
	ExternalID string
	PayerNote  string
	PayeeNote  string
}

// CollectionResult is the provider's acknowledgement of a collection.
type CollectionResult struct {
	TransactionID string
	Status        string
	Message       string
}

// Client talks to the ioTec Pay API.
type Client struct {
	cfg        config.PaymentConfig
	httpClient *http.Client
	tokens     *TokenCache
	logger     *zap.Logger
}

type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	cacheOpts  []TokenCacheOption
}

func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithTokenCacheOptions configures the client's token cache.
func WithTokenCacheOptions(opts ...TokenCacheOption) ClientOption {
	return func(o *clientOptions) { o.cacheOpts = append(o.cacheOpts, opts...) }
}

func NewClient(cfg config.PaymentConfig, log *zap.Logger, opts ...ClientOption) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	o := clientOptions{httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		cfg:        cfg,
		httpClient: o.httpClient,
		logger:     log.Named("iotec"),
	}
	cacheOpts := append([]TokenCacheOption{
		WithRefreshTimeout(timeout),
		WithCacheLogger(c.logger),
	}, o.cacheOpts...)
	c.tokens = NewTokenCache(c.fetchToken, cacheOpts...)
	return c
}

// Ping obtains an access token, refreshing it if needed.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.tokens.Token(ctx)
	return err
}

type tokenResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresIn   seconds `json:"expires_in"`
}

// seconds accepts expires_in as a JSON number or a numeric string.
type seconds int64

func (s *seconds) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid expires_in %q: %w", raw, err)
	}
	*s = seconds(f)
	return nil
}

func (c *Client) fetchToken(ctx context.Context) (Token, error) {
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	issuedAt := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("token request rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return Token{}, fmt.Errorf("%w: token endpoint returned %d", ErrAuthentication, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Token{}, fmt.Errorf("%w: decode token response: %w", ErrAuthentication, err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: token response without access_token", ErrAuthentication)
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultExpiresIn
	}
	return Token{AccessToken: tr.AccessToken, ExpiresAt: issuedAt.Add(ttl)}, nil
}

type collectionPayload struct {
	Category                   string `json:"category"`
	Currency                   string `json:"currency"`
	WalletID                   string `json:"walletId"`
	ExternalID                 string `json:"externalId"`
	Payer                      string `json:"payer"`
	Amount                     int64  `json:"amount"`
	PayerNote                  string `json:"payerNote"`
	PayeeNote                  string `json:"payeeNote"`
	TransactionChargesCategory string `json:"transactionChargesCategory"`
}

type transactionResponse struct {
	ID                  string      `json:"id"`
	TransactionID       string      `json:"transactionId"`
	Status              string      `json:"status"`
	StatusMessage       string      `json:"statusMessage"`
	Message             string      `json:"message"`
	Amount              json.Number `json:"amount"`
	VendorTransactionID string      `json:"vendorTransactionId"`
}

func (r transactionResponse) id() string {
	if r.ID != "" {
		return r.ID
	}
	return r.TransactionID
}

func (r transactionResponse) message() string {
	if r.StatusMessage != "" {
		return r.StatusMessage
	}
	return r.Message
}

// InitiateCollection submits a collection request. A reply without a
// transaction id is treated as a malformed response.
func (c *Client) InitiateCollection(ctx context.Context, in CollectionRequest) (CollectionResult, error) {
	payload := collectionPayload{
		Category:                   "MobileMoney",
		Currency:                   c.currency(),
		WalletID:                   c.cfg.WalletID,
		ExternalID:                 in.ExternalID,
		Payer:                      in.Phone,
		Amount:                     in.Amount,
		PayerNote:                  in.PayerNote,
		PayeeNote:                  in.PayeeNote,
		TransactionChargesCategory: "ChargeCustomer",
	}

	var out transactionResponse
	if err := c.do(ctx, http.MethodPost, c.cfg.CollectionURL, payload, &out); err != nil {
		return CollectionResult{}, err
	}
	if out.id() == "" {
		return CollectionResult{}, fmt.Errorf("%w: collection response without transaction id", ErrServiceUnavailable)
	}

	c.logger.Info("collection initiated",
		logger.Phone(in.Phone),
		zap.String("external_id", in.ExternalID),
		zap.String("transaction_id", out.id()),
		zap.String("status", out.Status),
	)
	return CollectionResult{TransactionID: out.id(), Status: out.Status, Message: out.message()}, nil
}

// CheckStatus queries the current state of a transaction. The outcome is
// FAILED for statuses outside the mapping table.
func (c *Client) CheckStatus(ctx context.Context, transactionID string) (types.TransactionStatus, error) {
	if transactionID == "" {
		return types.TransactionStatus{}, fmt.Errorf("%w: empty transaction id", ErrServiceUnavailable)
	}
	endpoint := strings.TrimRight(c.cfg.StatusURL, "/") + "/" + url.PathEscape(transactionID)

	var out transactionResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return types.TransactionStatus{}, err
	}

	outcome := Classify(out.Status)
	if outcome == OutcomeUnknown {
		c.logger.Warn("unmapped provider status",
			zap.String("transaction_id", transactionID),
			zap.Error(fmt.Errorf("%w: %q", ErrUnknownStatus, out.Status)),
		)
	}

	amount, _ := out.Amount.Float64()
	id := out.id()
	if id == "" {
		id = transactionID
	}
	return types.TransactionStatus{
		TransactionID: id,
		Status:        out.Status,
		Message:       out.message(),
		Amount:        amount,
		Outcome:       outcome.LifecycleStatus(),
	}, nil
}

func (c *Client) currency() string {
	if c.cfg.Currency == "" {
		return "UGX"
	}
	return c.cfg.Currency
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate(token)
		return fmt.Errorf("%w: token rejected", ErrAuthentication)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("provider request failed",
			zap.String("method", method),
			zap.String("url", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw),
		)
		return fmt.Errorf("%w: provider returned %d", ErrServiceUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: malformed response: %w", ErrServiceUnavailable, err)
	}
	return nil
}
