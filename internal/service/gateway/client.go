package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/essaypay/internal/logger"
	"github.com/nkiryanov/essaypay/internal/models"
)

const (
	CodeRetryAfter  = "retry-after"
	CodeUnavailable = "unavailable"
	CodeRejected    = "rejected"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultRetryAfter = 60
)

type Error struct {
	Code string

	RetryAfter time.Duration

	// JSON-RPC error the gateway answered with, zero unless Code is CodeRejected
	RPCCode    int
	RPCMessage string

	Err error
}

func (e *Error) Error() string {
	if e.Code == CodeRejected {
		return fmt.Sprintf("code: %s, rpc_code: %d, rpc_message: %s", e.Code, e.RPCCode, e.RPCMessage)
	}
	return fmt.Sprintf("code: %s, retry_after: %s, error: %v", e.Code, e.RetryAfter, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code string, retryAfter int, err error) *Error {
	return &Error{
		Code:       code,
		RetryAfter: time.Duration(retryAfter) * time.Second,
		Err:        err,
	}
}

type Config struct {
	// JSON-RPC endpoint of the gateway merchant API
	URL string

	// Merchant credentials sent in X-Auth header
	MerchantID string
	Key        string

	// Per request timeout
	// If not set than default is used
	Timeout time.Duration
}

// Invoice opened on the gateway
type Invoice struct {
	ID         string `json:"invoice_id"`
	PaymentURL string `json:"payment_url"`
}

// InvoiceStatus as the gateway sees it
type InvoiceStatus struct {
	State       models.TransactionState `json:"state"`
	PerformTime int64                   `json:"perform_time"`
	CancelTime  int64                   `json:"cancel_time"`
	Reason      *int                    `json:"reason"`
}

type Client struct {
	cfg Config

	client *http.Client
	logger logger.Logger
}

func NewClient(cfg Config, logger logger.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("gateway url must not be empty")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
	}, nil
}

type rpcRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message json.RawMessage `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type createInvoiceParams struct {
	Amount  int64 `json:"amount"`
	Account struct {
		UserID string `json:"user_id"`
	} `json:"account"`
	ReturnURL string `json:"return_url,omitempty"`
}

// Open invoice for the user to pay amount (minor units)
func (c *Client) CreateInvoice(ctx context.Context, userID int64, amount int64, returnURL string) (Invoice, error) {
	var invoice Invoice

	params := createInvoiceParams{Amount: amount, ReturnURL: returnURL}
	params.Account.UserID = strconv.FormatInt(userID, 10)

	err := c.call(ctx, "invoices.create", params, &invoice)
	if err != nil {
		return invoice, err
	}

	if invoice.ID == "" {
		return invoice, NewError(CodeUnavailable, 0, errors.New("gateway returned invoice without id"))
	}

	c.logger.Debug("Invoice created", "invoice_id", invoice.ID, "user_id", userID, "amount", amount)
	return invoice, nil
}

func (c *Client) CheckInvoice(ctx context.Context, invoiceID string) (InvoiceStatus, error) {
	var status InvoiceStatus

	err := c.call(ctx, "invoices.check", map[string]string{"invoice_id": invoiceID}, &status)
	if err != nil {
		return status, err
	}

	c.logger.Debug("Invoice checked", "invoice_id", invoiceID, "state", status.State)
	return status, nil
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{ID: time.Now().UnixMilli(), Method: method, Params: params})
	if err != nil {
		return NewError(CodeUnavailable, 0, fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return NewError(CodeUnavailable, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth", c.cfg.MerchantID+":"+c.cfg.Key)

	resp, err := c.client.Do(req)
	if err != nil {
		return NewError(CodeUnavailable, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		return c.processSuccess(method, resp, result)
	case http.StatusTooManyRequests:
		return c.processTooManyRequests(resp)
	default:
		c.logger.Warn("Gateway answered with unexpected status", "status_code", resp.StatusCode, "method", method)
		return NewError(CodeUnavailable, 0, fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, method))
	}
}

func (c *Client) processSuccess(method string, resp *http.Response, result any) error {
	var r rpcResponse
	err := json.NewDecoder(resp.Body).Decode(&r)
	if err != nil {
		c.logger.Warn("Failed to decode gateway response", "method", method, "error", err)
		return NewError(CodeUnavailable, 0, fmt.Errorf("failed to decode response: %w", err))
	}

	if r.Error != nil {
		c.logger.Warn("Gateway rejected request", "method", method, "rpc_code", r.Error.Code)
		return &Error{
			Code:       CodeRejected,
			RPCCode:    r.Error.Code,
			RPCMessage: rpcMessage(r.Error.Message),
		}
	}

	if err := json.Unmarshal(r.Result, result); err != nil {
		return NewError(CodeUnavailable, 0, fmt.Errorf("failed to decode %s result: %w", method, err))
	}

	return nil
}

func (c *Client) processTooManyRequests(resp *http.Response) error {
	header := resp.Header.Get("Retry-After")
	retryAfter, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		retryAfter = defaultRetryAfter
	}

	c.logger.Warn("Gateway throttled", "retry_after", retryAfter)
	return NewError(CodeRetryAfter, retryAfter, fmt.Errorf("retry after %d seconds", retryAfter))
}

// Message may be a plain string or localized object like {"ru": "...", "en": "..."}
func rpcMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var localized map[string]string
	if err := json.Unmarshal(raw, &localized); err == nil {
		for _, lang := range []string{"en", "ru", "uz"} {
			if m, ok := localized[lang]; ok {
				return m
			}
		}
	}

	return string(raw)
}
