package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrConfigInvalid   = errors.New("stripe config invalid")
	ErrRequestFailed   = errors.New("stripe request failed")
	ErrResponseInvalid = errors.New("stripe response invalid")
	ErrRefundRejected  = errors.New("stripe refund rejected")
	ErrNotFound        = errors.New("stripe object not found")
)

const (
	defaultAPIBaseURL = "https://api.stripe.com"
	defaultTimeout    = 12 * time.Second
)

// Config processor connection settings.
type Config struct {
	SecretKey  string
	APIBaseURL string
	TimeoutMS  int
}

// Client talks to the processor's REST API.
type Client struct {
	cfg Config
}

// RefundInput describes one refund request. Exactly one of ChargeRef or
// IntentRef must be set. IdempotencyKey makes retries safe.
type RefundInput struct {
	ChargeRef      string
	IntentRef      string
	AmountCents    int64
	IdempotencyKey string
	Reason         string
	Metadata       map[string]string
}

// RefundResult one accepted refund.
type RefundResult struct {
	RefundID    string
	Status      string
	AmountCents int64
	ChargeRef   string
	Raw         map[string]interface{}
}

// ChargeResult fee and receipt detail of a settled charge.
type ChargeResult struct {
	ChargeID      string
	BalanceTxnRef string
	FeeCents      int64
	AmountCents   int64
	ReceiptURL    string
	Paid          bool
	Raw           map[string]interface{}
}

// LineItem one purchased line of a checkout session.
type LineItem struct {
	PriceRef         string
	Description      string
	Quantity         int64
	AmountTotalCents int64
}

// NewClient validates the config and returns a client.
func NewClient(cfg Config) (*Client, error) {
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: secret_key is required", ErrConfigInvalid)
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if _, err := url.ParseRequestURI(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("%w: api_base_url is invalid", ErrConfigInvalid)
	}
	return &Client{cfg: cfg}, nil
}

// CreateRefund posts a refund. The idempotency key is forwarded so the
// processor collapses duplicate submissions into one refund.
func (c *Client) CreateRefund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	chargeRef := strings.TrimSpace(input.ChargeRef)
	intentRef := strings.TrimSpace(input.IntentRef)
	if chargeRef == "" && intentRef == "" {
		return nil, fmt.Errorf("%w: charge or payment_intent reference is required", ErrConfigInvalid)
	}
	if input.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrConfigInvalid)
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", ErrConfigInvalid)
	}

	form := url.Values{}
	if chargeRef != "" {
		form.Set("charge", chargeRef)
	} else {
		form.Set("payment_intent", intentRef)
	}
	form.Set("amount", strconv.FormatInt(input.AmountCents, 10))
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		form.Set("reason", reason)
	}
	for key, value := range input.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", key), value)
	}

	respBody, statusCode, err := c.doFormRequest(ctx, http.MethodPost, "/v1/refunds", form, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, refundError(statusCode, respBody)
	}

	raw, err := decodeRawMap(respBody)
	if err != nil {
		return nil, err
	}
	result := &RefundResult{Raw: raw}
	result.RefundID = strings.TrimSpace(readString(raw, "id"))
	result.Status = strings.ToLower(strings.TrimSpace(readString(raw, "status")))
	result.AmountCents = readInt64(raw, "amount")
	result.ChargeRef = strings.TrimSpace(readString(raw, "charge"))
	if result.RefundID == "" {
		return nil, fmt.Errorf("%w: missing refund id", ErrResponseInvalid)
	}
	if result.Status == "failed" || result.Status == "canceled" {
		return nil, fmt.Errorf("%w: refund %s reported %s", ErrRefundRejected, result.RefundID, result.Status)
	}
	return result, nil
}

// GetCharge fetches a charge with its balance transaction expanded, which
// carries the processor fee in minor units.
func (c *Client) GetCharge(ctx context.Context, chargeRef string) (*ChargeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	chargeRef = strings.TrimSpace(chargeRef)
	if chargeRef == "" {
		return nil, fmt.Errorf("%w: charge reference is required", ErrConfigInvalid)
	}
	path := fmt.Sprintf("/v1/charges/%s?expand[]=balance_transaction", url.PathEscape(chargeRef))
	respBody, statusCode, err := c.doJSONRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	if statusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: charge %s", ErrNotFound, chargeRef)
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: query charge status %d", ErrResponseInvalid, statusCode)
	}

	raw, err := decodeRawMap(respBody)
	if err != nil {
		return nil, err
	}
	result := &ChargeResult{Raw: raw}
	result.ChargeID = strings.TrimSpace(readString(raw, "id"))
	result.AmountCents = readInt64(raw, "amount")
	result.ReceiptURL = strings.TrimSpace(readString(raw, "receipt_url"))
	result.Paid = readBool(raw, "paid")
	if txn := readMap(raw, "balance_transaction"); txn != nil {
		result.BalanceTxnRef = strings.TrimSpace(readString(txn, "id"))
		result.FeeCents = readInt64(txn, "fee")
	} else {
		result.BalanceTxnRef = strings.TrimSpace(readString(raw, "balance_transaction"))
	}
	if result.ChargeID == "" {
		return nil, fmt.Errorf("%w: missing charge id", ErrResponseInvalid)
	}
	return result, nil
}

// ListLineItems fetches the purchased lines of a checkout session.
func (c *Client) ListLineItems(ctx context.Context, sessionRef string) ([]LineItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sessionRef = strings.TrimSpace(sessionRef)
	if sessionRef == "" {
		return nil, fmt.Errorf("%w: session reference is required", ErrConfigInvalid)
	}
	path := fmt.Sprintf("/v1/checkout/sessions/%s/line_items?limit=100", url.PathEscape(sessionRef))
	respBody, statusCode, err := c.doJSONRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	if statusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionRef)
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: list line items status %d", ErrResponseInvalid, statusCode)
	}

	raw, err := decodeRawMap(respBody)
	if err != nil {
		return nil, err
	}
	data, ok := raw["data"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: missing data array", ErrResponseInvalid)
	}
	items := make([]LineItem, 0, len(data))
	for _, entry := range data {
		row, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		item := LineItem{
			Description:      strings.TrimSpace(readString(row, "description")),
			Quantity:         readInt64(row, "quantity"),
			AmountTotalCents: readInt64(row, "amount_total"),
		}
		if price := readMap(row, "price"); price != nil {
			item.PriceRef = strings.TrimSpace(readString(price, "id"))
		}
		items = append(items, item)
	}
	return items, nil
}

func refundError(statusCode int, body []byte) error {
	raw, err := decodeRawMap(body)
	if err == nil {
		if errObj := readMap(raw, "error"); errObj != nil {
			message := strings.TrimSpace(readString(errObj, "message"))
			code := strings.TrimSpace(readString(errObj, "code"))
			if statusCode >= 400 && statusCode < 500 {
				return fmt.Errorf("%w: %s (%s)", ErrRefundRejected, message, code)
			}
			return fmt.Errorf("%w: status %d: %s", ErrRequestFailed, statusCode, message)
		}
	}
	if statusCode >= 400 && statusCode < 500 {
		return fmt.Errorf("%w: status %d", ErrRefundRejected, statusCode)
	}
	return fmt.Errorf("%w: status %d", ErrRequestFailed, statusCode)
}

func (c *Client) timeout() time.Duration {
	if c.cfg.TimeoutMS > 0 {
		return time.Duration(c.cfg.TimeoutMS) * time.Millisecond
	}
	return defaultTimeout
}

func (c *Client) doFormRequest(ctx context.Context, method, path string, form url.Values, idempotencyKey string) ([]byte, int, error) {
	endpoint := c.cfg.APIBaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := (&http.Client{Timeout: c.timeout()}).Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response failed", ErrResponseInvalid)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) doJSONRequest(ctx context.Context, method, path string) ([]byte, int, error) {
	endpoint := c.cfg.APIBaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)

	resp, err := (&http.Client{Timeout: c.timeout()}).Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response failed", ErrResponseInvalid)
	}
	return body, resp.StatusCode, nil
}

func decodeRawMap(body []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	return raw, nil
}

func readString(raw map[string]interface{}, key string) string {
	if raw == nil {
		return ""
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case float64:
		return strconv.FormatInt(int64(typed), 10)
	case int64:
		return strconv.FormatInt(typed, 10)
	case int:
		return strconv.Itoa(typed)
	default:
		return ""
	}
}

func readInt64(raw map[string]interface{}, key string) int64 {
	if raw == nil {
		return 0
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return 0
	}
	switch typed := value.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err != nil {
			return 0
		}
		return parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func readBool(raw map[string]interface{}, key string) bool {
	if raw == nil {
		return false
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return false
	}
	typed, ok := value.(bool)
	return ok && typed
}

func readMap(raw map[string]interface{}, key string) map[string]interface{} {
	if raw == nil {
		return nil
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return nil
	}
	mapped, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	return mapped
}
