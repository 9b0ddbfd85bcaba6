package cryptopay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"boostup-bot/internal/signature"
)

type Client struct {
	MerchantID string
	APIKey     string
	APIURL     string
	HTTPClient *http.Client
}

func NewClient(apiURL, merchantID, apiKey string) *Client {
	return &Client{
		MerchantID: merchantID,
		APIKey:     apiKey,
		APIURL:     apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateInvoice asks the gateway for a fresh invoice. Order ids are generated
// per call by the caller, so a retry after any error opens a new invoice
// instead of colliding with a half-created one.
func (c *Client) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	fields := map[string]string{
		"amount":              req.Amount,
		"currency":            req.Currency,
		"order_id":            req.OrderID,
		"url_return":          req.URLReturn,
		"url_callback":        req.URLCallback,
		"lifetime":            strconv.Itoa(req.Lifetime),
		"is_payment_multiple": strconv.FormatBool(req.IsPaymentMultiple),
		"to_currency":         req.ToCurrency,
	}
	return c.post(ctx, "/payment/create", req, fields)
}

// PaymentInfo queries the current status of an invoice. Read-only.
func (c *Client) PaymentInfo(ctx context.Context, invoiceID string) (*Invoice, error) {
	req := PaymentInfoRequest{UUID: invoiceID}
	return c.post(ctx, "/payment/info", req, map[string]string{"uuid": invoiceID})
}

func (c *Client) post(ctx context.Context, endpoint string, body interface{}, signedFields map[string]string) (*Invoice, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL+endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("merchant", c.MerchantID)
	req.Header.Set("sign", signature.Gateway(signedFields, c.APIKey))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api error: %s (status: %d)", string(respBody), resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.State != 0 {
		return nil, fmt.Errorf("gateway error: %s (state: %d)", apiResp.Message, apiResp.State)
	}

	return &apiResp.Result, nil
}
