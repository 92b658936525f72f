package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProvider calls the voucher vendor's order endpoint. The idempotency
// key travels as a header so vendor-side retries collapse.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type voucherOrderRequest struct {
	DenominationID string `json:"denomination_id"`
	Quantity       int    `json:"quantity"`
}

type voucherOrderResponse struct {
	OrderID string   `json:"order_id"`
	Codes   []string `json:"codes"`
	Error   string   `json:"error,omitempty"`
}

func (p *HTTPProvider) CreateVoucherOrder(ctx context.Context, req VoucherRequest) (*VoucherOrder, error) {
	body, err := json.Marshal(voucherOrderRequest{
		DenominationID: req.DenominationID,
		Quantity:       req.Quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal voucher request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/vendors/%s/orders", p.baseURL, req.Vendor)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build voucher request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("voucher request: %w", err)
	}
	defer resp.Body.Close()

	var decoded voucherOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode voucher response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if decoded.Error != "" {
			return nil, fmt.Errorf("voucher provider: %s (status %d)", decoded.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("voucher provider: status %d", resp.StatusCode)
	}
	if len(decoded.Codes) == 0 {
		return nil, fmt.Errorf("voucher provider: empty code set for order %s", decoded.OrderID)
	}
	return &VoucherOrder{ProviderOrderID: decoded.OrderID, Codes: decoded.Codes}, nil
}
