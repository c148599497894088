// Package payment drives card tokenization, 3-D Secure challenge
// verification and charge confirmation against the external gateway,
// and owns the server-authoritative payment session state machine.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Gateway token statuses as reported by the provider. IN_REVIEW means
// a 3-D Secure challenge is pending in the cardholder's browser.
const (
	GatewayInReview = "IN_REVIEW"
	GatewayVerified = "VERIFIED"
	GatewayFailed   = "FAILED"
)

// ErrGatewayUnavailable wraps transport-level failures talking to the
// gateway. Handlers translate it into an HTTP 502.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ErrChargeDeclined is returned when the gateway refuses the final
// charge even though the token verified.
var ErrChargeDeclined = errors.New("charge declined")

// TokenRequest carries everything the gateway needs to tokenize a
// card with 3-D Secure enabled. Card data passes through; it is never
// persisted locally.
type TokenRequest struct {
	CardNumber  string
	ExpMonth    string
	ExpYear     string
	CVN         string
	Amount      float64
	Currency    string
	GivenName   string
	FamilyName  string
	Email       string
	Billing     BillingAddress
}

// TokenResult is the gateway's answer to token creation.
type TokenResult struct {
	TokenID           string
	Status            string // IN_REVIEW or VERIFIED
	AuthenticationURL string // challenge URL when Status is IN_REVIEW
}

// ChargeResult is the gateway's answer to the final capture.
type ChargeResult struct {
	ChargeID string
	Status   string
}

// Gateway is the external payment provider. CreateToken and
// ConfirmCharge are non-idempotent writes and must never be retried
// blindly; TokenStatus is a read and safe to poll.
type Gateway interface {
	CreateToken(ctx context.Context, req TokenRequest) (*TokenResult, error)
	TokenStatus(ctx context.Context, tokenID string) (string, error)
	ConfirmCharge(ctx context.Context, tokenID string, amount float64, currency string) (*ChargeResult, error)
}

// HTTPGateway implements Gateway over the provider's REST API with
// basic-auth API keys, the way card gateways in this region expose
// tokenization.
type HTTPGateway struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPGateway returns a gateway client with a bounded per-call
// timeout so a stalled provider cannot pin a request handler.
func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateToken tokenizes the card with 3-D Secure requested. The card
// fields go straight to the gateway and are not logged.
func (g *HTTPGateway) CreateToken(ctx context.Context, req TokenRequest) (*TokenResult, error) {
	body := map[string]interface{}{
		"card_number":      req.CardNumber,
		"card_exp_month":   req.ExpMonth,
		"card_exp_year":    req.ExpYear,
		"card_cvn":         req.CVN,
		"amount":           req.Amount,
		"currency":         req.Currency,
		"should_authenticate": true,
		"card_holder": map[string]string{
			"given_name":  req.GivenName,
			"family_name": req.FamilyName,
			"email":       req.Email,
		},
		"billing_details": map[string]string{
			"street":       req.Billing.Street,
			"city":         req.Billing.City,
			"region":       req.Billing.Region,
			"postal_code":  req.Billing.PostalCode,
			"country_code": req.Billing.CountryCode,
		},
	}
	var out struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		AuthenticationURL string `json:"authentication_url"`
	}
	if err := g.do(ctx, http.MethodPost, "/v2/credit_card_tokens", body, &out); err != nil {
		return nil, err
	}
	return &TokenResult{TokenID: out.ID, Status: out.Status, AuthenticationURL: out.AuthenticationURL}, nil
}

// TokenStatus reads the token's current authentication status.
func (g *HTTPGateway) TokenStatus(ctx context.Context, tokenID string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := g.do(ctx, http.MethodGet, "/v2/credit_card_tokens/"+tokenID, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// ConfirmCharge captures the charge for a verified token. The charge
// status comes from the gateway itself, never from anything the client
// reported.
func (g *HTTPGateway) ConfirmCharge(ctx context.Context, tokenID string, amount float64, currency string) (*ChargeResult, error) {
	body := map[string]interface{}{
		"token_id": tokenID,
		"amount":   amount,
		"currency": currency,
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := g.do(ctx, http.MethodPost, "/charges", body, &out); err != nil {
		return nil, err
	}
	if !strings.EqualFold(out.Status, "CAPTURED") {
		return nil, fmt.Errorf("%w: status %s", ErrChargeDeclined, out.Status)
	}
	return &ChargeResult{ChargeID: out.ID, Status: out.Status}, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.APIKey, "")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway rejected request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
