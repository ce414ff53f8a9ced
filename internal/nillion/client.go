package nillion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	headerPublicKey = "X-Nillion-Public-Key"
	headerSignature = "X-Nillion-Signature"
)

// APIError is a non-2xx answer from the network gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nillion: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known statuses onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrValueNotFound
	case http.StatusForbidden:
		return ErrPermissionDenied
	case http.StatusPaymentRequired:
		return ErrInvalidReceipt
	default:
		return nil
	}
}

// Client talks to a network gateway over HTTP. Requests made on behalf of a
// user are signed with that user's key.
type Client struct {
	baseURL   string
	clusterID string
	http      *http.Client
}

// NewClient creates a gateway client for one cluster.
func NewClient(baseURL, clusterID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		clusterID: clusterID,
		http:      &http.Client{Timeout: timeout},
	}
}

type quoteRequest struct {
	Kind         OperationKind `json:"kind"`
	Fingerprint  string        `json:"fingerprint"`
	PayloadBytes int           `json:"payload_bytes"`
	TTLDays      int           `json:"ttl_days,omitempty"`
	StoreID      string        `json:"store_id,omitempty"`
	SecretName   string        `json:"secret_name,omitempty"`
}

func (c *Client) RequestPriceQuote(ctx context.Context, op Operation) (*PriceQuote, error) {
	req := quoteRequest{
		Kind:         op.Kind,
		Fingerprint:  op.Fingerprint(),
		PayloadBytes: op.Values.Size(),
		TTLDays:      op.TTLDays,
		StoreID:      op.StoreID,
		SecretName:   op.SecretName,
	}

	var quote PriceQuote
	if err := c.do(ctx, http.MethodPost, c.path("quotes"), nil, req, &quote); err != nil {
		return nil, err
	}

	return &quote, nil
}

type storeRequest struct {
	Values      Values          `json:"values"`
	Permissions *Permissions    `json:"permissions"`
	TTLDays     int             `json:"ttl_days"`
	Receipt     *PaymentReceipt `json:"receipt"`
}

type storeResponse struct {
	StoreID string `json:"store_id"`
}

func (c *Client) StoreValues(
	ctx context.Context, user *UserKey, values Values, perms *Permissions, ttlDays int, receipt *PaymentReceipt,
) (string, error) {
	var resp storeResponse

	req := storeRequest{Values: values, Permissions: perms, TTLDays: ttlDays, Receipt: receipt}
	if err := c.do(ctx, http.MethodPost, c.path("values"), user, req, &resp); err != nil {
		return "", err
	}

	return resp.StoreID, nil
}

type retrieveRequest struct {
	SecretName string          `json:"secret_name"`
	Receipt    *PaymentReceipt `json:"receipt"`
}

type retrieveResponse struct {
	Value SecretValue `json:"value"`
}

func (c *Client) RetrieveValue(
	ctx context.Context, user *UserKey, storeID, secretName string, receipt *PaymentReceipt,
) (SecretValue, error) {
	var resp retrieveResponse

	req := retrieveRequest{SecretName: secretName, Receipt: receipt}
	if err := c.do(ctx, http.MethodPost, c.path("values", storeID, "retrieve"), user, req, &resp); err != nil {
		return SecretValue{}, err
	}

	if err := resp.Value.Validate(); err != nil {
		return SecretValue{}, fmt.Errorf("nillion: decode %s: %w", storeID, err)
	}

	return resp.Value, nil
}

type updateRequest struct {
	Values  Values          `json:"values"`
	TTLDays int             `json:"ttl_days"`
	Receipt *PaymentReceipt `json:"receipt"`
}

func (c *Client) UpdateValues(
	ctx context.Context, user *UserKey, storeID string, values Values, ttlDays int, receipt *PaymentReceipt,
) error {
	req := updateRequest{Values: values, TTLDays: ttlDays, Receipt: receipt}

	return c.do(ctx, http.MethodPut, c.path("values", storeID), user, req, nil)
}

func (c *Client) path(parts ...string) string {
	escaped := make([]string, 0, len(parts)+3)
	escaped = append(escaped, "v1", "clusters", url.PathEscape(c.clusterID))

	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}

	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, user *UserKey, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("nillion: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	if user != nil {
		sig, err := user.Sign(body)
		if err != nil {
			return fmt.Errorf("nillion: sign request: %w", err)
		}

		req.Header.Set(headerPublicKey, base64.StdEncoding.EncodeToString(user.PublicKey()))
		req.Header.Set(headerSignature, base64.StdEncoding.EncodeToString(sig))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("nillion: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nillion: decode response: %w", err)
	}

	return nil
}

// Compile-time check.
var _ Network = (*Client)(nil)
