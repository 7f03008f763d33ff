package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// TransferOption configures an HTTPTransferClient
type TransferOption func(*HTTPTransferClient)

// WithAPIKey sends key in the X-API-Key header.
func WithAPIKey(key string) TransferOption {
	return func(c *HTTPTransferClient) { c.apiKey = key }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) TransferOption {
	return func(c *HTTPTransferClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRecipients installs the alias book, keyed by lower-cased chain and
// then by lower-cased alias.
func WithRecipients(book map[string]map[string]string) TransferOption {
	return func(c *HTTPTransferClient) { c.recipients = book }
}

// HTTPTransferClient is an HTTP implementation of the TransferClient interface.
type HTTPTransferClient struct {
	url        string
	apiKey     string
	http       *http.Client
	recipients map[string]map[string]string
}

// NewHTTPTransferClient creates a new HTTPTransferClient.
func NewHTTPTransferClient(baseURL string, opts ...TransferOption) *HTTPTransferClient {
	c := &HTTPTransferClient{
		url:  strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type transferRequest struct {
	Amount     string `json:"amount"`
	Recipient  string `json:"recipient"`
	Blockchain string `json:"blockchain"`
}

type transferStatus struct {
	TransferID string `json:"transferId"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// ResolveRecipient maps an alias to an address on chain. Unknown aliases
// and raw addresses pass through unchanged.
func (c *HTTPTransferClient) ResolveRecipient(recipient string, chain models.Chain) string {
	book := c.recipients[strings.ToLower(string(chain))]
	if addr, ok := book[strings.ToLower(recipient)]; ok && addr != "" {
		return addr
	}
	return recipient
}

// Transfer sends a transfer request.
func (c *HTTPTransferClient) Transfer(ctx context.Context, params models.TransferParams) (*models.TransferReceipt, error) {
	chain := params.Chain
	if chain == "" {
		chain = models.ChainETH
	}
	requestBody, err := json.Marshal(transferRequest{
		Amount:     params.Amount,
		Recipient:  c.ResolveRecipient(params.Recipient, chain),
		Blockchain: string(chain),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/transfers", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var receipt models.TransferReceipt
	decodeErr := json.Unmarshal(body, &receipt)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := receipt.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return &models.TransferReceipt{Success: false, Error: fmt.Sprintf("status code %d: %s", resp.StatusCode, msg)}, nil
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", decodeErr)
	}
	if receipt.Success && receipt.TransferID == "" {
		return nil, fmt.Errorf("provider reported success without a transfer id")
	}
	return &receipt, nil
}

// Status returns the provider's status for transferID.
func (c *HTTPTransferClient) Status(ctx context.Context, transferID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/transfers/"+url.PathEscape(transferID), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to get transfer status: status code %d", resp.StatusCode)
	}

	var status transferStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}
	return status.Status, nil
}

func (c *HTTPTransferClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
