package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/vaultbft/client/internal/types"
)

// HTTPClient is the default Client implementation: one HTTP+JSON
// connection per authority, following the request/response shape of
// the teacher's HTTPPeerManager.SendAttestationRequest (serialize to
// JSON, POST to a fixed sub-path, check status code, decode the
// response envelope) generalized from one attestation endpoint to the
// four authority RPCs of §6.
type HTTPClient struct {
	name     types.AuthorityName
	endpoint string
	client   *http.Client
	logger   *log.Logger
}

// HTTPClientConfig configures one authority connection.
type HTTPClientConfig struct {
	Name     types.AuthorityName
	Endpoint string
	Timeout  time.Duration // default 60s per SPEC_FULL §5
	Logger   *log.Logger
}

func DefaultHTTPClientConfig() *HTTPClientConfig {
	return &HTTPClientConfig{
		Timeout: 60 * time.Second,
		Logger:  log.New(log.Writer(), "[AuthorityClient] ", log.LstdFlags),
	}
}

// NewHTTPClient builds an authority RPC client over HTTP.
func NewHTTPClient(cfg *HTTPClientConfig) (*HTTPClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("authority: configuration is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("authority: endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[AuthorityClient] ", log.LstdFlags)
	}
	return &HTTPClient{
		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

func (c *HTTPClient) Name() types.AuthorityName { return c.name }

func (c *HTTPClient) HandleTransaction(ctx context.Context, tx *types.Transaction) (*types.OrderInfoResponse, error) {
	var resp types.OrderInfoResponse
	if err := c.post(ctx, "/authority/transaction", tx, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) HandleConfirmationOrder(ctx context.Context, cert *types.CertifiedTx) (*types.OrderInfoResponse, error) {
	var resp types.OrderInfoResponse
	if err := c.post(ctx, "/authority/confirmation", cert, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) HandleObjectInfoRequest(ctx context.Context, req ObjectInfoRequest) (*types.ObjectInfoResponse, error) {
	var resp types.ObjectInfoResponse
	if err := c.post(ctx, "/authority/object-info", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) HandleAccountInfoRequest(ctx context.Context, address types.Address) (*types.AccountInfoResponse, error) {
	var resp types.AccountInfoResponse
	if err := c.post(ctx, "/authority/account-info", struct {
		Address types.Address `json:"address"`
	}{Address: address}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("authority: marshaling request: %w", err)
	}

	url := c.endpoint + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("authority: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("authority: request to %s failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("authority: reading response from %s: %w", c.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if re := parseRemoteError(respBody); re != nil {
			return re
		}
		return fmt.Errorf("authority: %s returned status %d: %s", c.name, resp.StatusCode, string(respBody))
	}
	if len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("authority: decoding response from %s: %w", c.name, err)
	}
	return nil
}
