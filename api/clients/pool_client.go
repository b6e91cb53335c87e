package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/qumail/keypool-backend/api"
	"github.com/qumail/keypool-backend/cryptoutils"
	"github.com/qumail/keypool-backend/interfaces"
	"github.com/qumail/keypool-backend/metrics"
)

// Request timing defaults. A cross-relay request traverses two network hops
// (our peer must itself relay to a second pool service), so it gets a longer
// base timeout than a same-service request.
const (
	DefaultTimeout           = 15 * time.Second
	DefaultCrossRelayTimeout = 45 * time.Second
	DefaultMaxAttempts       = 4
	DefaultInitialBackoff    = 500 * time.Millisecond
)

// entropyPollKeys bounds the sample behind one entropy poll.
const entropyPollKeys = 64

// RetryPolicy bounds the retry loop for transient failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

// Config assembles a PoolClient. Credentials are mandatory unless HTTPClient
// is supplied directly (tests inject an httptest client that way).
type Config struct {
	// BaseURL of the peer pool service, e.g. "https://pool-b.example.com:8443".
	BaseURL string

	// Credentials for the mutually authenticated channel.
	Credentials *cryptoutils.ClientCredentials

	// ServerName overrides TLS verification when the peer is addressed by IP.
	ServerName string

	// CrossRelay marks this peer as one that relays to a second pool
	// service to fulfill requests, doubling the network hops.
	CrossRelay bool

	// Retry overrides the default retry policy.
	Retry *RetryPolicy

	// HTTPClient overrides transport construction entirely.
	HTTPClient *http.Client

	Log *slog.Logger
}

// PoolClient is the network implementation of the pool capability contract.
// One instance per peer service; construct explicitly and pass down, never
// share through package state.
type PoolClient struct {
	baseURL     string
	httpClient  *http.Client
	log         *slog.Logger
	baseTimeout time.Duration
	retry       RetryPolicy
}

var _ interfaces.PoolBackend = (*PoolClient)(nil)

// NewPoolClient builds a client for one peer pool service.
func NewPoolClient(cfg *Config) (*PoolClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("peer base URL required")
	}
	if cfg.Log == nil {
		return nil, errors.New("logger required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		if cfg.Credentials == nil {
			return nil, errors.New("client credentials required for mutual TLS")
		}
		tlsConfig, err := cfg.Credentials.ClientTLSConfig(cfg.ServerName)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	baseTimeout := DefaultTimeout
	if cfg.CrossRelay {
		baseTimeout = DefaultCrossRelayTimeout
	}

	retry := RetryPolicy{MaxAttempts: DefaultMaxAttempts, InitialInterval: DefaultInitialBackoff}
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	return &PoolClient{
		baseURL:     cfg.BaseURL,
		httpClient:  httpClient,
		log:         cfg.Log,
		baseTimeout: baseTimeout,
		retry:       retry,
	}, nil
}

// doOnce performs a single attempt. Non-2xx responses are decoded into the
// matching sentinel; 502/504 and network timeouts come back as
// ErrUpstreamTimeout, the only retryable class.
func (c *PoolClient) doOnce(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.baseTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return fmt.Errorf("%w: %v", interfaces.ErrUpstreamTimeout, err)
		}
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: could not parse response: %v", interfaces.ErrProtocolViolation, err)
		}
		return nil
	case resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: peer returned %d", interfaces.ErrUpstreamTimeout, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: peer returned %d", interfaces.ErrRemoteAuth, resp.StatusCode)
	default:
		var wireErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&wireErr); err != nil || wireErr.Code == "" {
			return fmt.Errorf("%w: unparseable error response with status %d", interfaces.ErrProtocolViolation, resp.StatusCode)
		}
		return fmt.Errorf("%w: %s", api.ErrorForCode(wireErr.Code), wireErr.Error)
	}
}

// do runs doOnce under the retry policy. Only ErrUpstreamTimeout is retried;
// everything else fails immediately since retrying cannot help. Caller
// cancellation stops the loop between attempts.
func (c *PoolClient) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retry.InitialInterval
	policy := backoff.WithContext(
		backoff.WithMaxRetries(expo, uint64(c.retry.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.doOnce(ctx, method, path, headers, body, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, interfaces.ErrUpstreamTimeout) {
			metrics.RemoteRetriesTotal.Inc()
			c.log.Warn("Transient failure on remote pool request, will retry",
				"path", path, "attempt", attempt, "err", err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Status implements the capability contract over the wire.
func (c *PoolClient) Status(ctx context.Context, entity interfaces.EntityID) (*interfaces.PoolStatus, error) {
	var resp api.StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/pools/"+entity.String(), nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.ToPoolStatus(), nil
}

// Allocate requests count keys from the owner's pool. Every logical
// allocation carries one idempotency token across all its retries: if the
// peer committed before our response was lost, the retry replays the
// original result instead of consuming fresh keys.
func (c *PoolClient) Allocate(ctx context.Context, requester, owner interfaces.EntityID, count, keySize int) ([]interfaces.AllocatedKey, error) {
	if keySize != interfaces.KeySizeBytes {
		return nil, fmt.Errorf("%w: got %d, want %d", interfaces.ErrInvalidKeySize, keySize, interfaces.KeySizeBytes)
	}

	token := uuid.NewString()
	req := api.AllocateRequest{
		RequesterID: requester.String(),
		OwnerID:     owner.String(),
		Count:       count,
		KeySize:     keySize,
	}

	var resp api.AllocateResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/pools/"+owner.String()+"/allocate",
		map[string]string{api.IdempotencyTokenHeader: token}, req, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Keys) != count || resp.Count != count {
		return nil, fmt.Errorf("%w: asked for %d keys, peer returned %d",
			interfaces.ErrProtocolViolation, count, len(resp.Keys))
	}

	keys := make([]interfaces.AllocatedKey, len(resp.Keys))
	for i := range resp.Keys {
		key, err := resp.Keys[i].Decode()
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
}

// FetchByIDs retrieves previously delivered keys by id.
func (c *PoolClient) FetchByIDs(ctx context.Context, requester interfaces.EntityID, ids []interfaces.KeyID) (*interfaces.FetchResult, error) {
	req := api.FetchRequest{RequesterID: requester.String(), KeyIDs: make([]string, len(ids))}
	for i, id := range ids {
		req.KeyIDs[i] = id.String()
	}

	var resp api.FetchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/keys/fetch", nil, req, &resp); err != nil {
		return nil, err
	}

	result := &interfaces.FetchResult{
		MissingOrDenied: make([]interfaces.KeyID, len(resp.MissingOrDenied)),
	}
	for i, id := range resp.MissingOrDenied {
		result.MissingOrDenied[i] = interfaces.KeyID(id)
	}
	for i := range resp.Found {
		key, err := resp.Found[i].Decode()
		if err != nil {
			return nil, err
		}
		result.Found = append(result.Found, key)
	}
	return result, nil
}

// MarkConsumed acknowledges consumption on the peer.
func (c *PoolClient) MarkConsumed(ctx context.Context, requester interfaces.EntityID, ids []interfaces.KeyID) error {
	req := api.ConsumeRequest{RequesterID: requester.String(), KeyIDs: make([]string, len(ids))}
	for i, id := range ids {
		req.KeyIDs[i] = id.String()
	}
	return c.do(ctx, http.MethodPost, "/api/v1/keys/consume", nil, req, nil)
}

// PollEntropy fetches the peer's entropy health signal and logs a security
// warning below the threshold. Advisory: the reading never blocks anything.
func (c *PoolClient) PollEntropy(ctx context.Context) (float64, error) {
	var resp api.EntropyResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/entropy", nil, nil, &resp); err != nil {
		return 0, err
	}
	if resp.SampleBytes > 0 && resp.BitsPerByte < cryptoutils.EntropyWarnThreshold {
		c.log.Warn("SECURITY: remote pool reports low source entropy",
			"bits_per_byte", resp.BitsPerByte,
			"sample_bytes", resp.SampleBytes,
			"peer", c.baseURL)
	}
	return resp.BitsPerByte, nil
}
