// Package remote implements the sync gateway over the remote service's
// HTTP+JSON API.
//
// Endpoints, one collection per kind:
//
//	GET    /api/v1/{kind}s?since=<mark>   → {"data": [...], "since": <mark>}
//	POST   /api/v1/{kind}s                → {"data": {...}}
//	PUT    /api/v1/{kind}s/{id}           → {"data": {...}}
//	DELETE /api/v1/{kind}s/{id}
//
// Requests carry a bearer token. Failures are reported as *sync.GatewayError:
// network errors and 502/503/504 are unreachable, any other status >= 400 is
// rejected, and an undecodable body is malformed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/sync"
)

// Config holds the remote gateway configuration.
type Config struct {
	BaseURL string
	Token   string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts for requests that failed
	// because the service was unreachable.
	MaxRetries   int
	RetryBackoff time.Duration

	UserAgent string
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		MaxRetries:   2,
		RetryBackoff: 500 * time.Millisecond,
		UserAgent:    "tracksync",
	}
}

// Client talks to the remote service. It implements sync.Gateway.
type Client struct {
	base   *url.URL
	config Config
	http   *http.Client
	logger *log.Logger
}

var _ sync.Gateway = (*Client)(nil)

// New creates a Client.
// If logger is nil, a default logger writing to stderr is used.
func New(cfg Config, logger *log.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &Client{
		base:   base,
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// Create implements sync.Gateway.
func (c *Client) Create(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	var resp ItemResponse
	if err := c.do(ctx, http.MethodPost, collectionPath(rec.Kind), FromRecord(rec), &resp); err != nil {
		return nil, err
	}
	return resp.Data.ToRecord(rec.Kind), nil
}

// Update implements sync.Gateway.
func (c *Client) Update(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	var resp ItemResponse
	if err := c.do(ctx, http.MethodPut, itemPath(rec.Kind, rec.RemoteID), FromRecord(rec), &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == 0 {
		return nil, nil
	}
	return resp.Data.ToRecord(rec.Kind), nil
}

// Delete implements sync.Gateway. A 404 counts as success.
func (c *Client) Delete(ctx context.Context, kind schema.Kind, remoteID int64) error {
	err := c.do(ctx, http.MethodDelete, itemPath(kind, remoteID), nil, nil)
	var gwErr *sync.GatewayError
	if errors.As(err, &gwErr) && gwErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// FetchChanges implements sync.Gateway.
func (c *Client) FetchChanges(ctx context.Context, kind schema.Kind, since int64) (*sync.ChangeSet, error) {
	path := collectionPath(kind) + "?since=" + strconv.FormatInt(since, 10)

	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	cs := &sync.ChangeSet{Mark: resp.Since}
	for _, w := range resp.Data {
		cs.Records = append(cs.Records, w.ToRecord(kind))
	}
	return cs, nil
}

// do sends a request, retrying while the service is unreachable.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = data
	}

	var err error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Printf("Retrying %s %s (attempt %d): %v", method, path, attempt+1, err)
			if serr := sleepWithContext(ctx, c.config.RetryBackoff*time.Duration(attempt)); serr != nil {
				return sync.Unreachable("request cancelled", serr)
			}
		}
		err = c.roundTrip(ctx, method, path, payload, out)
		if err == nil || !errors.Is(err, sync.ErrTransportUnreachable) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return sync.Unreachable(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	err = json.NewDecoder(resp.Body).Decode(out)
	if errors.Is(err, io.EOF) && method == http.MethodPut {
		// Updates may be acknowledged without a body.
		return nil
	}
	if err != nil {
		return sync.Malformed(fmt.Sprintf("failed to decode %s %s response", method, path), err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	reason := strings.TrimSpace(string(body))
	var er ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		reason = er.Error
	}

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &sync.GatewayError{Kind: sync.FailureUnreachable, Status: resp.StatusCode, Reason: reason}
	default:
		return sync.Rejected(resp.StatusCode, reason)
	}
}

func collectionPath(kind schema.Kind) string {
	return "/api/v1/" + kind.Plural()
}

func itemPath(kind schema.Kind, remoteID int64) string {
	return collectionPath(kind) + "/" + strconv.FormatInt(remoteID, 10)
}

// sleepWithContext waits for d or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
