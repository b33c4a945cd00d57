// ==============================
// File: internal/api/history.go
// ==============================

// Package api is the REST client for the paginated history endpoints
// (chat history, per-coin trade history). Pagination state lives with
// the caller; this client only passes offset/limit through and returns
// the server's paging envelope verbatim.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultMaxTries = 3
)

// Page is one page of a history listing. Items are passed through as
// raw JSON for the consumer to decode.
type Page struct {
	Items      []json.RawMessage `json:"items"`
	HasMore    bool              `json:"hasMore"`
	NextOffset int               `json:"nextOffset"`
}

type envelope struct {
	Data Page `json:"data"`
}

// Client talks to the REST backend.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	maxTries   uint
	logger     *zap.Logger
}

func NewClient(baseURL, authToken string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxTries:   defaultMaxTries,
		logger:     logger.Named("api"),
	}
}

// ChatHistory fetches one page of messages for a room. before is an
// optional cursor timestamp (zero means latest).
func (c *Client) ChatHistory(ctx context.Context, roomID string, offset, limit int, before time.Time) (*Page, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))
	if !before.IsZero() {
		query.Set("before", strconv.FormatInt(before.UnixMilli(), 10))
	}
	return c.getPage(ctx, "/chat/"+url.PathEscape(roomID)+"/messages", query)
}

// TradeHistory fetches one page of trades for a mint.
func (c *Client) TradeHistory(ctx context.Context, mint string, offset, limit int) (*Page, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))
	return c.getPage(ctx, "/trades/"+url.PathEscape(mint), query)
}

// getPage runs one GET with retries on 5xx and transport errors. 4xx
// responses are terminal.
func (c *Client) getPage(ctx context.Context, path string, query url.Values) (*Page, error) {
	endpoint := c.baseURL + path + "?" + query.Encode()

	operation := func() (*Page, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.authToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("server error %d from %s", resp.StatusCode, path)
		case resp.StatusCode != http.StatusOK:
			return nil, backoff.Permanent(fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path))
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode response from %s: %w", path, err))
		}
		return &env.Data, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond

	page, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("Retrying history request",
				zap.String("path", path), zap.Error(err), zap.Duration("backoff", next))
		}))
	if err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	return page, nil
}
