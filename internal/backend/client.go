package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/httpclient"
	"github.com/aipoopers/zonemarket/internal/rate"
	"github.com/aipoopers/zonemarket/pkg/secrets"
)

// Client talks to the hosted Postgres-over-REST backend (PostgREST dialect,
// served under /rest/v1). Every request carries the same key as the apikey
// header and as a bearer token.
type Client struct {
	logger      *zap.Logger
	exec        *httpclient.Executor
	baseURL     string
	creds       CredentialSource
	missingOnce sync.Once
}

// NewClient builds a client for baseURL. rateMgr may be nil.
func NewClient(logger *zap.Logger, rateMgr *rate.Manager, baseURL string, timeout time.Duration, retryMax int, creds CredentialSource) *Client {
	c := &Client{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
	}
	httpClient := &http.Client{Timeout: timeout}
	c.exec = httpclient.New(logger, rateMgr, httpClient, retryMax, "backend", c.statusError)
	return c
}

func (c *Client) statusError(status int, body []byte) error {
	var resp errorResponse
	_ = json.Unmarshal(body, &resp)

	msg := resp.Message
	if msg == "" {
		msg = string(body)
	}
	c.logger.Warn("backend.client_error",
		zap.Int("status", status),
		zap.String("code", resp.Code),
		zap.String("message", msg),
		zap.String("hint", resp.Hint))

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if inv, ok := c.creds.(invalidator); ok {
			inv.Invalidate()
		}
	}
	return &StatusError{Status: status, Code: resp.Code, Message: msg}
}

// Select fetches the rows of table matching every filter.
func (c *Client) Select(ctx context.Context, table string, filters []Filter, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, table, filters, nil)
	if err != nil {
		return err
	}
	return c.do(ctx, req, table, out)
}

// Insert creates row in table and decodes the created representation into out.
func (c *Client) Insert(ctx context.Context, table string, row any, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, table, nil, row)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=representation")
	return c.do(ctx, req, table, out)
}

// Update patches the columns in patch on every row matching filters.
// At least one filter is required so a bug cannot rewrite the whole table.
func (c *Client) Update(ctx context.Context, table string, filters []Filter, patch any) error {
	if len(filters) == 0 {
		return fmt.Errorf("update %s: refusing unfiltered update", table)
	}
	req, err := c.newRequest(ctx, http.MethodPatch, table, filters, patch)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=minimal")
	return c.do(ctx, req, table, nil)
}

func (c *Client) newRequest(ctx context.Context, method, table string, filters []Filter, body any) (*http.Request, error) {
	key, err := c.creds.Resolve(ctx)
	if err != nil {
		if errors.Is(err, ErrMissingCredentials) || errors.Is(err, secrets.ErrNotFound) || errors.Is(err, secrets.ErrMissingField) {
			c.missingOnce.Do(func() {
				c.logger.Error("backend.credentials_missing",
					zap.String("hint", "create the credentials file from the template or configure the secret"),
					zap.Error(err))
			})
			return nil, fmt.Errorf("%w: %v", ErrMissingCredentials, err)
		}
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	q := url.Values{}
	if method == http.MethodGet {
		q.Set("select", "*")
	}
	for _, f := range filters {
		q.Add(f.Column, f.Op+"."+f.Value)
	}

	u := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, url.PathEscape(table))
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", table, err)
		}
		reader = bytes.NewReader(data)
	}

	var req *http.Request
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, u, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u, nil)
	}
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, req *http.Request, table string, out any) error {
	err := c.exec.DoJSON(ctx, req, table, out)
	if errors.Is(err, httpclient.ErrDecode) {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return err
}
