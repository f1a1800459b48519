package client

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

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"invoicedash/internal/config"
	"invoicedash/internal/logging"
	"invoicedash/internal/session"
)

const (
	defaultRefreshTimeout = 10 * time.Second
	responseBodyLimit     = 8 << 20
	requestIDHeader       = "X-Request-ID"
)

// Client issues API requests with the stored bearer token and recovers once
// from an expired access token by refreshing it.
type Client struct {
	http           *http.Client
	endpoints      config.APIEndpoints
	creds          session.Store
	logger         *logging.Logger
	refreshTimeout time.Duration
	refreshGroup   singleflight.Group
}

type Option func(*Client)

// WithRefreshTimeout bounds the refresh call independently of the caller's
// context, which may be shared by several waiting requests.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.refreshTimeout = timeout
		}
	}
}

func New(httpClient *http.Client, endpoints config.APIEndpoints, creds session.Store, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		panic("client.New: logger must not be nil")
	}
	if creds == nil {
		panic("client.New: credential store must not be nil")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		http:           httpClient,
		endpoints:      endpoints,
		creds:          creds,
		logger:         logger.Scope("client"),
		refreshTimeout: defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Credentials() session.Store {
	return c.creds
}

// Request describes one API call. Path is resolved against the base URL.
// Body may be nil, []byte, an io.Reader or any JSON-encodable value.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
}

type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

func (r *Response) Decode(v any) error {
	if r == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

type preparedRequest struct {
	method  string
	url     string
	body    []byte
	header  http.Header
	retried bool
}

// Do sends req. A 401 on the first attempt triggers one token refresh and
// one resend; if no refresh is possible both tokens are cleared and the
// original error is returned.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	prepared, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	resp, usedToken, err := c.attempt(ctx, prepared)
	if !isStatus(err, http.StatusUnauthorized) || prepared.retried {
		return resp, err
	}
	prepared.retried = true

	if !c.refreshAccessToken(ctx, usedToken) {
		c.clearCredentials()
		return nil, err
	}
	resp, _, err = c.attempt(ctx, prepared)
	return resp, err
}

func (c *Client) prepare(req Request) (*preparedRequest, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target := c.endpoints.Resolve(req.Path)
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body []byte
	switch v := req.Body.(type) {
	case nil:
	case []byte:
		body = v
	case io.Reader:
		// Buffered so the post-refresh resend can replay it.
		data, err := io.ReadAll(v)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = data
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = data
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	for key, values := range req.Header {
		header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	return &preparedRequest{method: method, url: target, body: body, header: header}, nil
}

func (c *Client) attempt(ctx context.Context, prepared *preparedRequest) (*Response, string, error) {
	var body io.Reader
	if prepared.body != nil {
		body = bytes.NewReader(prepared.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, prepared.method, prepared.url, body)
	if err != nil {
		return nil, "", err
	}
	httpReq.Header = prepared.header.Clone()
	httpReq.Header.Set(requestIDHeader, uuid.NewString())
	token := c.creds.Credentials().AccessToken
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, token, err
	}
	defer resp.Body.Close()
	data, readErr := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	c.logger.Debugf("%s %s -> %s", prepared.method, prepared.url, resp.Status)
	if readErr != nil && resp.StatusCode < http.StatusBadRequest {
		return nil, token, fmt.Errorf("read response body: %w", readErr)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		if resp.StatusCode == http.StatusUnauthorized && !prepared.retried {
			c.logger.Debug("request unauthorized", logging.Field("url", prepared.url))
		} else {
			c.logger.Warn("request rejected",
				logging.Field("method", prepared.method),
				logging.Field("url", prepared.url),
				logging.Field("status", resp.Status),
				logging.Field("response", logging.FormatHTTPPayload(data)),
			)
		}
		return nil, token, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: data}
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
	}, token, nil
}

func (c *Client) sendJSON(ctx context.Context, method string, path string, body any, out any) error {
	resp, err := c.Do(ctx, Request{Method: method, Path: path, Body: body})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
