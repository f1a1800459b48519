package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"invoicedash/internal/logging"
	"invoicedash/internal/session"
)

var errMissingAccessToken = errors.New("token response missing access token")

type tokenResponse struct {
	Access       string `json:"access"`
	Token        string `json:"token"`
	Refresh      string `json:"refresh"`
	RefreshToken string `json:"refresh_token"`
}

func (r tokenResponse) accessToken() string {
	if v := strings.TrimSpace(r.Access); v != "" {
		return v
	}
	return strings.TrimSpace(r.Token)
}

func (r tokenResponse) refreshToken() string {
	if v := strings.TrimSpace(r.Refresh); v != "" {
		return v
	}
	return strings.TrimSpace(r.RefreshToken)
}

// Login exchanges email and password for a credential pair and stores it.
// It is a single attempt and never goes through the refresh path.
func (c *Client) Login(ctx context.Context, email string, password string) (session.Pair, error) {
	var tokens tokenResponse
	body := map[string]string{"email": strings.TrimSpace(email), "password": password}
	if err := c.postTokenEndpoint(ctx, c.endpoints.LoginURL, body, &tokens); err != nil {
		return session.Pair{}, err
	}
	pair := session.Pair{AccessToken: tokens.accessToken(), RefreshToken: tokens.refreshToken()}
	if pair.AccessToken == "" {
		return session.Pair{}, errMissingAccessToken
	}
	if err := c.creds.Set(pair); err != nil {
		return session.Pair{}, fmt.Errorf("store credentials: %w", err)
	}
	fields := []slog.Attr{logging.Field("email", strings.TrimSpace(email))}
	if exp, ok := session.AccessExpiry(pair.AccessToken); ok {
		fields = append(fields, logging.Field("access_expires", exp.Format(time.RFC3339)))
	}
	c.logger.Info("logged in", fields...)
	return pair, nil
}

func (c *Client) Logout() error {
	if err := c.creds.Clear(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	c.logger.Info("logged out")
	return nil
}

// refreshAccessToken reports whether the stored access token differs from
// rejected, the token the failed request carried. Concurrent callers share
// one in-flight refresh call.
func (c *Client) refreshAccessToken(ctx context.Context, rejected string) bool {
	if c.tokenRotatedSince(rejected) {
		return true
	}
	refreshToken := strings.TrimSpace(c.creds.Credentials().RefreshToken)
	if refreshToken == "" {
		c.logger.Debug("no refresh token available")
		return false
	}
	_, err, shared := c.refreshGroup.Do(refreshToken, func() (any, error) {
		// A flight that finished just before this one started already did the work.
		if c.tokenRotatedSince(rejected) {
			return nil, nil
		}
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		return nil, c.refresh(refreshCtx, refreshToken)
	})
	if err != nil {
		c.logger.Warn("token refresh failed", logging.Field("error", err), logging.Field("shared", shared))
		return false
	}
	return true
}

func (c *Client) tokenRotatedSince(rejected string) bool {
	current := c.creds.Credentials().AccessToken
	return current != "" && current != rejected
}

func (c *Client) refresh(ctx context.Context, refreshToken string) error {
	var tokens tokenResponse
	if err := c.postTokenEndpoint(ctx, c.endpoints.RefreshURL, map[string]string{"refresh": refreshToken}, &tokens); err != nil {
		return err
	}
	access := tokens.accessToken()
	if access == "" {
		return errMissingAccessToken
	}
	var err error
	if rotated := tokens.refreshToken(); rotated != "" {
		err = c.creds.Set(session.Pair{AccessToken: access, RefreshToken: rotated})
	} else {
		err = c.creds.SetAccessToken(access)
	}
	if err != nil {
		return fmt.Errorf("store refreshed token: %w", err)
	}
	if exp, ok := session.AccessExpiry(access); ok {
		c.logger.Debug("access token refreshed", logging.Field("access_expires", exp.Format(time.RFC3339)))
	} else {
		c.logger.Debug("access token refreshed")
	}
	return nil
}

func (c *Client) clearCredentials() {
	if err := c.creds.Clear(); err != nil {
		c.logger.Warn("failed to clear credentials", logging.Field("error", err))
		return
	}
	c.logger.Warn("session expired; credentials cleared")
}

// postTokenEndpoint posts without an Authorization header.
func (c *Client) postTokenEndpoint(ctx context.Context, url string, body any, out *tokenResponse) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, readErr := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	c.logger.Debugf("POST %s -> %s", url, resp.Status)
	if readErr != nil && resp.StatusCode < http.StatusBadRequest {
		return fmt.Errorf("read token response: %w", readErr)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("token request rejected",
			logging.Field("url", url),
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: data}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	return nil
}
