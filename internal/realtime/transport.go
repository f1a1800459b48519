package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// Conn is one open realtime connection. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime handshake failed (%s): %w", resp.Status, err)
		}
		return nil, err
	}
	return conn, nil
}

// withToken appends the access token as the "token" query parameter,
// replacing any token already present.
func withToken(rawURL string, token string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid realtime URL: %w", err)
	}
	query := parsed.Query()
	query.Del("token")
	if token != "" {
		query.Set("token", token)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
