package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

const (
	ReconnectFixed       = "fixed"
	ReconnectExponential = "exponential"
)

type Options struct {
	BaseURL              string        `long:"base-url" env:"INVOICE_API_URL" default:"http://localhost:8000/api" description:"Invoice API base URL"`
	RealtimeURL          string        `long:"ws-url" env:"INVOICE_WS_URL" default:"ws://localhost:8000/ws/notifications/" description:"Realtime notification WebSocket URL"`
	Email                string        `long:"email" env:"INVOICE_EMAIL" description:"Login email, used when no stored credentials exist"`
	Password             string        `long:"password" env:"INVOICE_PASSWORD" description:"Login password"`
	CredentialsFile      string        `long:"credentials-file" env:"INVOICE_CREDENTIALS_FILE" description:"File holding the access/refresh token pair"`
	ReconnectPolicy      string        `long:"reconnect-policy" env:"INVOICE_RECONNECT_POLICY" choice:"fixed" choice:"exponential" default:"fixed" description:"Realtime reconnect policy"`
	ReconnectDelay       time.Duration `long:"reconnect-delay" env:"INVOICE_RECONNECT_DELAY" default:"2s" description:"Delay before a realtime reconnect attempt"`
	ReconnectMaxDelay    time.Duration `long:"reconnect-max-delay" env:"INVOICE_RECONNECT_MAX_DELAY" default:"30s" description:"Upper bound for exponential reconnect delay"`
	ReconnectMaxAttempts int           `long:"reconnect-max-attempts" env:"INVOICE_RECONNECT_MAX_ATTEMPTS" default:"0" description:"Stop reconnecting after this many consecutive failures (0 retries forever)"`
	RefreshTimeout       time.Duration `long:"refresh-timeout" env:"INVOICE_REFRESH_TIMEOUT" default:"10s" description:"Timeout for the token refresh call"`
	HTTPTimeout          time.Duration `long:"http-timeout" env:"INVOICE_HTTP_TIMEOUT" default:"15s" description:"Timeout for regular API requests"`
	Plain                bool          `long:"plain" env:"INVOICE_PLAIN" description:"Run without the terminal UI and log to stderr"`
	Debug                bool          `long:"debug" env:"INVOICE_DEBUG" description:"Enable verbose debug output"`
}

type APIEndpoints struct {
	BaseURL     string
	LoginURL    string
	RefreshURL  string
	RealtimeURL string
}

const (
	loginPath   = "auth/token/"
	refreshPath = "auth/token/refresh/"
)

func ParseOptions() (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	if _, err := flags.Parse(&opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// DefaultOptions mirrors the flag defaults so saved settings can tell a
// placeholder apart from a value the user typed.
func DefaultOptions() Options {
	return Options{
		BaseURL:           "http://localhost:8000/api",
		RealtimeURL:       "ws://localhost:8000/ws/notifications/",
		ReconnectPolicy:   ReconnectFixed,
		ReconnectDelay:    2 * time.Second,
		ReconnectMaxDelay: 30 * time.Second,
		RefreshTimeout:    10 * time.Second,
		HTTPTimeout:       15 * time.Second,
	}
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return errors.New("base URL is required")
	}
	if strings.TrimSpace(opts.RealtimeURL) == "" {
		return errors.New("realtime URL is required")
	}
	if strings.TrimSpace(opts.Email) != "" && opts.Password == "" {
		return errors.New("password is required when email is set")
	}
	switch opts.ReconnectPolicy {
	case "", ReconnectFixed, ReconnectExponential:
	default:
		return fmt.Errorf("unknown reconnect policy %q", opts.ReconnectPolicy)
	}
	return nil
}

func BuildEndpoints(rawBaseURL string, rawRealtimeURL string) (APIEndpoints, error) {
	base, err := normalizeURL(rawBaseURL, "http", "https")
	if err != nil {
		return APIEndpoints{}, fmt.Errorf("base URL: %w", err)
	}
	realtime, err := normalizeURL(rawRealtimeURL, "ws", "wss")
	if err != nil {
		return APIEndpoints{}, fmt.Errorf("realtime URL: %w", err)
	}
	endpoints := APIEndpoints{BaseURL: strings.TrimRight(base.String(), "/")}
	endpoints.LoginURL = endpoints.Resolve(loginPath)
	endpoints.RefreshURL = endpoints.Resolve(refreshPath)
	// The realtime path keeps its trailing slash; Django Channels routes are strict about it.
	endpoints.RealtimeURL = realtime.String()
	return endpoints, nil
}

// Resolve joins a resource path such as "invoices/12/" onto the base URL.
func (e APIEndpoints) Resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return e.BaseURL + "/" + strings.TrimLeft(path, "/")
}

func normalizeURL(raw string, schemes ...string) (*url.URL, error) {
	value := strings.TrimSpace(raw)
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("expected absolute URL like %s://example.com", schemes[0])
	}
	allowed := false
	for _, scheme := range schemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed, nil
}
