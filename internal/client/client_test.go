package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"

	"github.com/google/uuid"

	"invoicedash/internal/config"
	"invoicedash/internal/logging"
	"invoicedash/internal/session"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

var testEndpoints = config.APIEndpoints{
	BaseURL:    "https://api.example.test/api",
	LoginURL:   "https://api.example.test/api/auth/token/",
	RefreshURL: "https://api.example.test/api/auth/token/refresh/",
}

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func newTestClient(store session.Store, fn roundTripFunc) *Client {
	return New(&http.Client{Transport: fn}, testEndpoints, store, logging.Discard())
}

func TestDo_RefreshesAndResendsOnce(t *testing.T) {
	store := session.NewMemoryStore(session.Pair{AccessToken: "old", RefreshToken: "r1"})
	var refreshCalls, dataCalls atomic.Int32
	c := newTestClient(store, func(r *http.Request) (*http.Response, error) {
		if r.URL.String() == testEndpoints.RefreshURL {
			refreshCalls.Add(1)
			if got := r.Header.Get("Authorization"); got != "" {
				t.Fatalf("refresh Authorization = %q, want empty", got)
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"refresh":"r1"}` {
				t.Fatalf("refresh body = %s", body)
			}
			return jsonResponse(r, http.StatusOK, `{"access":"new"}`), nil
		}
		dataCalls.Add(1)
		if r.Header.Get("Authorization") == "Bearer new" {
			return jsonResponse(r, http.StatusOK, `{"ok":true}`), nil
		}
		return jsonResponse(r, http.StatusUnauthorized, `{"detail":"expired"}`), nil
	})

	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "invoices/"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != `{"ok":true}` {
		t.Fatalf("response = %d %s", resp.StatusCode, resp.Body)
	}
	if refreshCalls.Load() != 1 || dataCalls.Load() != 2 {
		t.Fatalf("refresh calls = %d, data calls = %d", refreshCalls.Load(), dataCalls.Load())
	}
	if got := store.Credentials(); got != (session.Pair{AccessToken: "new", RefreshToken: "r1"}) {
		t.Fatalf("stored pair = %#v", got)
	}
}

func TestDo_UnauthorizedAfterRefreshIsReturned(t *testing.T) {
	store := session.NewMemoryStore(session.Pair{AccessToken: "old", RefreshToken: "r1"})
	var refreshCalls, dataCalls atomic.Int32
	c := newTestClient(store, func(r *http.Request) (*http.Response, error) {
		if r.URL.String() == testEndpoints.RefreshURL {
			refreshCalls.Add(1)
			return jsonResponse(r, http.StatusOK, `{"access":"new","refresh":"r2"}`), nil
		}
		dataCalls.Add(1)
		return jsonResponse(r, http.StatusUnauthorized, `{"detail":"no"}`), nil
	})

	_, err := c.Do(context.Background(), Request{Path: "invoices/"})
	if StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("Do() error = %v, want 401", err)
	}
	if refreshCalls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", refreshCalls.Load())
	}
	if dataCalls.Load() != 2 {
		t.Fatalf("data calls = %d, want 2", dataCalls.Load())
	}
	if got := store.Credentials(); got != (session.Pair{AccessToken: "new", RefreshToken: "r2"}) {
		t.Fatalf("stored pair = %#v, want rotated pair kept", got)
	}
}

func TestDo_RefreshFailureClearsCredentials(t *testing.T) {
	store := session.NewMemoryStore(session.Pair{AccessToken: "old", RefreshToken: "r1"})
	var dataCalls atomic.Int32
	c := newTestClient(store, func(r *http.Request) (*http.Response, error) {
		if r.URL.String() == testEndpoints.RefreshURL {
			return jsonResponse(r, http.StatusUnauthorized, `{"detail":"refresh expired"}`), nil
		}
		dataCalls.Add(1)
		return jsonResponse(r, http.StatusUnauthorized, `{"detail":"original"}`), nil
	})

	_, err := c.Do(context.Background(), Request{Path: "invoices/"})
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Do() error = %v, want HTTPStatusError", err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized || string(statusErr.Body) != `{"detail":"original"}` {
		t.Fatalf("error = %d %s, want the original 401", statusErr.StatusCode, statusErr.Body)
	}
	if dataCalls.Load() != 1 {
		t.Fatalf("data calls = %d, want 1", dataCalls.Load())
	}
	if got := store.Credentials(); !got.Empty() {
		t.Fatalf("stored pair = %#v, want cleared", got)
	}
}

func TestDo_MissingRefreshTokenClearsWithoutRefreshCall(t *testing.T) {
	store := session.NewMemoryStore(session.Pair{AccessToken: "old"})
	var refreshCalls atomic.Int32
	c := newTestClient(store, func(r *http.Request) (*http.Response, error) {
		if r.URL.String() == testEndpoints.RefreshURL {
			refreshCalls.Add(1)
		}
		return jsonResponse(r, http.StatusUnauthorized, `{}`), nil
	})

	if _, err := c.Do(context.Background(), Request{Path: "invoices/"}); !IsUnauthorized(err) {
		t.Fatalf("Do() error = %v, want unauthorized", err)
	}
	if refreshCalls.Load() != 0 {
		t.Fatalf("refresh calls = %d, want 0", refreshCalls.Load())
	}
	if got := store.Credentials(); !got.Empty() {
		t.Fatalf("stored pair = %#v, want cleared", got)
	}
}

func TestDo_OtherErrorsPropagateWithoutRefresh(t *testing.T) {
	store := session.NewMemoryStore(session.Pair{AccessToken: "a", RefreshToken: "r"})
	var refreshCalls atomic.Int32
	c := newTestClient(store, func(r *http.Request) (*http.Response, error) {
		if r.URL.String() == testEndpoints.RefreshURL {
			refreshCalls.Add(1)
		}
		if r.Method == http.MethodDelete {
			return nil, errors.New("connection reset")
		}
		return jsonResponse(r, http.StatusForbidden, `{"detail":"forbidden"}`), nil
	})

	if _, err := c.Do(context.Background(), Request{Path: "invoices/"}); StatusCode(err) != http.StatusForbidden {
		t.Fatalf("Do() error = %v, want 403", err)
	}
	if _, err := c.Do(context.Background(), Request{Method: http.MethodDelete, Path: "invoices/1/"}); err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("Do() error = %v, want transport error", err)
	}
	if refreshCalls.Load() != 0 {
		t.Fatalf("refresh calls = %d, want 0", refreshCalls.Load())
	}
	if got := store.Credentials(); got.AccessToken != "a" || got.RefreshToken != "r" {
		t.Fatalf("stored pair = %#v, want untouched", got)
	}
}

func TestDo_MergesHeaders(t *testing.T) {
	tests := []struct {
		name     string
		store    session.Pair
		wantAuth string
	}{
		{name: "with token", store: session.Pair{AccessToken: "abc"}, wantAuth: "Bearer abc"},
		{name: "without token", store: session.Pair{}, wantAuth: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(session.NewMemoryStore(tt.store), func(r *http.Request) (*http.Response, error) {
				if got := r.Header.Get("Authorization"); got != tt.wantAuth {
					t.Fatalf("Authorization = %q, want %q", got, tt.wantAuth)
				}
				if _, present := r.Header["Authorization"]; tt.wantAuth == "" && present {
					t.Fatalf("Authorization header present without a token")
				}
				if got := r.Header.Get("Content-Type"); got != "application/json" {
					t.Fatalf("Content-Type = %q", got)
				}
				if got := r.Header.Get("X-Trace"); got != "t-1" {
					t.Fatalf("X-Trace = %q", got)
				}
				if _, err := uuid.Parse(r.Header.Get("X-Request-ID")); err != nil {
					t.Fatalf("X-Request-ID = %q: %v", r.Header.Get("X-Request-ID"), err)
				}
				if got := r.URL.String(); got != "https://api.example.test/api/invoices/?status=paid" {
					t.Fatalf("url = %q", got)
				}
				return jsonResponse(r, http.StatusOK, `[]`), nil
			})
			header := http.Header{}
			header.Set("X-Trace", "t-1")
			_, err := c.Do(context.Background(), Request{
				Path:   "/invoices/",
				Query:  InvoiceFilter{Status: "paid"}.values(),
				Header: header,
			})
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
		})
	}
}

func TestDo_ReplaysReaderBodyOnResend(t *testing.T) {
	store := session.NewMemoryStore(session.Pair{AccessToken: "old", RefreshToken: "r1"})
	var bodies []string
	var mu sync.Mutex
	c := newTestClient(store, func(r *http.Request) (*http.Response, error) {
		if r.URL.String() == testEndpoints.RefreshURL {
			return jsonResponse(r, http.StatusOK, `{"token":"new"}`), nil
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer new" {
			return jsonResponse(r, http.StatusUnauthorized, `{}`), nil
		}
		return jsonResponse(r, http.StatusCreated, `{"id":9}`), nil
	})

	resp, err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "invoices/",
		Body:   strings.NewReader(`{"vendor_name":"Acme"}`),
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[1] != `{"vendor_name":"Acme"}` {
		t.Fatalf("bodies = %#v", bodies)
	}
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const workers = 5
	store := session.NewMemoryStore(session.Pair{AccessToken: "old", RefreshToken: "r1"})
	var refreshCalls, rejected atomic.Int32
	allRejected := make(chan struct{})
	c := newTestClient(store, func(r *http.Request) (*http.Response, error) {
		if r.URL.String() == testEndpoints.RefreshURL {
			refreshCalls.Add(1)
			return jsonResponse(r, http.StatusOK, `{"access":"new"}`), nil
		}
		if r.Header.Get("Authorization") == "Bearer new" {
			return jsonResponse(r, http.StatusOK, `[]`), nil
		}
		// Hold every stale request until all of them have been rejected.
		if rejected.Add(1) == workers {
			close(allRejected)
		}
		<-allRejected
		return jsonResponse(r, http.StatusUnauthorized, `{}`), nil
	})

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Go(func() {
			_, err := c.Do(context.Background(), Request{Path: "notifications/"})
			errs <- err
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestDo_RefreshOutlivesCallerCancellation(t *testing.T) {
	store := session.NewMemoryStore(session.Pair{AccessToken: "old", RefreshToken: "r1"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestClient(store, func(r *http.Request) (*http.Response, error) {
		if r.URL.String() == testEndpoints.RefreshURL {
			if err := r.Context().Err(); err != nil {
				t.Fatalf("refresh context already done: %v", err)
			}
			return jsonResponse(r, http.StatusOK, `{"access":"new"}`), nil
		}
		if r.Header.Get("Authorization") == "Bearer old" {
			cancel()
			return jsonResponse(r, http.StatusUnauthorized, `{}`), nil
		}
		if err := r.Context().Err(); err != nil {
			return nil, err
		}
		return jsonResponse(r, http.StatusOK, `{}`), nil
	})

	_, err := c.Do(ctx, Request{Path: "invoices/"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled on resend", err)
	}
	if got := store.Credentials().AccessToken; got != "new" {
		t.Fatalf("access token = %q, want refreshed despite cancellation", got)
	}
}

func TestLogin_StoresPairWithoutAuthorization(t *testing.T) {
	store := session.NewMemoryStore(session.Pair{AccessToken: "stale"})
	c := newTestClient(store, func(r *http.Request) (*http.Response, error) {
		if r.URL.String() != testEndpoints.LoginURL {
			t.Fatalf("unexpected url %s", r.URL)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Fatalf("login Authorization = %q, want empty", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"email":"ap@example.com"`) {
			t.Fatalf("login body = %s", body)
		}
		return jsonResponse(r, http.StatusOK, `{"token":"acc","refresh_token":"ref"}`), nil
	})

	pair, err := c.Login(context.Background(), " ap@example.com ", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	want := session.Pair{AccessToken: "acc", RefreshToken: "ref"}
	if pair != want || store.Credentials() != want {
		t.Fatalf("pair = %#v, stored = %#v", pair, store.Credentials())
	}

	if err := c.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if !store.Credentials().Empty() {
		t.Fatalf("credentials not cleared after logout")
	}
}

func TestLogin_RejectedIsNotRefreshed(t *testing.T) {
	var calls atomic.Int32
	store := session.NewMemoryStore(session.Pair{RefreshToken: "r1"})
	c := newTestClient(store, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(r, http.StatusUnauthorized, `{"detail":"bad credentials"}`), nil
	})

	if _, err := c.Login(context.Background(), "ap@example.com", "wrong"); !IsUnauthorized(err) {
		t.Fatalf("Login() error = %v, want unauthorized", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if store.Credentials().RefreshToken != "r1" {
		t.Fatalf("failed login must not touch stored credentials")
	}
}

func TestDo_TruncatedBodyIsReportedAsReadError(t *testing.T) {
	reset := errors.New("connection reset by peer")
	store := session.NewMemoryStore(session.Pair{AccessToken: "acc", RefreshToken: "ref"})
	c := newTestClient(store, func(r *http.Request) (*http.Response, error) {
		resp := jsonResponse(r, http.StatusOK, "")
		resp.Body = io.NopCloser(io.MultiReader(strings.NewReader(`[{"id":1,`), iotest.ErrReader(reset)))
		return resp, nil
	})

	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "invoices/"})
	if !errors.Is(err, reset) {
		t.Fatalf("Do() error = %v, want read error", err)
	}
	if !strings.Contains(err.Error(), "read response body") {
		t.Fatalf("Do() error = %q, want read response body context", err)
	}

	_, err = c.Login(context.Background(), "ap@example.com", "pw")
	if !errors.Is(err, reset) {
		t.Fatalf("Login() error = %v, want read error", err)
	}
}
