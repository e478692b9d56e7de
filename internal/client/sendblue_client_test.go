package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, url string) *SendblueClient {
	t.Helper()

	c, err := NewSendblueClient(SendblueConfig{
		APIKey:     "key-id",
		APISecret:  "secret",
		FromNumber: "+14150000000",
		BaseURL:    url,
	})
	if err != nil {
		t.Fatalf("NewSendblueClient() error: %v", err)
	}
	return c
}

func TestNewSendblueClient_MissingCredentials(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  SendblueConfig
		want string
	}{
		{"missing key", SendblueConfig{APISecret: "s"}, "api key"},
		{"missing secret", SendblueConfig{APIKey: "k"}, "api secret"},
		{"blank both", SendblueConfig{APIKey: " ", APISecret: ""}, "api key, api secret"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewSendblueClient(tc.cfg)
			if c != nil {
				t.Fatalf("expected nil client")
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error to mention %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSendblueClient_Send_Success(t *testing.T) {
	t.Parallel()

	type gotReq struct {
		Method      string
		Path        string
		ContentType string
		APIKey      string
		APISecret   string
		Body        []byte
	}

	var captured gotReq

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Path = r.URL.Path
		captured.ContentType = r.Header.Get("Content-Type")
		captured.APIKey = r.Header.Get("SB-API-KEY-ID")
		captured.APISecret = r.Header.Get("SB-API-SECRET-KEY")

		b, _ := ioReadAll(r)
		captured.Body = b

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"QUEUED","message_handle":"abc-123"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/api/")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	handle, err := c.Send(ctx, "+19174779901", "hello")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if handle != "abc-123" {
		t.Fatalf("expected message_handle %q, got %q", "abc-123", handle)
	}

	if captured.Method != http.MethodPost {
		t.Fatalf("expected method POST, got %q", captured.Method)
	}
	if captured.Path != "/api/send-message" {
		t.Fatalf("expected path /api/send-message, got %q", captured.Path)
	}
	if captured.ContentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", captured.ContentType)
	}
	if captured.APIKey != "key-id" || captured.APISecret != "secret" {
		t.Fatalf("expected credential headers, got key=%q secret=%q", captured.APIKey, captured.APISecret)
	}

	var req sendRequest
	if err := json.Unmarshal(captured.Body, &req); err != nil {
		t.Fatalf("failed to decode request json: %v body=%q", err, string(captured.Body))
	}
	if req.FromNumber != "+14150000000" {
		t.Fatalf("expected from_number %q, got %q", "+14150000000", req.FromNumber)
	}
	if req.Number != "+19174779901" {
		t.Fatalf("expected number %q, got %q", "+19174779901", req.Number)
	}
	if req.Content != "hello" {
		t.Fatalf("expected content %q, got %q", "hello", req.Content)
	}
}

func TestSendblueClient_Send_EmptyBodyIsSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	handle, err := newTestClient(t, srv.URL).Send(context.Background(), "+1", "hi")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if handle != "" {
		t.Fatalf("expected empty handle, got %q", handle)
	}
}

func TestSendblueClient_Send_ClassifiesStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{http.StatusBadRequest, BadRequest, false},
		{http.StatusUnprocessableEntity, BadRequest, false},
		{http.StatusUnauthorized, AuthFailure, false},
		{http.StatusForbidden, AuthFailure, false},
		{http.StatusTooManyRequests, RateLimited, true},
		{http.StatusInternalServerError, ServerError, true},
		{http.StatusBadGateway, ServerError, true},
	}

	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Send(context.Background(), "+1", "hi")

			var gwErr *GatewayError
			if !errors.As(err, &gwErr) {
				t.Fatalf("expected GatewayError, got %v", err)
			}
			if gwErr.Kind != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, gwErr.Kind)
			}
			if gwErr.HTTPStatus != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, gwErr.HTTPStatus)
			}
			if gwErr.Retryable() != tc.retryable {
				t.Fatalf("expected retryable=%v", tc.retryable)
			}
			if !strings.Contains(err.Error(), `body="nope"`) {
				t.Fatalf("expected error to include body, got: %v", err)
			}
		})
	}
}

func TestSendblueClient_Send_NonJSONSuccessBodyIsDelivered(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	c, err := NewSendblueClient(SendblueConfig{
		APIKey:    "key-id",
		APISecret: "secret",
		BaseURL:   srv.URL,
		Logger:    slog.New(slog.NewJSONHandler(&logs, nil)),
	})
	if err != nil {
		t.Fatalf("NewSendblueClient() error: %v", err)
	}

	handle, err := c.Send(context.Background(), "+1", "hi")
	if err != nil {
		t.Fatalf("expected a 2xx to count as sent, got: %v", err)
	}
	if handle != "" {
		t.Fatalf("expected empty handle, got %q", handle)
	}
	if !strings.Contains(logs.String(), "failed to decode json") || !strings.Contains(logs.String(), `"body":"OK"`) {
		t.Fatalf("expected the undecodable body to be logged, got: %s", logs.String())
	}
}

func TestSendblueClient_Send_TransportFailureIsServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).Send(context.Background(), "+1", "hi")

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gwErr.Kind != ServerError || gwErr.HTTPStatus != 0 || gwErr.Err == nil {
		t.Fatalf("unexpected gateway error: %+v", gwErr)
	}
}

func TestSendblueClient_Send_ContextCanceled(t *testing.T) {
	t.Parallel()

	// Server that intentionally blocks longer than our context deadline.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestClient(t, srv.URL).Send(ctx, "+1", "hi")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got: %v", err)
	}

	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		t.Fatalf("cancellation should not be reported as a gateway error: %v", err)
	}
}

func ioReadAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
