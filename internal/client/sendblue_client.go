package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultBaseURL    = "https://api.sendblue.co/api"
	DefaultFromNumber = "+14152005823"

	headerAPIKey    = "SB-API-KEY-ID"
	headerAPISecret = "SB-API-SECRET-KEY"
)

var tracer = otel.Tracer("postcard/client/sendblue")

type SendblueConfig struct {
	APIKey     string
	APISecret  string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// SendblueClient sends iMessage/SMS through the Sendblue REST API.
type SendblueClient struct {
	apiKey     string
	apiSecret  string
	fromNumber string
	url        string
	client     *http.Client
	logger     *slog.Logger
}

// NewSendblueClient validates credentials once; a process without them must
// not start.
func NewSendblueClient(cfg SendblueConfig) (*SendblueClient, error) {
	var missing []string
	if strings.TrimSpace(cfg.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if strings.TrimSpace(cfg.APISecret) == "" {
		missing = append(missing, "api secret")
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{Missing: missing}
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	from := cfg.FromNumber
	if from == "" {
		from = DefaultFromNumber
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SendblueClient{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		fromNumber: from,
		url:        baseURL + "/send-message",
		client:     httpClient,
		logger:     logger,
	}, nil
}

type sendRequest struct {
	FromNumber string `json:"from_number"`
	Number     string `json:"number"`
	Content    string `json:"content"`
}

type sendResponse struct {
	Status        string `json:"status"`
	MessageHandle string `json:"message_handle"`
	ErrorMessage  string `json:"error_message"`
}

// Send posts one message and returns the provider's message handle, which
// may be empty. Non-2xx responses come back as *GatewayError. Any 2xx is a
// delivered message, even when the body cannot be decoded.
func (c *SendblueClient) Send(ctx context.Context, phoneNumber, message string) (string, error) {
	ctx, span := tracer.Start(ctx, "sendblue.send")
	defer span.End()
	span.SetAttributes(attribute.String("postcard.to", phoneNumber))

	handle, err := c.send(ctx, phoneNumber, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return handle, err
}

func (c *SendblueClient) send(ctx context.Context, phoneNumber, message string) (string, error) {
	reqBody, err := json.Marshal(sendRequest{
		FromNumber: c.fromNumber,
		Number:     phoneNumber,
		Content:    message,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerAPISecret, c.apiSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &GatewayError{Kind: ServerError, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &GatewayError{
			Kind:       classify(resp.StatusCode),
			HTTPStatus: resp.StatusCode,
			Body:       string(body),
		}
	}

	var sr sendResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &sr); err != nil {
			c.logger.Warn("sendblue: failed to decode json",
				"status", resp.StatusCode,
				"error", err,
				"body", string(body),
			)
			return "", nil
		}
	}
	return sr.MessageHandle, nil
}

func classify(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return AuthFailure
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status >= 500:
		return ServerError
	default:
		return BadRequest
	}
}
