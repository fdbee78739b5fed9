// Package backend holds the HTTP plumbing shared by the clients of the
// marketplace REST API: auth propagation, per-request timeouts, a circuit
// breaker, and decoding of structured error bodies.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	IdempotencyHeader = "Idempotency-Key"

	networkMessage = "Network error. Please check your connection and try again."
	defaultMessage = "An error occurred"
)

var (
	ErrNetwork = errors.New("network failure")
	errServer  = errors.New("server error")

	// the caller gave up; says nothing about the upstream's health
	errAbandoned = errors.New("request abandoned by caller")
)

// APIError mirrors the {message, statusCode} error shape the UI displays.
type APIError struct {
	Message    string              `json:"message"`
	StatusCode int                 `json:"statusCode"`
	Errors     map[string][]string `json:"errors,omitempty"`
	Err        error               `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (status %d): %v", e.Message, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

type tokenKey struct{}

// WithToken stores the caller's Authorization header value in ctx.
func WithToken(ctx context.Context, authorization string) context.Context {
	return context.WithValue(ctx, tokenKey{}, authorization)
}

func tokenFrom(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey{}).(string); ok {
		return v
	}
	return ""
}

type response struct {
	status int
	body   []byte
}

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[*response]
}

// NewClient builds a client for the API rooted at baseURL. name labels the
// circuit breaker in logs.
func NewClient(name, baseURL string, timeout time.Duration, log logrus.FieldLogger) *Client {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errAbandoned)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("CircuitBreaker[%s] state changed from %s to %s", name, from, to)
		},
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: timeout,
		cb:      gobreaker.NewCircuitBreaker[*response](st),
	}
}

// Request is one call against the API.
type Request struct {
	Method         string
	Path           string
	Body           any
	IdempotencyKey string
}

// Do sends req and decodes a 2xx JSON body into out (if non-nil). Non-2xx
// responses come back as *APIError; transport failures and an open breaker as
// *APIError wrapping ErrNetwork.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
	}

	callerCtx := ctx
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.cb.Execute(func() (*response, error) {
		res, err := c.roundTrip(ctx, req, payload)
		if err != nil && res == nil && callerCtx.Err() != nil {
			return nil, errors.Wrap(errAbandoned, callerCtx.Err().Error())
		}
		return res, err
	})
	if res == nil {
		return &APIError{
			Message:    networkMessage,
			StatusCode: http.StatusInternalServerError,
			Err:        errors.Wrapf(ErrNetwork, "%s %s: %v", req.Method, req.Path, err),
		}
	}

	if res.status < 200 || res.status > 299 {
		return decodeError(res)
	}

	if out == nil || len(res.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.body, out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", req.Method, req.Path)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, req Request, payload []byte) (*response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token := tokenFrom(ctx); token != "" {
		httpReq.Header.Set("Authorization", token)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(IdempotencyHeader, req.IdempotencyKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	res := &response{status: httpResp.StatusCode, body: data}
	if httpResp.StatusCode >= 500 {
		// counts against the breaker; the body is still decoded by the caller
		return res, errServer
	}
	return res, nil
}

func decodeError(res *response) *APIError {
	apiErr := &APIError{Message: defaultMessage, StatusCode: res.status}

	var body struct {
		Message string              `json:"message"`
		Detail  json.RawMessage     `json:"detail"`
		Errors  map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(res.body, &body); err != nil {
		return apiErr
	}

	apiErr.Errors = body.Errors
	switch {
	case body.Message != "":
		apiErr.Message = body.Message
	case len(body.Detail) > 0 && string(body.Detail) != "null":
		var detail string
		if err := json.Unmarshal(body.Detail, &detail); err != nil {
			// validation errors arrive as a list of objects
			detail = string(body.Detail)
		}
		if detail != "" {
			apiErr.Message = detail
		}
	}
	return apiErr
}
