package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	log, _ := test.NewNullLogger()
	return NewClient("test", srv.URL+"/", time.Second, log)
}

func TestDo_SendsHeadersAndDecodes(t *testing.T) {
	var got *http.Request
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"o1"}`))
	})

	ctx := WithToken(context.Background(), "Bearer abc")
	var out struct {
		ID string `json:"id"`
	}
	err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/orders/", Body: map[string]int{"quantity": 2}, IdempotencyKey: "k1"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "o1", out.ID)
	assert.Equal(t, "/orders/", got.URL.Path)
	assert.Equal(t, "Bearer abc", got.Header.Get("Authorization"))
	assert.Equal(t, "k1", got.Header.Get(IdempotencyHeader))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, float64(2), gotBody["quantity"])
}

func TestDo_ErrorBodyShapes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"message", http.StatusBadRequest, `{"message":"bad quantity"}`, "bad quantity"},
		{"detail string", http.StatusBadRequest, `{"detail":"You cannot order your own product"}`, "You cannot order your own product"},
		{"detail list", http.StatusUnprocessableEntity, `{"detail":[{"loc":["body"]}]}`, `[{"loc":["body"]}]`},
		{"null detail", http.StatusNotFound, `{"detail":null}`, "An error occurred"},
		{"no json", http.StatusForbidden, `nope`, "An error occurred"},
		{"server", http.StatusInternalServerError, `{"detail":"boom"}`, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.status, StatusOf(err))
			assert.False(t, errors.Is(err, ErrNetwork))
		})
	}
}

func TestDo_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient("test", url, time.Second, logrus.New())
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)

	require.ErrorIs(t, err, ErrNetwork)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, networkMessage, apiErr.Message)
}

func TestDo_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 5; i++ {
		err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
		assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	}

	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, int32(5), calls.Load(), "open breaker must not reach the server")
}

func TestDo_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	for i := 0; i < 8; i++ {
		err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
		assert.Equal(t, http.StatusBadRequest, StatusOf(err))
	}
	assert.Equal(t, int32(8), calls.Load())
}

func TestDo_AbandonedRequestsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/slow" {
			<-r.Context().Done()
			return
		}
		w.Write([]byte(`{}`))
	})

	for i := 0; i < 6; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/slow"}, nil)
		cancel()
		require.Error(t, err)
	}

	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/fast"}, nil)
	require.NoError(t, err, "the breaker must still be closed")
	assert.NotZero(t, calls.Load())
}

func TestDo_UpstreamTimeoutsTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	log, _ := test.NewNullLogger()
	c := NewClient("test", srv.URL, 20*time.Millisecond, log)

	for i := 0; i < 5; i++ {
		err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
		require.ErrorIs(t, err, ErrNetwork)
	}

	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	assert.ErrorContains(t, err, "circuit breaker is open")
}

func TestStatusOf_PlainError(t *testing.T) {
	assert.Equal(t, 0, StatusOf(errors.New("x")))
}
