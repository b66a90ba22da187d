package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		APIKey:        "key-123",
		TimeoutMs:     2000,
		RetryAttempts: 3,
		RetryBase:     time.Millisecond,
	}
}

func TestSend_Success(t *testing.T) {
	var gotAuth string
	var gotMsg Message
	srv := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotMsg))
		_ = json.NewEncoder(w).Encode(Result{ID: "msg_1"})
	})

	m := NewHTTPMailer(testConfig(srv.URL))
	res, err := m.Send(context.Background(), Message{
		From:    "WebQ <no-reply@webq.com.br>",
		To:      []string{"client@example.com"},
		Subject: "hi",
		HTML:    "<p>hi</p>",
	})
	require.NoError(t, err)
	require.Equal(t, "msg_1", res.ID)
	require.Equal(t, "Bearer key-123", gotAuth)
	require.Equal(t, []string{"client@example.com"}, gotMsg.To)
}

func TestSend_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Result{ID: "msg_2"})
	})

	m := NewHTTPMailer(testConfig(srv.URL))
	res, err := m.Send(context.Background(), Message{To: []string{"x@example.com"}})
	require.NoError(t, err)
	require.Equal(t, "msg_2", res.ID)
	require.Equal(t, int32(3), calls.Load())
}

func TestSend_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	m := NewHTTPMailer(testConfig(srv.URL))
	_, err := m.Send(context.Background(), Message{To: []string{"x@example.com"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status=500")
	require.Equal(t, int32(3), calls.Load())
}

func TestSend_NotConfigured(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.APIKey = ""
	m := NewHTTPMailer(cfg)

	_, err := m.Send(context.Background(), Message{To: []string{"x@example.com"}})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestSend_NoRecipients(t *testing.T) {
	m := NewHTTPMailer(testConfig("http://unused"))

	_, err := m.Send(context.Background(), Message{})
	require.Error(t, err)
}
