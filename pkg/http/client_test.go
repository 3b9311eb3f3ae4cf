package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "7", r.URL.Query().Get("limit"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["q"]})
	}))
	defer srv.Close()

	c := NewClient(WithUserAgent("test-agent"))
	var out map[string]string
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method: MethodPost,
		URL:    srv.URL,
		Query:  url.Values{"limit": {"7"}},
		Body:   map[string]string{"q": "btc"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "btc", out["echo"])
}

func TestClientStatusError(t *testing.T) {
	codes := map[int]bool{
		http.StatusBadRequest:          false,
		http.StatusTooManyRequests:     true,
		http.StatusServiceUnavailable:  true,
		http.StatusUnprocessableEntity: false,
	}
	for code, temporary := range codes {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", code)
		}))

		err := NewClient().SendAndParse(context.Background(), &RequestOptions{URL: srv.URL}, nil)
		srv.Close()

		var se *StatusError
		require.True(t, errors.As(err, &se), "status %d", code)
		assert.Equal(t, code, se.Code)
		assert.Equal(t, "nope", se.Body)
		assert.Equal(t, temporary, se.Temporary(), "status %d", code)
	}
}
