package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTrades(t *testing.T) {
	ticks, err := decodeTrades([]byte(`{"type":"trade","data":[
		{"s":"BINANCE:BTCUSDT","p":64250.12345678,"v":0.5,"t":1700000000123},
		{"s":"","p":1,"v":1,"t":1}
	]}`))
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, "BINANCE:BTCUSDT", ticks[0].Symbol)
	assert.Equal(t, "64250.12345678", ticks[0].Price.String())
	assert.Equal(t, int64(1700000000123), ticks[0].Timestamp.UnixMilli())
	assert.Equal(t, "finnhub", ticks[0].Source)

	ticks, err = decodeTrades([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Empty(t, ticks)

	_, err = decodeTrades([]byte(`not json`))
	assert.Error(t, err)
}

func TestClient_StreamsTrades(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg map[string]string
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		subscribed <- msg["symbol"]
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"trade","data":[{"s":"ETH","p":3100.5,"v":2,"t":1700000000000}]}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New("secret", "ws"+strings.TrimPrefix(srv.URL, "http"), []string{"ETH"}, time.Millisecond, time.Minute, nil)
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx))
	assert.True(t, c.IsConnected())
	assert.Equal(t, "ETH", <-subscribed)

	ticks, errs := c.Read(ctx)
	select {
	case tk := <-ticks:
		require.NotNil(t, tk)
		assert.Equal(t, "3100.5", tk.Price.String())
	case <-ctx.Done():
		t.Fatal("no tick received")
	}

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-ctx.Done():
		t.Fatal("expected read error after server closed")
	}
	assert.False(t, c.IsConnected())
	require.NoError(t, c.Close())
}
