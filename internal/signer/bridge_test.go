package signer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// serveQuery подключает мост с аккаунтом из query: в сервисе его подставляет
// cookie-аутентификация.
func serveQuery(b *Bridge) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.Serve(w, r, r.URL.Query().Get("account"))
	})
}

func dialBridge(t *testing.T, ctx context.Context, ts *httptest.Server, account string) *ws.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?account=" + account
	conn, _, err := ws.Dial(ctx, url, nil)
	require.NoError(t, err)
	return conn
}

func waitAvailable(t *testing.T, b *Bridge, account string, want bool) {
	t.Helper()

	require.Eventually(t, func() bool {
		return b.Available(account) == want
	}, time.Second, 5*time.Millisecond)
}

func TestBridge_RoundTrip(t *testing.T) {
	bridge := NewBridge(zap.NewNop())
	ts := httptest.NewServer(serveQuery(bridge))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn := dialBridge(t, ctx, ts, "bob")
	defer conn.CloseNow()

	waitAvailable(t, bridge, "bob", true)
	assert.False(t, bridge.Available("carol"))

	// Имитация страницы оператора: отвечает на запрос подписью.
	go func() {
		var req Request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		_ = wsjson.Write(ctx, conn, Response{
			ID:      req.ID,
			Success: req.Kind == KindSignBuffer && req.Message == "nonce",
			Result:  json.RawMessage(`"signed"`),
		})
	}()

	resp, err := Await(ctx, bridge, Request{
		Kind:    KindSignBuffer,
		Account: "bob",
		Message: "nonce",
		KeyType: KeyPosting,
	})
	require.NoError(t, err)
	assert.Equal(t, "signed", resp.ResultString())
}

func TestBridge_DisconnectFailsPending(t *testing.T) {
	bridge := NewBridge(zap.NewNop())
	ts := httptest.NewServer(serveQuery(bridge))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn := dialBridge(t, ctx, ts, "bob")
	waitAvailable(t, bridge, "bob", true)

	go func() {
		var req Request
		_ = wsjson.Read(ctx, conn, &req)
		conn.Close(ws.StatusNormalClosure, "")
	}()

	_, err := Await(ctx, bridge, Request{Kind: KindTransfer, Account: "bob"})

	var signerErr *Error
	require.ErrorAs(t, err, &signerErr)
	assert.Equal(t, disconnectedMessage, signerErr.Message)
	waitAvailable(t, bridge, "bob", false)
}

func TestBridge_RejectsInvalidAccount(t *testing.T) {
	bridge := NewBridge(zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	bridge.Serve(rec, req, "X")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBridge_RequestWithoutConnection(t *testing.T) {
	bridge := NewBridge(zap.NewNop())

	err := bridge.Request(context.Background(), Request{Kind: KindTransfer, Account: "bob"}, func(Response) {})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestBridge_Close(t *testing.T) {
	bridge := NewBridge(zap.NewNop())
	ts := httptest.NewServer(serveQuery(bridge))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn := dialBridge(t, ctx, ts, "bob")
	defer conn.CloseNow()
	waitAvailable(t, bridge, "bob", true)

	bridge.Close()

	waitAvailable(t, bridge, "bob", false)
}
