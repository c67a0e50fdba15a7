package hive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	return NewClient(ts.URL, zap.NewNop())
}

func TestAccountPosts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req struct {
			JSONRPC string             `json:"jsonrpc"`
			Method  string             `json:"method"`
			Params  accountPostsParams `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "bridge.get_account_posts", req.Method)
		assert.Equal(t, "alice", req.Params.Account)
		assert.Equal(t, "posts", req.Params.Sort)
		assert.Equal(t, 5, req.Params.Limit)

		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[
			{"author":"alice","permlink":"hello-hive","title":"Hello Hive","category":"hive-174578","created":"2024-03-01T10:20:30"}
		]}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	posts, err := client.AccountPosts(ctx, "alice", 5)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "hello-hive", posts[0].Permlink)
	assert.Equal(t, "Hello Hive", posts[0].Title)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC), posts[0].Created)
}

func TestCall_RPCError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"Invalid parameters"}}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.AccountPosts(ctx, "alice", 5)
	require.Error(t, err)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
}

func TestCall_BadStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.AccountPosts(ctx, "alice", 5)
	require.Error(t, err)
}
