// Package hive предоставляет клиент JSON-RPC узла блокчейна Hive.
package hive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/hive-onboarder/internal/httpx"
	"github.com/mmeshcher/hive-onboarder/internal/model"
)

// chainTimeLayout — формат времени, в котором узел отдаёт даты постов (UTC без зоны).
const chainTimeLayout = "2006-01-02T15:04:05"

// Client выполняет вызовы JSON-RPC к узлу Hive.
type Client struct {
	url        string
	httpClient *retryablehttp.Client
	nextID     atomic.Int64
}

// NewClient создаёт клиент для узла по указанному адресу.
func NewClient(nodeURL string, logger *zap.Logger) *Client {
	return &Client{
		url:        strings.TrimRight(nodeURL, "/"),
		httpClient: httpx.NewClient(logger),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError описывает ошибку, возвращённую узлом.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call выполняет метод и декодирует поле result в out.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

type accountPostsParams struct {
	Sort     string `json:"sort"`
	Account  string `json:"account"`
	Limit    int    `json:"limit"`
	Observer string `json:"observer"`
}

type bridgePost struct {
	Author   string `json:"author"`
	Permlink string `json:"permlink"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Created  string `json:"created"`
}

// AccountPosts возвращает последние посты аккаунта через bridge.get_account_posts.
func (c *Client) AccountPosts(ctx context.Context, account string, limit int) ([]model.Post, error) {
	var raw []bridgePost
	err := c.Call(ctx, "bridge.get_account_posts", accountPostsParams{
		Sort:    "posts",
		Account: account,
		Limit:   limit,
	}, &raw)
	if err != nil {
		return nil, err
	}

	posts := make([]model.Post, 0, len(raw))
	for _, p := range raw {
		created, _ := time.Parse(chainTimeLayout, p.Created)
		posts = append(posts, model.Post{
			Author:   p.Author,
			Permlink: p.Permlink,
			Title:    p.Title,
			Category: p.Category,
			Created:  created,
		})
	}
	return posts, nil
}
