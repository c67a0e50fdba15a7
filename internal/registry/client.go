// Package registry предоставляет клиент внешнего реестра участников сообщества.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/hive-onboarder/internal/httpx"
)

// Client инкапсулирует HTTP-взаимодействие с реестром участников.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент реестра по указанному адресу.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL:    base,
		httpClient: httpx.NewClient(logger),
	}
}

// Lookup запрашивает аккаунт в реестре и возвращает код ответа.
// 200 и 404 возвращаются без ошибки, любой другой код сопровождается ошибкой.
func (c *Client) Lookup(ctx context.Context, username string) (int, error) {
	if c == nil || c.baseURL == "" {
		return 0, fmt.Errorf("registry client not configured")
	}

	endpoint := fmt.Sprintf("%s/%s/", c.baseURL, url.PathEscape(username))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound:
		return resp.StatusCode, nil
	default:
		return resp.StatusCode, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
}
