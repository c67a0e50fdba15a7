// Package backend предоставляет клиент REST API сервиса учёта онбординга.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/hive-onboarder/internal/model"
)

// ErrNoToken возвращается без обращения к сети, если маршрут требует токен, а его нет.
var ErrNoToken = errors.New("authorization token is missing")

// HTTPError описывает ответ бэкенда с кодом, отличным от 2xx.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   json.RawMessage
	Raw    string
}

func (e *HTTPError) Error() string {
	msg := e.Raw
	if len(e.Body) > 0 {
		msg = string(e.Body)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, strings.TrimSpace(msg))
}

// IsStatus сообщает, что err — HTTPError с указанным кодом.
func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == status
}

// Client инкапсулирует HTTP-взаимодействие с бэкендом.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient создаёт клиент бэкенда по указанному адресу.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = 10 * time.Second

	return &Client{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: httpClient,
		logger:     logger,
	}
}

func normalizeBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}

type challengeRequest struct {
	Username string `json:"username"`
}

type challengeResponse struct {
	Challenge string `json:"challenge"`
}

// Challenge запрашивает одноразовую строку для подписи.
func (c *Client) Challenge(ctx context.Context, username string) (string, error) {
	var resp challengeResponse
	if err := c.do(ctx, http.MethodPost, "/auth/challenge", "", false, challengeRequest{Username: username}, &resp); err != nil {
		return "", err
	}
	if resp.Challenge == "" {
		return "", errors.New("backend returned empty challenge")
	}
	return resp.Challenge, nil
}

type verifyRequest struct {
	Username  string `json:"username"`
	Signature string `json:"signature"`
}

// Profile описывает оператора, как его видит бэкенд.
type Profile struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Token    string `json:"token,omitempty"`
}

// Verify обменивает подпись на bearer-токен.
func (c *Client) Verify(ctx context.Context, username, signature string) (*Profile, error) {
	var resp Profile
	if err := c.do(ctx, http.MethodPost, "/auth/verify", "", false, verifyRequest{Username: username, Signature: signature}, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, errors.New("backend returned empty token")
	}
	if resp.Username == "" {
		resp.Username = username
	}
	return &resp, nil
}

// ValidateToken проверяет сохранённый токен и возвращает профиль оператора.
func (c *Client) ValidateToken(ctx context.Context, token string) (*Profile, error) {
	var resp Profile
	if err := c.do(ctx, http.MethodPost, "/auth/validate-token", token, true, struct{}{}, &resp); err != nil {
		return nil, err
	}
	resp.Token = token
	return &resp, nil
}

type addRequest struct {
	Onboarder string `json:"onboarder"`
	Onboarded string `json:"onboarded"`
	Amount    string `json:"amount"`
	Memo      string `json:"memo"`
}

// AddRecord создаёт запись об онбординге и возвращает её в виде, сохранённом бэкендом.
func (c *Client) AddRecord(ctx context.Context, token string, rec model.OnboardingRecord) (*model.OnboardingRecord, error) {
	req := addRequest{
		Onboarder: rec.Onboarder,
		Onboarded: rec.Onboarded,
		Amount:    rec.Amount,
		Memo:      rec.Memo,
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/crud/add", token, true, req, &raw); err != nil {
		return nil, err
	}

	created := rec
	if created.Timestamp == 0 {
		created.Timestamp = time.Now().UnixMilli()
	}
	// Бэкенд может вернуть созданную запись целиком, а может только статус.
	var echoed model.OnboardingRecord
	if len(raw) > 0 && json.Unmarshal(raw, &echoed) == nil && echoed.Onboarded != "" {
		created = echoed
	}
	return &created, nil
}

type editRequest struct {
	Onboarder       string `json:"onboarder"`
	Onboarded       string `json:"onboarded"`
	CommentPermlink string `json:"comment_permlink"`
}

// AttachComment привязывает permlink комментария к записи onboarder/onboarded.
func (c *Client) AttachComment(ctx context.Context, token, onboarder, onboarded, permlink string) error {
	req := editRequest{
		Onboarder:       onboarder,
		Onboarded:       onboarded,
		CommentPermlink: permlink,
	}
	return c.do(ctx, http.MethodPut, "/crud/edit", token, true, req, nil)
}

// OnboardedBy возвращает записи, где onboarded совпадает с username.
func (c *Client) OnboardedBy(ctx context.Context, token, username string) ([]model.OnboardingRecord, error) {
	path := "/query/onboarded-by-username?username=" + url.QueryEscape(username)

	var records []model.OnboardingRecord
	if err := c.do(ctx, http.MethodGet, path, token, true, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// All возвращает все записи об онбординге.
func (c *Client) All(ctx context.Context, token string) ([]model.OnboardingRecord, error) {
	var records []model.OnboardingRecord
	if err := c.do(ctx, http.MethodGet, "/query/getAll", token, true, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, authRequired bool, in, out any) error {
	if authRequired && token == "" {
		return fmt.Errorf("%s %s: %w", method, path, ErrNoToken)
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("backend request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("backend response read failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{Method: method, Path: path, Status: resp.StatusCode}
		if json.Valid(data) {
			httpErr.Body = data
		} else {
			httpErr.Raw = string(data)
		}
		c.logger.Warn("backend returned error status",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return httpErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
