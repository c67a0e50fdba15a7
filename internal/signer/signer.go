// Package signer описывает запросы к кошельку-расширению оператора.
//
// Кошелёк хранит ключи и сообщает о завершении запроса через колбэк. Await
// превращает колбэк в синхронный результат с единственным путём разрешения,
// чтобы бизнес-логика не зависела от колбэков.
package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrUnavailable возвращается, если кошелёк оператора не подключён.
var ErrUnavailable = errors.New("signer is not available")

// Kind определяет тип запроса к кошельку.
type Kind string

const (
	KindSignBuffer Kind = "signBuffer"
	KindTransfer   Kind = "transfer"
	KindPost       Kind = "post"
)

// KeyPosting — уровень ключа, которым подписывается challenge.
const KeyPosting = "Posting"

// Request описывает запрос к кошельку. Набор заполненных полей зависит от Kind.
type Request struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"type"`
	Account string `json:"account"`

	Message string `json:"message,omitempty"`
	KeyType string `json:"key_type,omitempty"`

	To       string `json:"to,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
	Memo     string `json:"memo,omitempty"`

	Title          string `json:"title,omitempty"`
	Body           string `json:"body,omitempty"`
	ParentAuthor   string `json:"parent_author,omitempty"`
	ParentPermlink string `json:"parent_permlink,omitempty"`
	Permlink       string `json:"permlink,omitempty"`
	JSONMetadata   string `json:"json_metadata,omitempty"`
}

// Response — ответ кошелька в формате {success, result, message}.
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Err возвращает *Error, если кошелёк сообщил о неуспехе.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	msg := r.Message
	if msg == "" {
		msg = r.Error
	}
	if msg == "" {
		msg = "request rejected"
	}
	return &Error{Message: msg}
}

// ResultString возвращает result как строку, если кошелёк прислал строку.
func (r Response) ResultString() string {
	var s string
	if err := json.Unmarshal(r.Result, &s); err != nil {
		return ""
	}
	return s
}

// Error — отказ кошелька выполнить запрос. Оператор может повторить шаг.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("signer: %s", e.Message)
}

// Callback получает ответ кошелька ровно один раз.
type Callback func(Response)

// Signer отправляет запросы кошельку и сообщает о результате через колбэк.
type Signer interface {
	Available(account string) bool
	Request(ctx context.Context, req Request, cb Callback) error
}

// Await отправляет запрос и ждёт первого вызова колбэка или отмены контекста.
// Ответ с success=false возвращается вместе с *Error.
func Await(ctx context.Context, s Signer, req Request) (Response, error) {
	if s == nil || !s.Available(req.Account) {
		return Response{}, ErrUnavailable
	}

	done := make(chan Response, 1)
	var once sync.Once

	err := s.Request(ctx, req, func(resp Response) {
		once.Do(func() {
			done <- resp
		})
	})
	if err != nil {
		return Response{}, fmt.Errorf("dispatch %s: %w", req.Kind, err)
	}

	select {
	case resp := <-done:
		return resp, resp.Err()
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
