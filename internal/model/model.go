// Package model содержит доменные сущности консоли онбординга.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Amount описывает сумму перевода с кодом валюты, например "1.000 HIVE".
type Amount struct {
	Value    decimal.Decimal
	Currency string
}

// NewAmount создаёт сумму из строкового значения и кода валюты.
func NewAmount(value, currency string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", value, err)
	}
	if !d.IsPositive() {
		return Amount{}, fmt.Errorf("amount must be positive: %s", value)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return Amount{}, errors.New("currency is required")
	}
	return Amount{Value: d, Currency: currency}, nil
}

// ParseAmount разбирает сумму в формате "<value> <currency>".
func ParseAmount(s string) (Amount, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return Amount{}, fmt.Errorf("malformed amount %q", s)
	}
	return NewAmount(parts[0], parts[1])
}

// Fixed возвращает значение с тремя знаками после точки, как того требует блокчейн.
func (a Amount) Fixed() string {
	return a.Value.StringFixed(3)
}

func (a Amount) String() string {
	if a.Currency == "" {
		return ""
	}
	return a.Fixed() + " " + a.Currency
}

// OnboardingRecord описывает запись об онбординге в бэкенде.
type OnboardingRecord struct {
	Onboarder       string `json:"onboarder"`
	Onboarded       string `json:"onboarded"`
	Amount          string `json:"amount"`
	Memo            string `json:"memo"`
	CommentPermlink string `json:"comment_permlink,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

// HasComment сообщает, что шаг с комментарием уже завершён.
func (r *OnboardingRecord) HasComment() bool {
	return r != nil && r.CommentPermlink != ""
}

// CreatedAt возвращает время создания записи.
func (r *OnboardingRecord) CreatedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// MembershipStatus описывает результат проверки членства.
type MembershipStatus string

const (
	MembershipUnknown   MembershipStatus = "UNKNOWN"
	MembershipNotMember MembershipStatus = "NOT_MEMBER"
	MembershipMember    MembershipStatus = "MEMBER"
)

// MembershipSource указывает, какой источник дал ответ.
type MembershipSource string

const (
	SourceRegistry MembershipSource = "registry"
	SourceBackend  MembershipSource = "backend"
)

// Membership — результат проверки членства вместе с доказательством.
type Membership struct {
	Account string
	Status  MembershipStatus
	Source  MembershipSource
	Record  *OnboardingRecord
	Reason  string
}

// Resume сообщает, что мастер онбординга нужно продолжить с шага комментария.
func (m Membership) Resume() bool {
	return m.Status == MembershipMember && m.Record != nil && !m.Record.HasComment()
}

// Session описывает аутентифицированного оператора.
type Session struct {
	Account string
	Role    string
	Token   string
}

// Post описывает пост аккаунта в блокчейне.
type Post struct {
	Author   string    `json:"author"`
	Permlink string    `json:"permlink"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	Created  time.Time `json:"created"`
}

// PendingKind описывает тип отложенной записи в бэкенд.
type PendingKind string

const (
	PendingAdd  PendingKind = "add"
	PendingEdit PendingKind = "edit"
)

// PendingRecord — запись, которую не удалось сохранить в бэкенде после действия в блокчейне.
type PendingRecord struct {
	ID        int64
	Kind      PendingKind
	Record    OnboardingRecord
	Attempts  int
	LastError string
	CreatedAt time.Time
}
