// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidAccount возвращается для имени, не соответствующего правилам именования аккаунтов Hive.
var ErrInvalidAccount = errors.New("invalid account name")

// NormalizeAccount приводит имя аккаунта к нижнему регистру, убирает префикс "@" и проверяет его.
func NormalizeAccount(name string) (string, error) {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
	if !IsValidAccount(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccount, name)
	}
	return name, nil
}

// IsValidAccount проверяет имя аккаунта: 3-16 символов, сегменты через точку
// не короче трёх символов, начинаются с буквы и оканчиваются буквой или цифрой.
func IsValidAccount(name string) bool {
	if len(name) < 3 || len(name) > 16 {
		return false
	}

	for _, seg := range strings.Split(name, ".") {
		if len(seg) < 3 {
			return false
		}

		for i := 0; i < len(seg); i++ {
			ch := rune(seg[i])
			switch {
			case ch >= 'a' && ch <= 'z':
			case unicode.IsDigit(ch) && i > 0:
			case ch == '-' && i > 0 && i < len(seg)-1 && seg[i-1] != '-':
			default:
				return false
			}
		}
	}

	return true
}
