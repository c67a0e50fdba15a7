package onboarding

import (
	crand "crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

const (
	permlinkAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	permlinkRandLen  = 10
)

// NewPermlink генерирует permlink комментария: случайные символы [a-z0-9]
// и суффикс с текущим временем в миллисекундах.
func NewPermlink(now time.Time) (string, error) {
	buf := make([]byte, permlinkRandLen)
	limit := big.NewInt(int64(len(permlinkAlphabet)))

	for i := range buf {
		n, err := crand.Int(crand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("read random permlink: %w", err)
		}
		buf[i] = permlinkAlphabet[n.Int64()]
	}

	return string(buf) + "-" + strconv.FormatInt(now.UnixMilli(), 10), nil
}
