// Package httpx собирает HTTP-клиенты для запросов к внешним системам.
package httpx

import (
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// NewClient создаёт клиент для запросов к реестру и RPC-узлу.
// Сетевые ошибки не повторяются: оператор повторяет действие сам.
// Ответы с ошибочными кодами возвращаются вызывающему без преобразования в ошибку.
func NewClient(logger *zap.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 0
	c.HTTPClient.Timeout = 5 * time.Second
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = leveledLogger{logger.Sugar()}
	return c
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}
