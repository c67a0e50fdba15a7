package signer

import (
	"context"
	"net/http"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/hive-onboarder/internal/validation"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second

	disconnectedMessage = "signer disconnected"
)

// Bridge реализует Signer поверх websocket-соединений, которые открывает
// страница оператора. Страница пересылает запросы в кошелёк-расширение и
// возвращает ответы с тем же id.
type Bridge struct {
	mu     sync.RWMutex
	conns  map[string]*bridgeConn
	logger *zap.Logger
}

// NewBridge создаёт пустой мост без подключённых кошельков.
func NewBridge(logger *zap.Logger) *Bridge {
	return &Bridge{
		conns:  make(map[string]*bridgeConn),
		logger: logger,
	}
}

type bridgeConn struct {
	account string
	conn    *ws.Conn

	mu      sync.Mutex
	pending map[string]Callback
	closed  bool
}

// Available сообщает, подключён ли кошелёк для аккаунта.
func (b *Bridge) Available(account string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.conns[account]
	return ok
}

// Request отправляет запрос в кошелёк аккаунта. Колбэк вызывается при ответе
// кошелька или при разрыве соединения.
func (b *Bridge) Request(ctx context.Context, req Request, cb Callback) error {
	b.mu.RLock()
	c, ok := b.conns[req.Account]
	b.mu.RUnlock()
	if !ok {
		return ErrUnavailable
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if !c.addPending(req.ID, cb) {
		return ErrUnavailable
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, c.conn, req); err != nil {
		c.takePending(req.ID)
		return err
	}

	b.logger.Debug("signer request sent",
		zap.String("account", req.Account),
		zap.String("kind", string(req.Kind)),
		zap.String("id", req.ID),
	)
	return nil
}

// Serve принимает websocket-соединение кошелька для аккаунта. Аккаунт берётся
// только из аутентифицированной сессии: соединение получает право подтверждать
// переводы и комментарии от имени оператора.
func (b *Bridge) Serve(w http.ResponseWriter, r *http.Request, account string) {
	account, err := validation.NormalizeAccount(account)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	conn, err := ws.Accept(w, r, nil)
	if err != nil {
		b.logger.Warn("signer accept failed", zap.Error(err))
		return
	}

	c := &bridgeConn{
		account: account,
		conn:    conn,
		pending: make(map[string]Callback),
	}

	b.register(c)
	defer b.unregister(c)

	b.logger.Info("signer connected", zap.String("account", account))
	c.run(r.Context(), b.logger)
	b.logger.Info("signer disconnected", zap.String("account", account))
}

// Close закрывает все подключения кошельков. Ожидающие запросы получают
// ответ об отключении.
func (b *Bridge) Close() {
	b.mu.Lock()
	conns := make([]*bridgeConn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.conn.CloseNow()
	}
}

func (b *Bridge) register(c *bridgeConn) {
	b.mu.Lock()
	prev := b.conns[c.account]
	b.conns[c.account] = c
	b.mu.Unlock()

	if prev != nil {
		prev.conn.CloseNow()
	}
}

func (b *Bridge) unregister(c *bridgeConn) {
	b.mu.Lock()
	if b.conns[c.account] == c {
		delete(b.conns, c.account)
	}
	b.mu.Unlock()

	c.failPending()
	c.conn.CloseNow()
}

func (c *bridgeConn) run(ctx context.Context, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.pingLoop(ctx)

	for {
		var resp Response
		if err := wsjson.Read(ctx, c.conn, &resp); err != nil {
			return
		}

		cb, ok := c.takePending(resp.ID)
		if !ok {
			logger.Warn("signer response without pending request",
				zap.String("account", c.account),
				zap.String("id", resp.ID),
			)
			continue
		}
		cb(resp)
	}
}

func (c *bridgeConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				c.conn.CloseNow()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *bridgeConn) addPending(id string, cb Callback) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.pending[id] = cb
	return true
}

func (c *bridgeConn) takePending(id string) (Callback, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return cb, ok
}

func (c *bridgeConn) failPending() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]Callback)
	c.mu.Unlock()

	for id, cb := range pending {
		cb(Response{ID: id, Success: false, Message: disconnectedMessage})
	}
}
