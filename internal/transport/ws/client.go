// Package ws реализует транспорт push-сообщений поверх websocket
// с автоматическим переподключением.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/clientkit/syncstore/internal/transport"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Client — websocket-транспорт: JSON-цикл чтения, диспетчеризация
// обработчику и переподключение с экспоненциальной задержкой.
type Client struct {
	url     string
	handler transport.Handler
	logger  *slog.Logger

	conn      *websocket.Conn
	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}

	mu sync.Mutex
}

// Dial открывает соединение и запускает цикл чтения. Обработчик вызывается
// последовательно в горутине клиента.
func Dial(ctx context.Context, url string, handler transport.Handler, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		url:     url,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}

	// Первое подключение синхронное: вызывающий сразу узнает о недоступности
	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(runCtx)

	return c, nil
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	return nil
}

// run читает сообщения до обрыва, затем переподключается.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	for {
		err := c.readLoop(ctx)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("websocket connection lost", "url", c.url, "error", err)

		delay := reconnectBase
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			if err := c.dial(ctx); err == nil {
				c.logger.Info("websocket reconnected", "url", c.url)
				break
			}
			if delay *= 2; delay > reconnectMax {
				delay = reconnectMax
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	for {
		var msg transport.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
}

// Send отправляет сообщение серверу.
func (c *Client) Send(ctx context.Context, msg transport.Message) error {
	if !c.connected.Load() {
		return transport.ErrNotConnected
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return errors.Join(transport.ErrNotConnected, err)
	}
	return nil
}

// Connected сообщает текущее состояние соединения.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Close завершает цикл чтения и закрывает соединение.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.connected.Store(false)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client closed")
	}

	<-c.done
	return err
}
