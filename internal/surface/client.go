package surface

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	outboxSize   = 128
	writeTimeout = 5 * time.Second
)

// client is one connected surface. Messages are queued on a bounded outbox
// and written by a single goroutine; a full outbox drops its oldest message.
type client struct {
	id     string
	ws     *websocket.Conn
	logger *slog.Logger
	onDrop func()

	outbox chan outbound
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newClient(id string, ws *websocket.Conn, logger *slog.Logger, onDrop func()) *client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		id:     id,
		ws:     ws,
		logger: logger,
		onDrop: onDrop,
		outbox: make(chan outbound, outboxSize),
		ctx:    ctx,
		cancel: cancel,
	}
	c.wg.Add(1)
	go c.writeLoop()
	return c
}

// send queues msg without blocking.
func (c *client) send(msg outbound) {
	if c.ctx.Err() != nil {
		return
	}
	for {
		select {
		case c.outbox <- msg:
			return
		default:
		}
		select {
		case dropped := <-c.outbox:
			c.logger.Debug("Surface outbox full, dropping oldest", "surface_id", c.id, "dropped_type", dropped.Type)
			if c.onDrop != nil {
				c.onDrop()
			}
		default:
		}
	}
}

func (c *client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.outbox:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := wsjson.Write(ctx, c.ws, msg)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					c.logger.Debug("Surface write failed", "surface_id", c.id, "error", err)
				}
				c.cancel()
				return
			}
		}
	}
}

// close stops the writer and waits for it.
func (c *client) close() {
	c.cancel()
	c.wg.Wait()
}
