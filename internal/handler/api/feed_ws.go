package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	models "OptionPull/internal/domain/models"
	domrepo "OptionPull/internal/domain/repository"
	"OptionPull/internal/usecase"
	xhttp "OptionPull/pkg/http"
	xlogger "OptionPull/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
)

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// ChainFeed pushes every persisted cycle to websocket subscribers on /ws/chain.
// Slow subscribers miss cycles rather than holding up the loop.
type ChainFeed struct {
	symbol   string
	buffer   int
	upgrader websocket.Upgrader
	logger   *xlogger.Logger

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
}

// NewChainFeed buffers up to buffer undelivered cycles per subscriber.
func NewChainFeed(symbol string, buffer int, logger *xlogger.Logger) *ChainFeed {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	if buffer <= 0 {
		buffer = 4
	}
	return &ChainFeed{
		symbol: symbol,
		buffer: buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*feedClient]struct{}),
	}
}

func (f *ChainFeed) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/chain", f.Serve)
}

// Serve upgrades the request and blocks until the subscriber goes away.
func (f *ChainFeed) Serve(c echo.Context) error {
	conn, err := f.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already replied
		f.logger.Debug("ws upgrade failed", xlogger.Error(err))
		return nil
	}
	client := &feedClient{conn: conn, send: make(chan []byte, f.buffer)}
	if !f.add(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(feedWriteWait))
		return conn.Close()
	}
	f.logger.Debug("ws subscriber joined", xlogger.String("remote", c.RealIP()))

	go f.writeLoop(client)
	f.readLoop(client)
	return nil
}

// OnCycle broadcasts the persisted cycle to every subscriber.
func (f *ChainFeed) OnCycle(_ context.Context, obs []*models.Observation) {
	if len(obs) == 0 {
		return
	}
	chain := usecase.LatestChain{Symbol: f.symbol, ObservedAt: obs[0].ObservedAt, Rows: make([]models.ObservationMessage, 0, len(obs))}
	for _, o := range obs {
		chain.Rows = append(chain.Rows, o.Message())
	}
	b, err := json.Marshal(chain)
	if err != nil {
		f.logger.Error("ws encode cycle", xlogger.Error(err))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- b:
		default:
			f.logger.Debug("ws subscriber too slow, cycle dropped")
		}
	}
}

// Clients returns the number of connected subscribers.
func (f *ChainFeed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (f *ChainFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	clients := make([]*feedClient, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
		delete(f.clients, c)
	}
	f.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return nil
}

func (f *ChainFeed) add(c *feedClient) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.clients[c] = struct{}{}
	return true
}

func (f *ChainFeed) remove(c *feedClient) {
	f.mu.Lock()
	delete(f.clients, c)
	f.mu.Unlock()
	c.close()
}

func (c *feedClient) close() { c.once.Do(func() { close(c.send) }) }

// readLoop discards inbound frames and keeps the read deadline alive on pong.
func (f *ChainFeed) readLoop(c *feedClient) {
	defer f.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *ChainFeed) writeLoop(c *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var (
	_ xhttp.Handler         = (*ChainFeed)(nil)
	_ domrepo.CycleObserver = (*ChainFeed)(nil)
)
