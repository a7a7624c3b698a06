package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cuongbtq/labbox-api/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 20
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SessionHandler hosts one worker session per WebSocket connection
type SessionHandler struct {
	logger          *slog.Logger
	template        session.Config
	iterateInterval time.Duration
}

// NewSessionHandler creates a new SessionHandler instance
func NewSessionHandler(deps *Dependencies) *SessionHandler {
	interval := deps.IterateInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &SessionHandler{
		logger:          deps.Logger,
		template:        deps.Session,
		iterateInterval: interval,
	}
}

// ServeWS handles GET /ws. It blocks until the connection closes.
func (h *SessionHandler) ServeWS(c *gin.Context) {
	connID := uuid.NewString()
	logger := h.logger.With(slog.String("connection_id", connID))

	cfg := h.template
	cfg.Logger = logger
	sess, err := session.New(cfg)
	if err != nil {
		logger.Error("Failed to create session", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create session",
		})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	conn := &connection{
		ws:      ws,
		session: sess,
		send:    make(chan []byte, sendBufferSize),
		logger:  logger,
	}
	sess.OnMessages(conn.enqueue)

	logger.Info("WebSocket connection opened", slog.String("remote_addr", c.ClientIP()))
	conn.run(c.Request.Context(), h.iterateInterval)
	logger.Info("WebSocket connection closed")
}

// connection couples a session to its socket. mu serializes every call into
// the session.
type connection struct {
	ws      *websocket.Conn
	session *session.Session
	send    chan []byte
	logger  *slog.Logger

	mu       sync.Mutex
	overflow bool
}

func (c *connection) run(parent context.Context, iterateInterval time.Duration) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.mu.Lock()
	err := c.session.Initialize(ctx)
	if err == nil {
		c.enqueue([]session.Message{session.NewReportInitialLoadComplete()})
	}
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("Failed to initialize session", slog.String("error", err.Error()))
		close(c.send)
		<-writerDone
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.iterateLoop(ctx, iterateInterval)
	}()

	c.readPump(ctx)

	cancel()
	wg.Wait()

	c.mu.Lock()
	c.session.Cleanup()
	c.mu.Unlock()

	close(c.send)
	<-writerDone
}

// enqueue is the session subscriber. It is always called with mu held.
func (c *connection) enqueue(msgs []session.Message) {
	if c.overflow {
		return
	}

	data, err := json.Marshal(msgs)
	if err != nil {
		c.logger.Error("Failed to encode outbound messages", slog.String("error", err.Error()))
		return
	}

	select {
	case c.send <- data:
	default:
		c.overflow = true
		c.logger.Error("Client is not reading, closing connection",
			slog.Int("buffered_frames", len(c.send)),
		)
		c.ws.Close()
	}
}

func (c *connection) iterateLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.session.Iterate(ctx)
			c.mu.Unlock()
			if err != nil && ctx.Err() == nil {
				c.logger.Warn("Session iterate failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *connection) readPump(ctx context.Context) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		c.mu.Lock()
		err = c.session.HandleMessage(ctx, data)
		c.mu.Unlock()

		if err != nil {
			level := slog.LevelError
			if session.IsCallerError(err) {
				level = slog.LevelWarn
			}
			c.logger.Log(ctx, level, "Failed to handle client message", slog.String("error", err.Error()))
		}
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write failed", slog.String("error", err.Error()))
				c.ws.Close()
				for range c.send {
				}
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.ws.Close()
				for range c.send {
				}
				return
			}
		}
	}
}
