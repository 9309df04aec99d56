// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jeranaias/streamchat/internal/logging"
	"github.com/jeranaias/streamchat/internal/modelconfig"
	"github.com/jeranaias/streamchat/internal/protocol"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultAddr is where cmd/devserver listens by default.
	DefaultAddr = ":8000"

	// DefaultToken is accepted by DefaultConfig.
	DefaultToken = "dev-token"

	// DefaultFrameRate paces frames so streaming is visible.
	DefaultFrameRate = 20

	// NotConfiguredMessage is returned for tokens without a model.
	NotConfiguredMessage = "Model not configured. Please configure the model."

	// InvalidJSONMessage answers a frame that is not valid JSON.
	InvalidJSONMessage = "Invalid JSON format"

	// ClosePolicyViolation is sent when the token is missing or unknown.
	ClosePolicyViolation = websocket.ClosePolicyViolation

	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
	maxMessageSize  = 1 << 20
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds configuration for the development backend.
type Config struct {
	// Addr is the listen address used by Run.
	Addr string

	// Tokens maps every accepted token to the model it is configured with.
	// A token mapped to an empty Info is valid but unconfigured.
	Tokens map[string]modelconfig.Info

	// AllowOrigins lists CORS origins. Empty allows all origins.
	AllowOrigins []string

	// FrameRate is frames per second per connection. Zero disables pacing.
	FrameRate rate.Limit

	// Script answers each user message. Nil means EchoScript.
	Script Script

	// Logger receives request and socket logs.
	Logger *logrus.Entry
}

// DefaultConfig returns a config accepting DefaultToken with an echo model.
func DefaultConfig() Config {
	return Config{
		Addr: DefaultAddr,
		Tokens: map[string]modelconfig.Info{
			DefaultToken: {Provider: "devserver", Model: "echo"},
		},
		FrameRate: DefaultFrameRate,
	}
}

// =============================================================================
// SERVER
// =============================================================================

// Server is the scripted backend.
type Server struct {
	cfg      Config
	log      *logrus.Entry
	engine   *gin.Engine
	upgrader websocket.Upgrader

	mu      sync.Mutex
	tokens  map[string]modelconfig.Info
	sockets map[*socket]struct{}
	turns   int
}

// New creates a server from cfg.
func New(cfg Config) *Server {
	if cfg.Script == nil {
		cfg.Script = EchoScript()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("devserver")
	}

	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		tokens:  make(map[string]modelconfig.Info, len(cfg.Tokens)),
		sockets: make(map[*socket]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser origins are already filtered by the CORS layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for tok, info := range cfg.Tokens {
		s.tokens[tok] = info
	}
	s.engine = s.setupRouter()
	return s
}

// Handler returns the HTTP handler, for httptest or a custom http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// SetModel changes (or adds) the model a token is configured with.
func (s *Server) SetModel(token string, info modelconfig.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = info
}

// Connections returns the number of open sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

// Turns returns how many user messages have been received in total.
func (s *Server) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// DropConnections closes every open socket with a going-away code, which
// makes clients reconnect.
func (s *Server) DropConnections() {
	s.mu.Lock()
	socks := make([]*socket, 0, len(s.sockets))
	for sock := range s.sockets {
		socks = append(socks, sock)
	}
	s.mu.Unlock()

	for _, sock := range socks {
		sock.closeWith(websocket.CloseGoingAway, "server dropped connection")
	}
}

// Run listens on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("devserver listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("devserver shutting down")
	s.DropConnections()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestLogger(s.log))
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     s.cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		// Credentials cannot be combined with a literal "*".
		corsConfig.AllowOrigins = nil
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	}
	router.Use(cors.New(corsConfig))

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/model-config", s.handleModelConfig)
		api.GET("/ws/chat", s.handleChat)
	}
	return router
}

// requestLogger logs each request through logrus instead of gin's writer.
func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("request")
	}
}

// =============================================================================
// HTTP HANDLERS
// =============================================================================

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func (s *Server) handleModelConfig(c *gin.Context) {
	token, err := c.Cookie("token")
	if err != nil || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "No token provided"})
		return
	}
	info, ok := s.lookup(token)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token"})
		return
	}
	if !info.Configured() {
		c.JSON(http.StatusOK, gin.H{
			"provider": "",
			"model":    "",
			"message":  NotConfiguredMessage,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": info.Provider, "model": info.Model})
}

func (s *Server) lookup(token string) (modelconfig.Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.tokens[token]
	return info, ok
}

// =============================================================================
// WEBSOCKET
// =============================================================================

func (s *Server) handleChat(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)
	sock := &socket{conn: conn}

	// The socket is accepted first and then closed, so clients see a close
	// code rather than a failed handshake.
	token := c.Query("token")
	if token == "" {
		sock.closeWith(ClosePolicyViolation, "Missing token")
		return
	}
	if _, ok := s.lookup(token); !ok {
		sock.closeWith(ClosePolicyViolation, "Invalid token")
		return
	}

	s.track(sock)
	defer s.untrack(sock)

	log := s.log.WithField("remote", c.ClientIP())
	log.Info("chat socket opened")
	s.serve(c.Request.Context(), sock, log)
	log.Info("chat socket closed")
}

func (s *Server) serve(ctx context.Context, sock *socket, log *logrus.Entry) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer sock.conn.Close()

	limit := s.cfg.FrameRate
	if limit <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, 1)

	seq := 0
	for {
		kind, data, err := sock.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("read ended")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.countTurn()
		seq++

		out := &Emitter{
			ctx:       ctx,
			messageID: newMessageID(),
			send:      sock.write,
			limiter:   limiter,
			now:       time.Now,
		}

		msg, err := protocol.DecodeOutbound(data)
		if err != nil {
			log.WithError(err).Warn("invalid client frame")
			if err := s.fail(out, InvalidJSONMessage); err != nil {
				return
			}
			continue
		}

		turn := Turn{MessageID: out.messageID, Content: msg.Content, Timestamp: msg.Timestamp, Seq: seq}
		if err := s.cfg.Script.Run(ctx, turn, out); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("script failed")
			if err := s.fail(out, err.Error()); err != nil {
				return
			}
		}
	}
}

// fail sends an error event followed by a bare end frame.
func (s *Server) fail(out *Emitter, content string) error {
	if err := out.Error(content); err != nil {
		return err
	}
	return out.Raw([]byte(`{"type":"end"}`))
}

func (s *Server) track(sock *socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[sock] = struct{}{}
}

func (s *Server) untrack(sock *socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, sock)
}

func (s *Server) countTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
}
