package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/avdeyev/chatline/internal/auth"
	"github.com/avdeyev/chatline/internal/core"
	"github.com/avdeyev/chatline/internal/proto"
)

// WSHandler upgrades HTTP connections, authenticates them, and bridges them
// into the connection registry. The endpoint carries tabId as a query
// parameter; identity comes from the JWT (query token or Bearer header).
type WSHandler struct {
	reg       *core.Registry
	inbound   *core.InboundHandler
	auth      *auth.Service
	log       *zerolog.Logger
	rateLimit int
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(reg *core.Registry, inbound *core.InboundHandler, authService *auth.Service, logger *zerolog.Logger, rateLimit int) stdhttp.Handler {
	return &WSHandler{
		reg:       reg,
		inbound:   inbound,
		auth:      authService,
		log:       logger,
		rateLimit: rateLimit,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}

	// Identity errors close the socket with a policy code, never silently
	// accepted.
	tabID := r.URL.Query().Get("tabId")
	if tabID == "" {
		conn.Close(websocket.StatusPolicyViolation, "missing tabId")
		return
	}

	claims, err := h.auth.ValidateToken(bearerToken(r))
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake rejected: invalid token")
		conn.Close(websocket.StatusPolicyViolation, "invalid token")
		return
	}

	c := core.NewConn(claims.UserID, tabID, &wsSink{conn: conn})
	if err := h.reg.Register(c); err != nil {
		h.log.Warn().Err(err).Int64("user_id", claims.UserID).Str("tab_id", tabID).Msg("ws registration rejected")
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	h.log.Info().Int64("user_id", c.UserID).Str("tab_id", c.TabID).Msg("ws connected")

	err = h.readLoop(ctx, conn, c)

	// Reading stopped: the registry entry goes away first so no broadcast
	// targets a closing socket, then the transport is shut down.
	h.reg.Unregister(c.UserID, c.TabID)

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			h.log.Warn().Err(err).Int64("user_id", c.UserID).Str("tab_id", c.TabID).Msg("ws connection closed with error")
			reason = "read error"
		}
	}
	c.Terminate(int(status), reason)

	h.log.Info().Int64("user_id", c.UserID).Str("tab_id", c.TabID).Msg("ws disconnected")
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, c *core.Conn) error {
	limiter := newFrameLimiter(h.rateLimit)
	defer limiter.stop()

	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return err
		}

		if !limiter.allow() {
			h.log.Debug().
				Int64("user_id", c.UserID).
				Str("tab_id", c.TabID).
				Msg("frame rate limit exceeded, dropping")
			continue
		}

		h.inbound.Handle(ctx, c, frame)
	}
}

func bearerToken(r *stdhttp.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}

// wsSink adapts a coder/websocket connection to core.Sink. Writes are
// serialized: broadcasts and acks arrive from different goroutines.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSink) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *wsSink) Close(code int, reason string) error {
	return s.conn.Close(websocket.StatusCode(code), reason)
}
