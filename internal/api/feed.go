package api

import (
	"context"
	"net/http"
	"time"

	"pos-service/internal/feed"
	"pos-service/internal/models"
	"pos-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
)

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(h.opts.AllowedOrigins) == 0 {
				return true
			}
			for _, allowed := range h.opts.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// orderFeed streams order pages over a WebSocket. The initial filter comes
// from the query string; any JSON OrderQuery the client sends afterwards
// replaces it.
func (h *Handler) orderFeed(c *gin.Context) {
	q, err := parseOrderQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	logger := util.GetLogger().With(zap.String("operator_id", operatorID(c)))

	sub, err := h.svc.Hub.Subscribe(ctx, q)
	if err != nil {
		logger.Warn("Feed subscription refused", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(feedWriteWait))
		return
	}
	defer sub.Close()

	go h.readRefinements(ctx, cancel, conn, sub, logger)

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case page, ok := <-sub.Updates():
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
				return
			}
			if err := conn.WriteJSON(page); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readRefinements owns the read side of the socket. It cancels the feed
// when the client goes away.
func (h *Handler) readRefinements(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *feed.Subscription, logger *zap.Logger) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})

	for {
		var next models.OrderQuery
		if err := conn.ReadJSON(&next); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Feed reader stopped", zap.Error(err))
			}
			return
		}
		if err := h.svc.Hub.Refine(ctx, sub, next); err != nil {
			logger.Warn("Feed refine failed", zap.Error(err))
			return
		}
	}
}
