package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/chat"
	"github.com/paperlens/backend/internal/evaluation"
	"github.com/paperlens/backend/internal/events"
	"github.com/paperlens/backend/internal/llm"
	"github.com/paperlens/backend/internal/session"
	"github.com/paperlens/backend/pkg/logger"
)

// ChatHandler serves /ws/chat. Each connection holds one conversation about
// the open paper and also receives the toast events published on the bus.
type ChatHandler struct {
	sessions *session.Manager
	streamer chat.Streamer
	tracker  Tracker
}

func NewChatHandler(sessions *session.Manager, streamer chat.Streamer, tracker Tracker) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
		streamer: streamer,
		tracker:  tracker,
	}
}

// Upgrade rejects plain HTTP requests to the websocket route.
func (h *ChatHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

type jsonWriter interface {
	WriteJSON(v interface{}) error
}

// wsConn serialises writes to one socket. The first failed write is sticky:
// it cancels the connection's context and every later send returns it.
type wsConn struct {
	conn   jsonWriter
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func newWSConn(conn jsonWriter, cancel context.CancelFunc) *wsConn {
	return &wsConn{conn: conn, cancel: cancel}
}

func (w *wsConn) send(msg fiber.Map) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}
	if err := w.conn.WriteJSON(msg); err != nil {
		w.err = err
		w.cancel()
		logger.Warn("WebSocket write failed", zap.Any("type", msg["type"]), zap.Error(err))
		return err
	}
	return nil
}

func (w *wsConn) failure() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.err
}

func (h *ChatHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	ws := newWSConn(c, cancel)

	unsubscribe := h.sessions.Bus().Subscribe(func(e events.Event) {
		_ = ws.send(fiber.Map{
			"type":    "toast",
			"kind":    e.Kind,
			"message": e.Message,
		})
	})

	defer func() {
		unsubscribe()
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	var (
		conv      *chat.Session
		sessionID string
	)

	for ws.failure() == nil {
		var msg struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		switch msg.Type {
		case "reset":
			conv = nil
			continue
		case "message":
		default:
			continue
		}

		s, err := h.sessions.Current()
		if err != nil {
			_ = h.sendError(ws, "Upload a paper before starting a chat.")
			continue
		}
		if conv == nil || sessionID != s.ID {
			conv = chat.NewSession(h.streamer, s.Analysis(), chat.WithLogger(logger.GetLogger()))
			sessionID = s.ID
			if err := ws.send(fiber.Map{"type": "welcome", "content": conv.Welcome()}); err != nil {
				break
			}
		}

		if err := h.reply(ctx, ws, conv, msg.Content); err != nil {
			logger.Error("Failed to stream chat reply", zap.Error(err))
		}
	}
}

// reply streams one answer. A failed write ends the stream early through the
// connection's context.
func (h *ChatHandler) reply(ctx context.Context, ws *wsConn, conv *chat.Session, input string) error {
	if err := ws.send(fiber.Map{"type": "status", "content": "Thinking..."}); err != nil {
		return err
	}

	reply, err := conv.Send(ctx, input, func(chunk string) {
		_ = ws.send(fiber.Map{"type": "chunk", "content": chunk})
	})
	if werr := ws.failure(); werr != nil {
		return werr
	}
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyInput), errors.Is(err, chat.ErrBusy):
			return h.sendError(ws, err.Error())
		default:
			if serr := h.sendError(ws, llm.UserMessage(err)); serr != nil {
				return serr
			}
			return err
		}
	}

	if err := h.tracker.Increment(ctx, evaluation.ChatMessages); err != nil {
		logger.Warn("Failed to count chat message", zap.Error(err))
	}

	return ws.send(fiber.Map{
		"type":       "complete",
		"message_id": reply.ID,
		"content":    reply.Content,
	})
}

func (h *ChatHandler) sendError(ws *wsConn, errorMsg string) error {
	return ws.send(fiber.Map{
		"type":  "error",
		"error": errorMsg,
	})
}
