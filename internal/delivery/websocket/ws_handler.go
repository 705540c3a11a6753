package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"storyweave-server/internal/auth"
	"storyweave-server/internal/interfaces"
	"storyweave-server/internal/messaging"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Отправлять пинги клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Максимальный размер сообщения, разрешенный от клиента.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler обрабатывает запросы на установку WebSocket соединения подписчика истории.
type Handler struct {
	hub      *StoryHub
	verifier *auth.JWTVerifier
	turnRepo interfaces.TurnRepository
	logger   zerolog.Logger
}

// NewHandler создает новый обработчик WebSocket.
func NewHandler(hub *StoryHub, verifier *auth.JWTVerifier, turnRepo interfaces.TurnRepository, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		turnRepo: turnRepo,
		logger:   logger.With().Str("component", "WebSocketHandler").Logger(),
	}
}

// ServeWS обрабатывает входящий HTTP запрос вида /ws/stories/{id}?token=...
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request, storyIDStr string) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		h.logger.Warn().Msg("Отсутствует query-параметр 'token'")
		http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
		return
	}

	userID, err := h.verifier.VerifyToken(tokenString)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Невалидный токен")
		http.Error(w, fmt.Sprintf("Unauthorized: %s", err.Error()), http.StatusUnauthorized)
		return
	}

	storyID, err := uuid.Parse(storyIDStr)
	if err != nil {
		http.Error(w, "Invalid story ID format", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("userID", userID.String()).Msg("Не удалось обновить соединение до WebSocket")
		return
	}

	h.logger.Info().
		Str("userID", userID.String()).
		Str("storyID", storyID.String()).
		Msg("WebSocket соединение установлено")

	client := &Client{
		UserID:  userID,
		StoryID: storyID,
		Conn:    conn,
		send:    make(chan []byte, 256),
	}

	// Прогреваем ленту из БД, чтобы снапшот не зависел от того,
	// были ли у истории подписчики раньше.
	if turns, err := h.turnRepo.ListByStory(r.Context(), storyID); err == nil {
		h.hub.SeedFeed(storyID, turns)
	} else {
		h.logger.Warn().Err(err).Str("storyID", storyID.String()).Msg("Не удалось перечитать ходы для снапшота")
	}

	snapshot := h.hub.Subscribe(client)

	clientLog := h.logger.With().Str("userID", userID.String()).Str("storyID", storyID.String()).Logger()
	go client.writePump(clientLog)
	go client.readPump(h.hub, clientLog)

	// Начальная синхронизация: клиент получает все известные ходы по порядку.
	for _, turn := range snapshot {
		payload := messaging.TurnEventPayload{
			EventType: messaging.TurnEventCreated,
			StoryID:   storyID.String(),
			Turn:      turn,
		}
		body, err := json.Marshal(payload)
		if err != nil {
			clientLog.Error().Err(err).Msg("Не удалось сериализовать ход для снапшота")
			continue
		}
		select {
		case client.send <- body:
		default:
			clientLog.Warn().Msg("Очередь клиента переполнена во время снапшота")
			return
		}
	}
}

// readPump откачивает сообщения от WebSocket соединения.
// Клиентские сообщения игнорируются: канал только для доставки ходов.
func (c *Client) readPump(hub *StoryHub, logger zerolog.Logger) {
	defer func() {
		hub.Unsubscribe(c)
		_ = c.Conn.Close()
		logger.Info().Msg("readPump finished")
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			} else {
				logger.Info().Msg("WebSocket connection closed (expected)")
			}
			break
		}
		logger.Warn().Bytes("message", message).Msg("Получено неожиданное сообщение от клиента (игнорируется)")
	}
}

// writePump откачивает сообщения из канала send в WebSocket соединение.
func (c *Client) writePump(logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		logger.Info().Msg("writePump finished")
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error().Err(err).Msg("Не удалось отправить сообщение")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn().Err(err).Msg("Не удалось отправить ping")
				return
			}
		}
	}
}
