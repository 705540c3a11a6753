package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"storyweave-server/internal/models"
	"storyweave-server/internal/turncache"
)

// Client представляет одно WebSocket соединение подписчика истории.
type Client struct {
	UserID  uuid.UUID
	StoryID uuid.UUID
	Conn    *websocket.Conn
	send    chan []byte
}

// StoryHub управляет комнатами подписчиков по историям.
// Для каждой истории хаб держит ленту ходов (идемпотентное слияние),
// чтобы новый подписчик сразу получал снапшот уже известных ходов.
type StoryHub struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]map[*Client]struct{}
	feeds  map[uuid.UUID]*turncache.Cache
	logger zerolog.Logger
}

// NewStoryHub создает новый хаб.
func NewStoryHub(logger zerolog.Logger) *StoryHub {
	return &StoryHub{
		rooms:  make(map[uuid.UUID]map[*Client]struct{}),
		feeds:  make(map[uuid.UUID]*turncache.Cache),
		logger: logger.With().Str("component", "StoryHub").Logger(),
	}
}

// Subscribe регистрирует клиента в комнате его истории и возвращает
// снапшот ленты для начальной синхронизации.
func (h *StoryHub) Subscribe(client *Client) []models.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[client.StoryID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[client.StoryID] = room
	}
	room[client] = struct{}{}

	h.logger.Info().
		Str("storyID", client.StoryID.String()).
		Str("userID", client.UserID.String()).
		Int("subscribers", len(room)).
		Msg("Клиент подписан на историю")

	return h.feed(client.StoryID).Snapshot()
}

// Unsubscribe удаляет клиента из комнаты и закрывает его очередь отправки.
func (h *StoryHub) Unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[client.StoryID]
	if !ok {
		return
	}
	if _, ok := room[client]; !ok {
		return
	}
	delete(room, client)
	close(client.send)
	if len(room) == 0 {
		delete(h.rooms, client.StoryID)
	}

	h.logger.Info().
		Str("storyID", client.StoryID.String()).
		Str("userID", client.UserID.String()).
		Msg("Клиент отписан от истории")
}

// ApplyAndBroadcast вливает ход в ленту истории и рассылает сообщение
// всем подписчикам комнаты. Отсутствие подписчиков - не ошибка.
func (h *StoryHub) ApplyAndBroadcast(storyID uuid.UUID, turn models.Turn, message []byte) {
	h.mu.Lock()
	h.feed(storyID).Apply(turn)
	clients := make([]*Client, 0, len(h.rooms[storyID]))
	for client := range h.rooms[storyID] {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			// Очередь клиента переполнена, он отстал. Соединение добьют пампы.
			h.logger.Warn().
				Str("storyID", storyID.String()).
				Str("userID", client.UserID.String()).
				Msg("Очередь отправки переполнена, сообщение пропущено")
		}
	}
}

// SeedFeed заменяет ленту истории ходами, перечитанными из БД.
func (h *StoryHub) SeedFeed(storyID uuid.UUID, turns []models.Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.feed(storyID).Replace(turns)
}

// feed возвращает ленту истории, создавая ее при необходимости.
// Вызывать под h.mu.
func (h *StoryHub) feed(storyID uuid.UUID) *turncache.Cache {
	cache, ok := h.feeds[storyID]
	if !ok {
		cache = turncache.NewCache()
		h.feeds[storyID] = cache
	}
	return cache
}
