package dispatch

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// timerEvent is the frame pushed to a passenger chat socket.
type timerEvent struct {
	Event     string `json:"event"` // "send" | "edit"
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

// WSSession represents one connected passenger chat
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(ev timerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry holds passenger chat sessions keyed by chat id and
// implements Messenger over them. Message ids are generated locally;
// the client echoes them back on edits so countdown messages can be
// updated in place.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[int64]*WSSession
	nextMsg  atomic.Int64
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[int64]*WSSession)} }

func (r *WSRegistry) Add(chatID int64, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[chatID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, chatID)
}

func (r *WSRegistry) SendTimerMessage(chatID int64, text string) (int64, error) {
	s := r.session(chatID)
	if s == nil {
		return 0, ErrNoSession
	}
	id := r.nextMsg.Add(1)
	if err := s.send(timerEvent{Event: "send", MessageID: id, Text: text}); err != nil {
		log.Printf("ws send error: %v", err)
		return 0, err
	}
	return id, nil
}

func (r *WSRegistry) EditTimer(chatID, messageID int64, text string) error {
	s := r.session(chatID)
	if s == nil {
		return ErrNoSession
	}
	if err := s.send(timerEvent{Event: "edit", MessageID: messageID, Text: text}); err != nil {
		log.Printf("ws edit error: %v", err)
		return err
	}
	return nil
}

func (r *WSRegistry) session(chatID int64) *WSSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[chatID]
}
