package websocket

import (
	"sync"

	"go.uber.org/zap"

	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/observability"
	"github.com/taskboard/taskchat/internal/wire"
)

// Rooms tracks which sessions have joined which chats on this instance.
type Rooms struct {
	mu      sync.RWMutex
	members map[domain.ChatID]map[string]*Session
	joined  map[string]map[domain.ChatID]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[domain.ChatID]map[string]*Session),
		joined:  make(map[string]map[domain.ChatID]struct{}),
	}
}

func (r *Rooms) Join(chatID domain.ChatID, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[chatID] == nil {
		r.members[chatID] = make(map[string]*Session)
		observability.ChatRoomsActive.Inc()
	}
	r.members[chatID][s.ID] = s

	if r.joined[s.ID] == nil {
		r.joined[s.ID] = make(map[domain.ChatID]struct{})
	}
	r.joined[s.ID][chatID] = struct{}{}
}

func (r *Rooms) Leave(chatID domain.ChatID, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(chatID, s.ID)
}

func (r *Rooms) leaveLocked(chatID domain.ChatID, sessionID string) {
	if m, ok := r.members[chatID]; ok {
		delete(m, sessionID)
		if len(m) == 0 {
			delete(r.members, chatID)
			observability.ChatRoomsActive.Dec()
		}
	}
	if j, ok := r.joined[sessionID]; ok {
		delete(j, chatID)
		if len(j) == 0 {
			delete(r.joined, sessionID)
		}
	}
}

// Remove drops s from every room it joined.
func (r *Rooms) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for chatID := range r.joined[s.ID] {
		r.leaveLocked(chatID, s.ID)
	}
}

func (r *Rooms) Members(chatID domain.ChatID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Session
	for _, s := range r.members[chatID] {
		result = append(result, s)
	}
	return result
}

// Broadcast sends m as a message event to every session in the chat.
func (r *Rooms) Broadcast(chatID domain.ChatID, m domain.Message) {
	frame, err := wire.Encode(wire.EventMessage, chatID, "", m)
	if err != nil {
		logger().Error("rooms: encode failed", zap.String("chat_id", chatID.String()), zap.Error(err))
		return
	}
	for _, s := range r.Members(chatID) {
		s.TrySend(frame)
	}
}

func (r *Rooms) CloseAll() {
	r.mu.RLock()
	var all []*Session
	for _, m := range r.members {
		for _, s := range m {
			all = append(all, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range all {
		s.Close()
	}
}
