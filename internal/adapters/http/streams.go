package http

import (
	"log/slog"
	"sync"

	"github.com/aretw0/pitch/internal/logging"
)

// StreamManager fans sessions out to the SSE connections of an identity.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // identity -> set of channels
	logger      *slog.Logger
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logging.NewNop(),
	}
}

// Subscribe registers a buffered channel. The returned func unsubscribes
// and closes it.
func (sm *StreamManager) Subscribe(identity string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[identity]; !ok {
		sm.subscribers[identity] = make(map[chan<- string]struct{})
	}
	sm.subscribers[identity][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[identity]; ok {
			if _, live := subs[ch]; !live {
				return
			}
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, identity)
			}
		}
	}
}

// Broadcast never blocks: slow clients lose messages.
func (sm *StreamManager) Broadcast(identity string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[identity] {
		select {
		case ch <- msg:
		default:
			sm.logger.Warn("SSE: Client buffer full, dropping message", "identity", identity)
		}
	}
}

// Subscribers counts the open streams of an identity.
func (sm *StreamManager) Subscribers(identity string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[identity])
}
