package store

import (
	"sync"

	"github.com/RichardoC/langchain-chat/internal/models"
)

// Greeting is the first transcript entry of every conversation.
const Greeting = "Hi there! How can I help?"

// Snapshot is an immutable view of the conversation state. Callers get
// their own copies of the slices.
type Snapshot struct {
	Messages      []models.Message
	PendingInput  string
	IsLoading     bool
	HistoryWindow []models.HistoryPair
}

// LastMessage returns the most recent transcript entry.
func (s Snapshot) LastMessage() (models.Message, bool) {
	if len(s.Messages) == 0 {
		return models.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Messages = append([]models.Message(nil), s.Messages...)
	out.HistoryWindow = append([]models.HistoryPair(nil), s.HistoryWindow...)
	return out
}

// Listener is notified with the new snapshot after every mutation.
type Listener func(Snapshot)

// ConversationStore holds the transcript state. Mutations are synchronous
// and every subscriber is notified before the mutator returns. Listeners
// must not call mutators from inside the callback.
type ConversationStore struct {
	mu    sync.Mutex
	state Snapshot

	// notifyMu serializes notifications so listeners observe mutations in
	// the order they were applied.
	notifyMu sync.Mutex

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		state: Snapshot{
			Messages: []models.Message{
				{Text: Greeting, Role: models.RoleAssistant},
			},
		},
		listeners: make(map[int]Listener),
	}
}

// Snapshot returns a copy of the current state.
func (s *ConversationStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn and returns a function that removes it. Both are
// safe to call from inside a listener and take effect from the next
// mutation on.
func (s *ConversationStore) Subscribe(fn Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			delete(s.listeners, id)
			s.notifyMu.Unlock()
		})
	}
}

func (s *ConversationStore) SetPendingInput(text string) Snapshot {
	return s.mutate(func(st *Snapshot) bool {
		st.PendingInput = text
		return true
	})
}

func (s *ConversationStore) SetLoading(loading bool) Snapshot {
	return s.mutate(func(st *Snapshot) bool {
		st.IsLoading = loading
		return true
	})
}

func (s *ConversationStore) AppendMessage(msg models.Message) Snapshot {
	return s.mutate(func(st *Snapshot) bool {
		st.Messages = append(st.Messages, msg)
		return true
	})
}

// ReplaceMessageAt overwrites the message at index. Out of range indexes
// leave the state untouched and notify nobody.
func (s *ConversationStore) ReplaceMessageAt(index int, msg models.Message) Snapshot {
	return s.mutate(func(st *Snapshot) bool {
		if index < 0 || index >= len(st.Messages) {
			return false
		}
		st.Messages[index] = msg
		return true
	})
}

func (s *ConversationStore) SetHistoryWindow(pairs []models.HistoryPair) Snapshot {
	return s.mutate(func(st *Snapshot) bool {
		st.HistoryWindow = append([]models.HistoryPair(nil), pairs...)
		return true
	})
}

func (s *ConversationStore) mutate(apply func(*Snapshot) bool) Snapshot {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	next := s.state.clone()
	changed := apply(&next)
	if changed {
		s.state = next
	}
	snap := s.state.clone()
	s.mu.Unlock()

	if !changed {
		return snap
	}
	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.Unlock()

	for _, l := range listeners {
		l(snap.clone())
	}
	return snap
}

// RootStore owns the stores of one client session.
type RootStore struct {
	Conversation *ConversationStore
}

func NewRootStore() *RootStore {
	return &RootStore{Conversation: NewConversationStore()}
}
