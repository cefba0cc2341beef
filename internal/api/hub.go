package api

import (
	"sync"

	"github.com/RichardoC/langchain-chat/internal/metrics"
	"github.com/RichardoC/langchain-chat/internal/models"
	"go.uber.org/zap"
)

const subscriberBuffer = 256

// TokenHub fans relay tokens out to every open GET /api/chat stream.
// Delivery is best effort: a subscriber whose buffer is full loses tokens.
type TokenHub struct {
	mu     sync.Mutex
	subs   map[chan models.StreamEvent]struct{}
	logger *zap.Logger
}

func NewTokenHub(logger *zap.Logger) *TokenHub {
	return &TokenHub{
		subs:   make(map[chan models.StreamEvent]struct{}),
		logger: logger,
	}
}

// Subscribe returns a channel of tokens and a function that unsubscribes
// and closes it.
func (h *TokenHub) Subscribe() (<-chan models.StreamEvent, func()) {
	ch := make(chan models.StreamEvent, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *TokenHub) Publish(ev models.StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			metrics.RelayDroppedTokens.Inc()
			h.logger.Warn("Dropping token for slow subscriber", zap.String("event_id", ev.ID))
		}
	}
}

func (h *TokenHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
