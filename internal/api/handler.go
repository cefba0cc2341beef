package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/RichardoC/langchain-chat/internal/llm"
	"github.com/RichardoC/langchain-chat/internal/models"
	"go.uber.org/zap"
)

// HeartbeatMessage is the fixed text of every heartbeat event.
const HeartbeatMessage = "This is a streamed message from the server."

// relayErrorMessage is the only error detail a client ever sees.
const relayErrorMessage = "Error occurred while streaming tokens"

// ExchangeLog records relay calls. It is optional.
type ExchangeLog interface {
	RecordExchange(ctx context.Context, ex *models.Exchange) error
	RecentExchanges(ctx context.Context, limit int) ([]models.Exchange, error)
}

type Handler struct {
	llm       llm.Streamer
	hub       *TokenHub
	exchanges ExchangeLog
	logger    *zap.Logger

	heartbeatInterval time.Duration
	now               func() time.Time
}

type Option func(*Handler)

// WithExchangeLog enables the exchange log.
func WithExchangeLog(log ExchangeLog) Option {
	return func(h *Handler) {
		h.exchanges = log
	}
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeatInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

func NewHandler(streamer llm.Streamer, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		llm:               streamer,
		logger:            logger,
		heartbeatInterval: 5 * time.Second,
		now:               time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	h.hub = NewTokenHub(logger)
	return h
}

// Hub returns the hub republishing relay tokens to GET /api/chat.
func (h *Handler) Hub() *TokenHub {
	return h.hub
}

func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, models.ErrorResult{Error: message})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
