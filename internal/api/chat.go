package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/RichardoC/langchain-chat/internal/llm"
	"github.com/RichardoC/langchain-chat/internal/metrics"
	"github.com/RichardoC/langchain-chat/internal/models"
	"github.com/RichardoC/langchain-chat/internal/sse"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandleChat relays one completion. Tokens are written as unnamed events
// as soon as the provider emits them, followed by a single "result" event
// or a single "error" event. The status is 500 only when the call fails
// before the first token; afterwards the status line is already committed.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		h.Error(w, http.StatusBadRequest, "Question is required")
		return
	}

	stream, err := sse.NewWriter(w)
	if err != nil {
		h.logger.Error("Streaming unsupported", zap.String("path", r.URL.Path))
		h.Error(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	defer stream.Close()

	metrics.OpenStreams.WithLabelValues("chat").Inc()
	defer metrics.OpenStreams.WithLabelValues("chat").Dec()

	exchange := &models.Exchange{ID: uuid.New().String(), Question: req.Question}
	logger := h.logger.With(zap.String("exchange_id", exchange.ID))
	logger.Info("Relaying question", zap.Int("history", len(req.History)))

	onToken := func(ctx context.Context, token string) error {
		ev := models.StreamEvent{
			ID:         uuid.New().String(),
			ExchangeID: exchange.ID,
			Text:       token,
			Timestamp:  h.now(),
		}
		if err := stream.Send(ev); err != nil {
			return err
		}
		metrics.RelayTokens.Inc()
		h.hub.Publish(ev)
		return nil
	}

	result, err := h.llm.StreamCompletion(r.Context(), llm.CompletionRequest{
		Question: req.Question,
		History:  req.History,
	}, onToken)
	if err != nil {
		exchange.Status = http.StatusInternalServerError
		exchange.Error = err.Error()

		if r.Context().Err() != nil {
			metrics.RelayCompletions.WithLabelValues("disconnect").Inc()
			logger.Info("Client disconnected during relay", zap.Error(err))
		} else {
			metrics.RelayCompletions.WithLabelValues("error").Inc()
			logger.Error("Error occurred while streaming tokens", zap.Error(err))
			if err := stream.SendEvent("error", http.StatusInternalServerError, models.ErrorResult{Error: relayErrorMessage}); err != nil {
				logger.Warn("Failed to send error event", zap.Error(err))
			}
		}
		h.recordExchange(r.Context(), exchange)
		return
	}

	metrics.RelayCompletions.WithLabelValues("success").Inc()
	exchange.Status = http.StatusOK
	exchange.Answer = result.Text
	if err := stream.SendEvent("result", http.StatusOK, result); err != nil {
		logger.Warn("Failed to send result event", zap.Error(err))
	}
	logger.Info("Relay completed", zap.Int("tokens", result.Tokens))
	h.recordExchange(r.Context(), exchange)
}

// SubscribeChat keeps a stream open and republishes the tokens of every
// relay call until the client goes away.
func (h *Handler) SubscribeChat(w http.ResponseWriter, r *http.Request) {
	stream, err := sse.NewWriter(w)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	defer stream.Close()

	tokens, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	if err := stream.Open(http.StatusOK); err != nil {
		return
	}

	metrics.OpenStreams.WithLabelValues("chat_subscription").Inc()
	defer metrics.OpenStreams.WithLabelValues("chat_subscription").Dec()
	h.logger.Debug("Token subscription opened", zap.String("remote_addr", r.RemoteAddr))

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("Token subscription closed by client", zap.String("remote_addr", r.RemoteAddr))
			return
		case ev, ok := <-tokens:
			if !ok {
				return
			}
			if err := stream.Send(ev); err != nil {
				h.logger.Debug("Failed to forward token", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handler) recordExchange(ctx context.Context, ex *models.Exchange) {
	if h.exchanges == nil {
		return
	}
	if err := h.exchanges.RecordExchange(context.WithoutCancel(ctx), ex); err != nil {
		h.logger.Warn("Failed to record exchange", zap.String("exchange_id", ex.ID), zap.Error(err))
	}
}
