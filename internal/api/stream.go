package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/RichardoC/langchain-chat/internal/metrics"
	"github.com/RichardoC/langchain-chat/internal/models"
	"github.com/RichardoC/langchain-chat/internal/sse"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stream emits a heartbeat event every interval until the client
// disconnects.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	stream, err := sse.NewWriter(w)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	defer stream.Close()

	if err := stream.Open(http.StatusOK); err != nil {
		return
	}

	metrics.OpenStreams.WithLabelValues("heartbeat").Inc()
	defer metrics.OpenStreams.WithLabelValues("heartbeat").Dec()

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("Heartbeat stream closed by client", zap.String("remote_addr", r.RemoteAddr))
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			err := stream.Send(models.HeartbeatEvent{
				ID:        uuid.New().String(),
				Message:   HeartbeatMessage,
				Timestamp: h.now(),
			})
			if err != nil {
				h.logger.Debug("Failed to send heartbeat", zap.Error(err))
				return
			}
			metrics.HeartbeatsSent.Inc()
		}
	}
}

// Exchanges lists recent rows of the exchange log.
func (h *Handler) Exchanges(w http.ResponseWriter, r *http.Request) {
	if h.exchanges == nil {
		h.Error(w, http.StatusNotFound, "Exchange log disabled")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.Error(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, 100)
	}

	exchanges, err := h.exchanges.RecentExchanges(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to get exchanges", zap.Error(err))
		h.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.JSON(w, http.StatusOK, exchanges)
}
