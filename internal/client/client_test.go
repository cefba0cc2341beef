package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RichardoC/langchain-chat/internal/models"
	"github.com/RichardoC/langchain-chat/internal/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relayServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, srv.Client(), nil)
}

func TestChat_TokensThenResult(t *testing.T) {
	c := relayServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req models.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hi", req.Question)
		assert.Equal(t, []models.HistoryPair{{"q", "a"}}, req.History)

		stream, err := sse.NewWriter(w)
		require.NoError(t, err)
		defer stream.Close()
		stream.Send(models.StreamEvent{ID: "1", Text: "Hel"})
		stream.Send(models.StreamEvent{ID: "2", Text: "lo"})
		stream.SendEvent("result", http.StatusOK, models.ChatResult{ID: "r", Text: "Hello"})
	})

	var tokens []string
	result, err := c.Chat(context.Background(), models.ChatRequest{
		Question: "hi",
		History:  []models.HistoryPair{{"q", "a"}},
	}, func(ev models.StreamEvent) {
		tokens = append(tokens, ev.Text)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", result.Text)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)
}

func TestChat_ErrorStatus(t *testing.T) {
	c := relayServer(t, func(w http.ResponseWriter, r *http.Request) {
		stream, _ := sse.NewWriter(w)
		defer stream.Close()
		stream.SendEvent("error", http.StatusInternalServerError, models.ErrorResult{Error: "Error occurred while streaming tokens"})
	})

	_, err := c.Chat(context.Background(), models.ChatRequest{Question: "hi"}, nil)
	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, http.StatusInternalServerError, relayErr.StatusCode)
	assert.Equal(t, "Error occurred while streaming tokens", relayErr.Message)
}

func TestChat_ErrorEventAfterTokens(t *testing.T) {
	c := relayServer(t, func(w http.ResponseWriter, r *http.Request) {
		stream, _ := sse.NewWriter(w)
		defer stream.Close()
		stream.Send(models.StreamEvent{Text: "Hel"})
		stream.SendEvent("error", http.StatusInternalServerError, models.ErrorResult{Error: "boom"})
	})

	_, err := c.Chat(context.Background(), models.ChatRequest{Question: "hi"}, nil)
	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, http.StatusOK, relayErr.StatusCode)
	assert.Equal(t, "boom", relayErr.Message)
}

func TestChat_JSONErrorBody(t *testing.T) {
	c := relayServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"Question is required"}`)
	})

	_, err := c.Chat(context.Background(), models.ChatRequest{Question: " "}, nil)
	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, "Question is required", relayErr.Message)
}

func TestChat_StreamWithoutResult(t *testing.T) {
	c := relayServer(t, func(w http.ResponseWriter, r *http.Request) {
		stream, _ := sse.NewWriter(w)
		defer stream.Close()
		stream.Send(models.StreamEvent{Text: "Hel"})
	})

	_, err := c.Chat(context.Background(), models.ChatRequest{Question: "hi"}, nil)
	assert.ErrorIs(t, err, ErrIncompleteStream)
}

func TestChat_MalformedTokenEvent(t *testing.T) {
	c := relayServer(t, func(w http.ResponseWriter, r *http.Request) {
		sse.SetHeaders(w.Header())
		fmt.Fprint(w, "data: {\"text\":\"Hel\"}\n\ndata: {not json\n\n")
	})

	var texts []string
	_, err := c.Chat(context.Background(), models.ChatRequest{Question: "hi"}, func(ev models.StreamEvent) {
		texts = append(texts, ev.Text)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode token event")
	assert.Equal(t, []string{"Hel"}, texts)
}

func TestChat_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, nil, nil).Chat(context.Background(), models.ChatRequest{Question: "hi"}, nil)
	assert.Error(t, err)
}

func TestSubscribe_DeliversUntilCanceled(t *testing.T) {
	release := make(chan struct{})
	c := relayServer(t, func(w http.ResponseWriter, r *http.Request) {
		stream, _ := sse.NewWriter(w)
		defer stream.Close()
		stream.Open(http.StatusOK)
		stream.Send(models.StreamEvent{Text: "a"})
		stream.Send(models.StreamEvent{Text: "b"})
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Subscribe(ctx, "/api/chat", func(ev sse.Event) error {
			var token models.StreamEvent
			require.NoError(t, json.Unmarshal(ev.Data, &token))
			got = append(got, token.Text)
			if len(got) == 2 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSubscribe_ServerClosesStream(t *testing.T) {
	c := relayServer(t, func(w http.ResponseWriter, r *http.Request) {
		stream, _ := sse.NewWriter(w)
		stream.Send(models.StreamEvent{Text: "a"})
		stream.Close()
	})

	count := 0
	err := c.Subscribe(context.Background(), "/api/chat", func(sse.Event) error {
		count++
		return nil
	})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, 1, count)
}
