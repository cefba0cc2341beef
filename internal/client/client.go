// Package client talks to the relay over HTTP: the POST /api/chat round
// trip and long-lived event stream subscriptions.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/RichardoC/langchain-chat/internal/models"
	"github.com/RichardoC/langchain-chat/internal/sse"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrIncompleteStream = errors.New("relay stream ended without a result")

// RelayError is returned when the relay reports a failure, either with a
// non-2xx status or with a terminal error event.
type RelayError struct {
	StatusCode int
	Message    string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay error (status %d): %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func New(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// Chat posts one question and blocks until the relay sends its result.
// onToken, if set, is called for every token frame of the response.
func (c *Client) Chat(ctx context.Context, req models.ChatRequest, onToken func(models.StreamEvent)) (*models.ChatResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode chat request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to post chat request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RelayError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp)}
	}

	r := sse.NewReader(resp.Body)
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return nil, ErrIncompleteStream
		}
		if err != nil {
			return nil, err
		}

		switch ev.Name {
		case "result":
			var result models.ChatResult
			if err := json.Unmarshal(ev.Data, &result); err != nil {
				return nil, errors.Wrap(err, "failed to decode chat result")
			}
			return &result, nil
		case "error":
			var e models.ErrorResult
			if err := json.Unmarshal(ev.Data, &e); err != nil {
				e.Error = string(ev.Data)
			}
			return nil, &RelayError{StatusCode: resp.StatusCode, Message: e.Error}
		default:
			var token models.StreamEvent
			if err := json.Unmarshal(ev.Data, &token); err != nil {
				return nil, errors.Wrap(err, "failed to decode token event")
			}
			if onToken != nil {
				onToken(token)
			}
		}
	}
}

// Subscribe opens a GET event stream at path and calls onEvent for every
// frame. It blocks until ctx is done, the stream ends, or onEvent fails.
// A canceled ctx is not reported as an error.
func (c *Client) Subscribe(ctx context.Context, path string, onEvent func(sse.Event) error) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build subscription request")
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "failed to open subscription")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &RelayError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp)}
	}
	c.logger.Debug("Subscription opened", zap.String("path", path))

	r := sse.NewReader(resp.Body)
	for {
		ev, err := r.Next()
		if ctx.Err() != nil {
			return nil
		}
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		if err != nil {
			return err
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
}

// readErrorMessage extracts {"error": ...} from either a JSON body or a
// single error event.
func readErrorMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil || len(data) == 0 {
		return http.StatusText(resp.StatusCode)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		if ev, err := sse.NewReader(bytes.NewReader(data)).Next(); err == nil {
			data = ev.Data
		}
	}

	var e models.ErrorResult
	if err := json.Unmarshal(data, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(data))
}
