package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/RichardoC/langchain-chat/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// TokenFunc receives every incremental token in emission order. Returning
// an error aborts the completion.
type TokenFunc func(ctx context.Context, token string) error

// CompletionRequest is a single question plus the rolling history window.
type CompletionRequest struct {
	Question string
	History  []models.HistoryPair
}

// Streamer produces a completion as a sequence of tokens terminated by
// the final result or an error.
type Streamer interface {
	StreamCompletion(ctx context.Context, req CompletionRequest, onToken TokenFunc) (*models.ChatResult, error)
}

// Options bound every provider call.
type Options struct {
	Model          string
	Temperature    float64
	MaxConcurrency int
	MaxTokens      int
	Timeout        time.Duration
	MaxRetries     int
	// RetryInterval is the initial backoff between attempts.
	RetryInterval time.Duration
}

type Service struct {
	llm    llms.Model
	opts   Options
	sem    *semaphore.Weighted
	logger *zap.Logger
}

// New builds a Service backed by the OpenAI chat API. baseURL may be empty.
func New(baseURL, token string, opts Options, logger *zap.Logger) (*Service, error) {
	clientOpts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(opts.Model),
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(baseURL))
	}
	model, err := openai.New(clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create openai client")
	}
	return NewWithModel(model, opts, logger), nil
}

// NewWithModel wraps an already constructed langchaingo model.
func NewWithModel(model llms.Model, opts Options, logger *zap.Logger) *Service {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		llm:    model,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		logger: logger,
	}
}

func (s *Service) Model() string {
	return s.opts.Model
}

// StreamCompletion runs one completion. At most MaxConcurrency calls are in
// flight at once. Failed attempts are retried up to MaxRetries times, but
// only while no token has been emitted, so retries never duplicate output.
func (s *Service) StreamCompletion(ctx context.Context, req CompletionRequest, onToken TokenFunc) (*models.ChatResult, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "failed to acquire completion slot")
	}
	defer s.sem.Release(1)

	messages := BuildMessages(req)

	var (
		mu       sync.Mutex
		streamed int
		text     strings.Builder
	)
	streamingFunc := func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		mu.Lock()
		streamed++
		text.Write(chunk)
		mu.Unlock()
		if onToken == nil {
			return nil
		}
		return onToken(ctx, string(chunk))
	}

	callOpts := []llms.CallOption{
		llms.WithStreamingFunc(streamingFunc),
		llms.WithTemperature(s.opts.Temperature),
	}
	if s.opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(s.opts.MaxTokens))
	}
	if s.opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(s.opts.Model))
	}

	var resp *llms.ContentResponse
	attempt := 0
	operation := func() error {
		attempt++
		callCtx := ctx
		if s.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
			defer cancel()
		}

		var err error
		resp, err = s.llm.GenerateContent(callCtx, messages, callOpts...)
		if err == nil {
			return nil
		}

		mu.Lock()
		partial := streamed > 0
		mu.Unlock()
		s.logger.Warn("completion attempt failed",
			zap.Int("attempt", attempt),
			zap.Bool("partial", partial),
			zap.Error(err))
		if partial || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.RetryInterval
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(s.opts.MaxRetries, 0))), ctx)

	if err := backoff.Retry(operation, b); err != nil {
		return nil, errors.Wrap(err, "failed to generate completion")
	}

	mu.Lock()
	defer mu.Unlock()
	result := &models.ChatResult{
		ID:     uuid.New().String(),
		Text:   text.String(),
		Model:  s.opts.Model,
		Tokens: streamed,
	}
	// Providers that ignore the streaming callback still return the full text.
	if resp != nil && len(resp.Choices) > 0 && resp.Choices[0].Content != "" {
		result.Text = resp.Choices[0].Content
	}
	return result, nil
}

// BuildMessages turns the request into a chat prompt: every history pair as
// a human/AI exchange followed by the question.
func BuildMessages(req CompletionRequest) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(req.History)*2+1)
	for _, pair := range req.History {
		if pair.Question() != "" {
			messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, pair.Question()))
		}
		if pair.Answer() != "" {
			messages = append(messages, llms.TextParts(schema.ChatMessageTypeAI, pair.Answer()))
		}
	}
	return append(messages, llms.TextParts(schema.ChatMessageTypeHuman, req.Question))
}
