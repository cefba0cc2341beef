package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RichardoC/langchain-chat/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// fakeModel streams a fixed list of tokens, optionally failing.
type fakeModel struct {
	tokens   []string
	failures int   // attempts that fail before any token is emitted
	failErr  error // returned by every failed attempt
	failMid  bool  // fail after the first token
	block    chan struct{}

	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32

	mu       sync.Mutex
	lastOpts llms.CallOptions
	lastMsgs []llms.MessageContent
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	n := f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if cur <= seen || f.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}

	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	f.mu.Lock()
	f.lastOpts = opts
	f.lastMsgs = messages
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if int(n) <= f.failures {
		return nil, f.failErr
	}

	text := ""
	for i, tok := range f.tokens {
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(tok)); err != nil {
				return nil, err
			}
		}
		text += tok
		if f.failMid && i == 0 {
			return nil, f.failErr
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func testOptions() Options {
	return Options{
		Model:          "gpt-test",
		Temperature:    0.9,
		MaxConcurrency: 5,
		MaxTokens:      25,
		Timeout:        time.Second,
		MaxRetries:     10,
		RetryInterval:  time.Millisecond,
	}
}

func TestStreamCompletion_EmitsTokensInOrder(t *testing.T) {
	model := &fakeModel{tokens: []string{"Hel", "lo"}}
	svc := NewWithModel(model, testOptions(), nil)

	var got []string
	result, err := svc.StreamCompletion(context.Background(), CompletionRequest{Question: "hi"}, func(_ context.Context, tok string) error {
		got = append(got, tok)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.Equal(t, "Hello", result.Text)
	assert.Equal(t, 2, result.Tokens)
	assert.Equal(t, "gpt-test", result.Model)
	assert.NotEmpty(t, result.ID)

	assert.Equal(t, 25, model.lastOpts.MaxTokens)
	assert.Equal(t, "gpt-test", model.lastOpts.Model)
	assert.InDelta(t, 0.9, model.lastOpts.Temperature, 0.0001)
}

func TestStreamCompletion_RetriesBeforeFirstToken(t *testing.T) {
	model := &fakeModel{tokens: []string{"ok"}, failures: 3, failErr: errors.New("rate limited")}
	svc := NewWithModel(model, testOptions(), nil)

	result, err := svc.StreamCompletion(context.Background(), CompletionRequest{Question: "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, int32(4), model.calls.Load())
}

func TestStreamCompletion_RetryBudgetIsBounded(t *testing.T) {
	model := &fakeModel{failures: 100, failErr: errors.New("unauthorized")}
	opts := testOptions()
	opts.MaxRetries = 2
	svc := NewWithModel(model, opts, nil)

	_, err := svc.StreamCompletion(context.Background(), CompletionRequest{Question: "hi"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
	assert.Equal(t, int32(3), model.calls.Load())
}

func TestStreamCompletion_NoRetryAfterPartialOutput(t *testing.T) {
	model := &fakeModel{tokens: []string{"Hel", "lo"}, failMid: true, failErr: errors.New("connection reset")}
	svc := NewWithModel(model, testOptions(), nil)

	var got []string
	_, err := svc.StreamCompletion(context.Background(), CompletionRequest{Question: "hi"}, func(_ context.Context, tok string) error {
		got = append(got, tok)
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, []string{"Hel"}, got)
	assert.Equal(t, int32(1), model.calls.Load())
}

func TestStreamCompletion_TimeoutPerAttempt(t *testing.T) {
	model := &fakeModel{block: make(chan struct{})}
	opts := testOptions()
	opts.Timeout = 20 * time.Millisecond
	opts.MaxRetries = 1
	svc := NewWithModel(model, opts, nil)

	start := time.Now()
	_, err := svc.StreamCompletion(context.Background(), CompletionRequest{Question: "hi"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), model.calls.Load())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStreamCompletion_ConcurrencyCeiling(t *testing.T) {
	model := &fakeModel{tokens: []string{"x"}, block: make(chan struct{})}
	opts := testOptions()
	opts.MaxConcurrency = 2
	svc := NewWithModel(model, opts, nil)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.StreamCompletion(context.Background(), CompletionRequest{Question: "hi"}, nil)
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return model.inFlight.Load() == 2 }, time.Second, time.Millisecond)
	close(model.block)
	wg.Wait()

	assert.Equal(t, int32(2), model.maxSeen.Load())
	assert.Equal(t, int32(6), model.calls.Load())
}

func TestStreamCompletion_TokenCallbackErrorAborts(t *testing.T) {
	model := &fakeModel{tokens: []string{"a", "b", "c"}}
	svc := NewWithModel(model, testOptions(), nil)

	stop := errors.New("client gone")
	calls := 0
	_, err := svc.StreamCompletion(context.Background(), CompletionRequest{Question: "hi"}, func(context.Context, string) error {
		calls++
		return stop
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int32(1), model.calls.Load())
}

func TestBuildMessages_IncludesHistoryWindow(t *testing.T) {
	msgs := BuildMessages(CompletionRequest{
		Question: "and now?",
		History:  []models.HistoryPair{{"first question", "first answer"}},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, schema.ChatMessageTypeHuman, msgs[0].Role)
	assert.Equal(t, llms.TextContent{Text: "first question"}, msgs[0].Parts[0])
	assert.Equal(t, schema.ChatMessageTypeAI, msgs[1].Role)
	assert.Equal(t, llms.TextContent{Text: "first answer"}, msgs[1].Parts[0])
	assert.Equal(t, schema.ChatMessageTypeHuman, msgs[2].Role)
	assert.Equal(t, llms.TextContent{Text: "and now?"}, msgs[2].Parts[0])
}
