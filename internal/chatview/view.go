// Package chatview drives a conversation: it turns key presses into relay
// round trips and merges streamed tokens into the transcript held by a
// store.ConversationStore.
package chatview

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RichardoC/langchain-chat/internal/models"
	"github.com/RichardoC/langchain-chat/internal/sse"
	"github.com/RichardoC/langchain-chat/internal/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ApologyMessage replaces the answer of a failed round trip.
const ApologyMessage = "Oops! There seems to be an error. Please try again."

// TokenPath is the relay's token subscription endpoint.
const TokenPath = "/api/chat"

var ErrBusy = errors.New("a response is still pending")

type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
)

func (s State) String() string {
	if s == StateAwaitingResponse {
		return "awaitingResponse"
	}
	return "idle"
}

// Relay is the transport to the completion relay.
type Relay interface {
	Chat(ctx context.Context, req models.ChatRequest, onToken func(models.StreamEvent)) (*models.ChatResult, error)
	Subscribe(ctx context.Context, path string, onEvent func(sse.Event) error) error
}

// KeyEvent is a key press in the input box. Text is the inserted text for
// non-Enter keys.
type KeyEvent struct {
	Enter bool
	Shift bool
	Text  string
}

type View struct {
	store  *store.ConversationStore
	relay  Relay
	logger *zap.Logger

	busy       atomic.Bool
	subscribed atomic.Bool

	// mu guards the exchange accumulator.
	mu             sync.Mutex
	active         bool
	acc            strings.Builder
	assistantIndex int

	// exchangeID is learned from the first token of the POST response.
	// Subscription tokens of other exchanges seen before that are kept in
	// unclaimed until the ID is known.
	exchangeID string
	unclaimed  map[string]*strings.Builder

	subCancel context.CancelFunc
	subDone   chan struct{}
}

func New(conversation *store.ConversationStore, relay Relay, logger *zap.Logger) *View {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &View{
		store:          conversation,
		relay:          relay,
		logger:         logger,
		assistantIndex: -1,
	}
}

func (v *View) State() State {
	if v.store.Snapshot().IsLoading {
		return StateAwaitingResponse
	}
	return StateIdle
}

// Input replaces the pending input. It is ignored while a response is
// pending, like a disabled text box.
func (v *View) Input(text string) {
	if v.store.Snapshot().IsLoading {
		return
	}
	v.store.SetPendingInput(text)
}

// HandleKey applies one key press. Enter submits non-empty input, Shift+Enter
// inserts a newline, Enter on empty input does nothing.
func (v *View) HandleKey(ctx context.Context, ev KeyEvent) error {
	snap := v.store.Snapshot()
	if !ev.Enter {
		v.Input(snap.PendingInput + ev.Text)
		return nil
	}
	if snap.PendingInput == "" {
		return nil
	}
	if ev.Shift {
		v.Input(snap.PendingInput + "\n")
		return nil
	}
	return v.Submit(ctx)
}

// Submit sends the pending input to the relay and blocks until the round
// trip ends. Whitespace-only input is ignored. Failures are reported in the
// transcript, the returned error only signals a rejected submission.
func (v *View) Submit(ctx context.Context) error {
	snap := v.store.Snapshot()
	question := snap.PendingInput
	if strings.TrimSpace(question) == "" {
		return nil
	}
	if snap.IsLoading || !v.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer v.busy.Store(false)

	// The window still describes the previous exchange at this point.
	history := snap.HistoryWindow

	v.store.SetLoading(true)
	v.store.AppendMessage(models.Message{Text: question, Role: models.RoleUser})
	v.syncHistory()
	v.beginExchange()

	result, err := v.relay.Chat(ctx, models.ChatRequest{
		Question: question,
		History:  history,
	}, func(ev models.StreamEvent) {
		v.claimExchange(ev.ExchangeID)
		if !v.subscribed.Load() {
			v.mergeToken(ev.Text)
		}
	})
	if err != nil {
		v.logger.Warn("Chat request failed", zap.Error(err))
		v.fail()
		return nil
	}

	v.finish(result.Text)
	return nil
}

// Subscribe starts the long-lived token subscription. While it runs, tokens
// are taken from it instead of from the POST response. A transport error
// ends it for good.
func (v *View) Subscribe(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	v.mu.Lock()
	if v.subCancel != nil {
		v.mu.Unlock()
		cancel()
		return
	}
	v.subCancel = cancel
	v.subDone = done
	v.mu.Unlock()

	v.subscribed.Store(true)
	go func() {
		defer close(done)
		defer v.subscribed.Store(false)

		err := v.relay.Subscribe(ctx, TokenPath, func(ev sse.Event) error {
			var token models.StreamEvent
			if err := json.Unmarshal(ev.Data, &token); err != nil {
				return errors.Wrap(err, "malformed token event")
			}
			v.mergeSubscribedToken(token)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			v.logger.Error("Error occurred while streaming tokens", zap.Error(err))
		}
	}()
}

// Subscribed reports whether the token subscription is running.
func (v *View) Subscribed() bool {
	return v.subscribed.Load()
}

// Close tears the token subscription down and waits for it to stop.
func (v *View) Close() {
	v.mu.Lock()
	cancel, done := v.subCancel, v.subDone
	v.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	v.mu.Lock()
	v.subCancel, v.subDone = nil, nil
	v.mu.Unlock()
}

func (v *View) beginExchange() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = true
	v.acc.Reset()
	v.assistantIndex = -1
	v.exchangeID = ""
	v.unclaimed = make(map[string]*strings.Builder)
}

// claimExchange records the ID of the running exchange and merges the
// subscription tokens that arrived for it before the ID was known.
func (v *View) claimExchange(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.active || id == "" || v.exchangeID != "" {
		return
	}
	v.exchangeID = id
	buffered, ok := v.unclaimed[id]
	v.unclaimed = nil
	if ok && buffered.Len() > 0 {
		v.acc.WriteString(buffered.String())
		v.writeAssistant(v.acc.String())
	}
}

// mergeSubscribedToken merges a subscription token into the current
// exchange. The subscription carries the tokens of every client of the
// relay, so tokens tagged with another exchange are dropped.
func (v *View) mergeSubscribedToken(ev models.StreamEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.active {
		return
	}

	switch {
	case ev.ExchangeID == "" || ev.ExchangeID == v.exchangeID:
		v.acc.WriteString(ev.Text)
		v.writeAssistant(v.acc.String())
	case v.exchangeID == "":
		buf, ok := v.unclaimed[ev.ExchangeID]
		if !ok {
			buf = &strings.Builder{}
			v.unclaimed[ev.ExchangeID] = buf
		}
		buf.WriteString(ev.Text)
	}
}

// mergeToken appends text to the accumulator and writes it into the
// assistant entry of the current exchange, creating it on the first token.
func (v *View) mergeToken(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.active {
		return
	}

	v.acc.WriteString(text)
	v.writeAssistant(v.acc.String())
}

func (v *View) finish(text string) {
	v.mu.Lock()
	v.active = false
	v.unclaimed = nil
	v.writeAssistant(text)
	v.mu.Unlock()

	v.store.SetPendingInput("")
	v.store.SetLoading(false)
}

func (v *View) fail() {
	v.mu.Lock()
	v.active = false
	v.unclaimed = nil
	v.mu.Unlock()

	v.store.AppendMessage(models.Message{Text: ApologyMessage, Role: models.RoleAssistant})
	v.syncHistory()
	v.store.SetPendingInput("")
	v.store.SetLoading(false)
}

// writeAssistant must be called with mu held.
func (v *View) writeAssistant(text string) {
	msg := models.Message{Text: text, Role: models.RoleAssistant}
	if v.assistantIndex < 0 {
		snap := v.store.AppendMessage(msg)
		v.assistantIndex = len(snap.Messages) - 1
	} else {
		v.store.ReplaceMessageAt(v.assistantIndex, msg)
	}
	v.syncHistory()
}

// syncHistory keeps the window at the last two transcript entries once
// there are at least three, and empty before that.
func (v *View) syncHistory() {
	snap := v.store.Snapshot()
	window := HistoryWindow(snap.Messages)
	if equalWindows(window, snap.HistoryWindow) {
		return
	}
	v.store.SetHistoryWindow(window)
}

func HistoryWindow(messages []models.Message) []models.HistoryPair {
	n := len(messages)
	if n < 3 {
		return nil
	}
	return []models.HistoryPair{{messages[n-2].Text, messages[n-1].Text}}
}

func equalWindows(a, b []models.HistoryPair) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
