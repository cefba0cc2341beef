package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the chat transcript.
type Message struct {
	Text string `json:"text"`
	Role Role   `json:"role"`
}

// HistoryPair is a (question, answer) pair sent back to the provider as
// short-term context. It encodes as a two element JSON array.
type HistoryPair [2]string

func (p HistoryPair) Question() string { return p[0] }
func (p HistoryPair) Answer() string   { return p[1] }

// ChatRequest is the body accepted by POST /api/chat.
type ChatRequest struct {
	Question string        `json:"question"`
	History  []HistoryPair `json:"history"`
}

// StreamEvent is a single token frame relayed to the client.
type StreamEvent struct {
	ID         string    `json:"id,omitempty"`
	ExchangeID string    `json:"exchange_id,omitempty"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// HeartbeatEvent is emitted by GET /api/stream.
type HeartbeatEvent struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatResult is the terminal frame of a successful relay.
type ChatResult struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Model  string `json:"model"`
	Tokens int    `json:"tokens"`
}

type ErrorResult struct {
	Error string `json:"error"`
}

// Exchange is a row of the operator exchange log.
type Exchange struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Status    int       `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
