package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type LoginResponse struct {
	Token string    `json:"token"`
	User  LoginUser `json:"user"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

type HealthResponse struct {
	Status    string  `json:"status"`
	Timestamp float64 `json:"timestamp"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatMessage MessageType = "chat_message"
	TypeChatReply   MessageType = "chat_reply"
	TypeErrorEvent  MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatMessage is a client websocket frame carrying one user message.
type ChatMessage struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Message   string      `json:"message"`
}

type ChatReply struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Reply     string      `json:"reply"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Error     string      `json:"error"`
	Retryable bool        `json:"retryable"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
