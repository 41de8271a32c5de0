package server

import (
	"net/http"
	"time"

	"github.com/dkarlsen/go-chatrelay/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the tagged union of events a connection may send. Exactly
// one of the pointer fields is set.
type ClientMessage struct {
	BaseMessage
	Join       *Join        `json:"join,omitempty"`
	Leave      *Leave       `json:"leave,omitempty"`
	Send       *SendMessage `json:"send_message,omitempty"`
	Typing     *Typing      `json:"typing,omitempty"`
	StopTyping *Typing      `json:"stop_typing,omitempty"`
	client     *Client
}

type Join struct {
	ConversationId string `json:"conversation_id"`
}

type Leave struct {
	ConversationId string `json:"conversation_id"`
}

type SendMessage struct {
	ConversationId string `json:"conversation_id"`
	SenderId       int    `json:"sender_id"`
	Content        string `json:"content"`
	ContentType    string `json:"content_type,omitempty"`
	MediaUrl       string `json:"media_url,omitempty"`
}

type Typing struct {
	ConversationId string `json:"conversation_id"`
}

// ServerMessage is the tagged union of events delivered to connections.
type ServerMessage struct {
	BaseMessage
	Response            *Response            `json:"response,omitempty"`
	Message             *types.Message       `json:"message,omitempty"`
	Typing              *Typing              `json:"typing,omitempty"`
	StopTyping          *Typing              `json:"stop_typing,omitempty"`
	Error               *ErrorMessage        `json:"error,omitempty"`
	ConversationDeleted *ConversationDeleted `json:"conversation_deleted,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// ErrorMessage is a user-visible notice scoped to the originating
// connection. It never carries storage or provider detail.
type ErrorMessage struct {
	Message string `json:"message"`
}

type ConversationDeleted struct {
	ConversationId string `json:"conversation_id"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrConversationNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "conversation not found",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func NewErrorMessage(text string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Error: &ErrorMessage{Message: text},
	}
}

func NewReceiveMessage(msg *types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Message: msg,
	}
}

func NewTypingMessage(conversationId string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Typing: &Typing{ConversationId: conversationId},
	}
}

func NewStopTypingMessage(conversationId string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		StopTyping: &Typing{ConversationId: conversationId},
	}
}

func NewConversationDeletedMessage(conversationId string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		ConversationDeleted: &ConversationDeleted{ConversationId: conversationId},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
