package types

import (
	"time"
)

// Role identifies the kind of sender a message is attributed to. The set is
// closed: transport payloads never dictate new values.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentType identifies the payload kind of a message.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeVideo ContentType = "video"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	Token        string    `json:"token,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Conversation is the wire representation of an owned message thread. Id is
// the external identifier used by clients; the database key never leaves the
// repository layer.
type Conversation struct {
	Id            string    `json:"id"`
	Title         string    `json:"title"`
	OwnerId       int       `json:"owner_id"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

type Message struct {
	Id             int         `json:"id"`
	Seq            int         `json:"seq"`
	ConversationId string      `json:"conversation_id"`
	SenderId       int         `json:"sender_id"`
	Role           Role        `json:"role"`
	Content        string      `json:"content"`
	ContentType    ContentType `json:"content_type"`
	MediaUrl       string      `json:"media_url,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
