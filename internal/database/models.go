package database

import (
	"time"

	"github.com/dkarlsen/go-chatrelay/internal/types"
)

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Conversation struct {
	Id            int
	ExternalId    string
	Title         string
	OwnerId       int
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Message struct {
	Id             int
	Seq            int
	ConversationId int
	SenderId       int
	Role           types.Role
	Content        string
	ContentType    types.ContentType
	MediaUrl       string
	CreatedAt      time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateConversationParams struct {
	ExternalId string
	Title      string
	OwnerId    int
}

type CreateMessageParams struct {
	ConversationId int
	SenderId       int
	Role           types.Role
	Content        string
	ContentType    types.ContentType
	MediaUrl       string
}
