package database

import "time"

// ChatRepository is the persistence surface consumed by the relay engine,
// the conversation service and the HTTP handlers. Message and conversation
// positions (seq, created_at) are assigned at write time by the store, so
// concurrent writers to one conversation each get a well-defined slot.
type ChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateConversation(params CreateConversationParams) (Conversation, error)
	GetConversationByExternalId(externalId string) (Conversation, error)
	ListConversations(ownerId int) ([]Conversation, error)
	RenameConversation(conversationId int, title string) (Conversation, error)
	DeleteConversation(conversationId int) error
	TouchConversation(conversationId int, at time.Time) error
	CreateMessage(params CreateMessageParams) (Message, error)
	ListMessages(conversationId int) ([]Message, error)
}
