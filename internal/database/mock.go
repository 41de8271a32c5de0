package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	args := m.Called(params)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockChatRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	args := m.Called(externalId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockChatRepository) ListConversations(ownerId int) ([]Conversation, error) {
	args := m.Called(ownerId)
	return args.Get(0).([]Conversation), args.Error(1)
}
func (m *MockChatRepository) RenameConversation(conversationId int, title string) (Conversation, error) {
	args := m.Called(conversationId, title)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockChatRepository) DeleteConversation(conversationId int) error {
	args := m.Called(conversationId)
	return args.Error(0)
}
func (m *MockChatRepository) TouchConversation(conversationId int, at time.Time) error {
	args := m.Called(conversationId, at)
	return args.Error(0)
}
func (m *MockChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) ListMessages(conversationId int) ([]Message, error) {
	args := m.Called(conversationId)
	return args.Get(0).([]Message), args.Error(1)
}
