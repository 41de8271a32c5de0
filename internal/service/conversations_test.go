package service

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/dkarlsen/go-chatrelay/internal/database"
	"github.com/dkarlsen/go-chatrelay/internal/server"
	"github.com/dkarlsen/go-chatrelay/internal/stats"
	"github.com/dkarlsen/go-chatrelay/internal/testutil"
	"github.com/dkarlsen/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestService(t *testing.T, db database.ChatRepository) (*ConversationService, *server.RoomRegistry) {
	ms := &stats.MockStatsUpdater{}
	ms.On("Incr", mock.Anything).Maybe()
	ms.On("Decr", mock.Anything).Maybe()

	registry := server.NewRoomRegistry(testutil.TestLogger(t), ms)
	svc := NewConversationService(testutil.TestLogger(t), db, registry)
	svc.generateId = func() (string, error) { return "conv-a", nil }
	return svc, registry
}

func dbConversation(ownerId int) database.Conversation {
	return database.Conversation{
		Id:            7,
		ExternalId:    "conv-a",
		Title:         "New Chat",
		OwnerId:       ownerId,
		LastMessageAt: time.Now(),
	}
}

func TestCreate(t *testing.T) {
	tcases := []struct {
		name          string
		title         string
		expectedTitle string
	}{
		{
			name:          "explicit title is trimmed",
			title:         "  Trip ideas  ",
			expectedTitle: "Trip ideas",
		},
		{
			name:          "empty title gets the default",
			title:         "",
			expectedTitle: "New Chat",
		},
		{
			name:          "whitespace title gets the default",
			title:         "   ",
			expectedTitle: "New Chat",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)

			mockRepo.On("CreateConversation", database.CreateConversationParams{
				ExternalId: "conv-a",
				Title:      tc.expectedTitle,
				OwnerId:    1,
			}).Return(database.Conversation{ExternalId: "conv-a", Title: tc.expectedTitle, OwnerId: 1}, nil).Once()

			svc, _ := newTestService(t, mockRepo)

			conv, err := svc.Create(1, tc.title)
			assert.Nil(t, err, "expected no error")
			assert.Equal(t, tc.expectedTitle, conv.Title, "expected title to match")
			assert.Equal(t, "conv-a", conv.Id, "expected the external id on the wire")
		})
	}
}

func TestList(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	defer mockRepo.AssertExpectations(t)

	mockRepo.On("ListConversations", 1).Return([]database.Conversation{
		dbConversation(1),
	}, nil).Once()

	svc, _ := newTestService(t, mockRepo)

	conversations, err := svc.List(1)
	assert.Nil(t, err, "expected no error")
	assert.Len(t, conversations, 1, "expected one conversation")
	assert.Equal(t, "conv-a", conversations[0].Id, "expected the external id")
}

func TestRename(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	defer mockRepo.AssertExpectations(t)

	mockRepo.On("GetConversationByExternalId", "conv-a").Return(dbConversation(1), nil).Once()
	mockRepo.On("RenameConversation", 7, "Weekend plans").Return(database.Conversation{
		Id: 7, ExternalId: "conv-a", Title: "Weekend plans", OwnerId: 1,
	}, nil).Once()

	svc, _ := newTestService(t, mockRepo)

	conv, err := svc.Rename(1, "conv-a", "  Weekend plans  ")
	assert.Nil(t, err, "expected no error")
	assert.Equal(t, "Weekend plans", conv.Title, "expected trimmed title")
}

func TestRename_emptyTitle(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	svc, _ := newTestService(t, mockRepo)

	_, err := svc.Rename(1, "conv-a", "   ")
	assert.True(t, errors.Is(err, ErrValidation), "expected a validation error")

	mockRepo.AssertNotCalled(t, "RenameConversation", mock.Anything, mock.Anything)
}

func TestOwnershipScoping(t *testing.T) {
	tcases := []struct {
		name     string
		mockConv database.Conversation
		mockErr  error
	}{
		{
			name:    "conversation does not exist",
			mockErr: sql.ErrNoRows,
		},
		{
			name:     "conversation owned by someone else",
			mockConv: dbConversation(42),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			mockRepo.On("GetConversationByExternalId", "conv-a").Return(tc.mockConv, tc.mockErr)

			svc, _ := newTestService(t, mockRepo)

			// both cases collapse to the same not-found error
			_, err := svc.Rename(1, "conv-a", "t")
			assert.True(t, errors.Is(err, ErrNotFound), "expected not found on rename")

			err = svc.Delete(1, "conv-a")
			assert.True(t, errors.Is(err, ErrNotFound), "expected not found on delete")

			_, err = svc.ListMessages(1, "conv-a")
			assert.True(t, errors.Is(err, ErrNotFound), "expected not found on list messages")
		})
	}
}

func TestDelete(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	defer mockRepo.AssertExpectations(t)

	mockRepo.On("GetConversationByExternalId", "conv-a").Return(dbConversation(1), nil).Once()
	mockRepo.On("DeleteConversation", 7).Return(nil).Once()

	svc, registry := newTestService(t, mockRepo)

	c := server.NewClient(types.User{Id: 1}, nil, nil, testutil.TestLogger(t))
	registry.Join(c, "conv-a")

	err := svc.Delete(1, "conv-a")
	assert.Nil(t, err, "expected no error")
	assert.False(t, registry.IsMember(c, "conv-a"), "expected the live room to be unloaded")
}

func TestDelete_storageFailure(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockRepo.On("GetConversationByExternalId", "conv-a").Return(dbConversation(1), nil).Once()
	mockRepo.On("DeleteConversation", 7).Return(errors.New("db down")).Once()

	svc, registry := newTestService(t, mockRepo)

	c := server.NewClient(types.User{Id: 1}, nil, nil, testutil.TestLogger(t))
	registry.Join(c, "conv-a")

	err := svc.Delete(1, "conv-a")
	assert.NotNil(t, err, "expected an error")

	// the room survives a failed delete
	assert.True(t, registry.IsMember(c, "conv-a"), "expected membership to be untouched")
}

func TestListMessages(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	defer mockRepo.AssertExpectations(t)

	mockRepo.On("GetConversationByExternalId", "conv-a").Return(dbConversation(1), nil).Once()
	mockRepo.On("ListMessages", 7).Return([]database.Message{
		{Id: 1, Seq: 1, ConversationId: 7, SenderId: 1, Role: types.RoleUser, Content: "hi", ContentType: types.ContentTypeText},
		{Id: 2, Seq: 2, ConversationId: 7, SenderId: 1, Role: types.RoleAssistant, Content: "hello", ContentType: types.ContentTypeText},
	}, nil).Once()

	svc, _ := newTestService(t, mockRepo)

	messages, err := svc.ListMessages(1, "conv-a")
	assert.Nil(t, err, "expected no error")
	assert.Len(t, messages, 2, "expected both messages")
	assert.Equal(t, 1, messages[0].Seq, "expected seq order preserved")
	assert.Equal(t, "conv-a", messages[0].ConversationId, "expected the external conversation id")
	assert.Equal(t, types.RoleAssistant, messages[1].Role, "expected the assistant role preserved")
}
