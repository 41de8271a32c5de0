package server

import (
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/dkarlsen/go-chatrelay/internal/database"
	"github.com/dkarlsen/go-chatrelay/internal/generator"
	"github.com/dkarlsen/go-chatrelay/internal/stats"
	"github.com/dkarlsen/go-chatrelay/internal/testutil"
	"github.com/dkarlsen/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestEngine(t *testing.T, db database.ChatRepository, gen generator.ReplyGenerator) (*RelayEngine, *RoomRegistry) {
	ms := &stats.MockStatsUpdater{}
	ms.On("Incr", mock.Anything).Maybe()
	ms.On("Decr", mock.Anything).Maybe()

	registry := NewRoomRegistry(testutil.TestLogger(t), ms)
	engine := NewRelayEngine(testutil.TestLogger(t), db, registry, gen, ms, time.Second)
	return engine, registry
}

// recvMessage waits for the next queued message on a client's send channel.
func recvMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("expected no message, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func testConversation(ownerId int) database.Conversation {
	return database.Conversation{
		Id:         7,
		ExternalId: "conv-a",
		Title:      "New Chat",
		OwnerId:    ownerId,
	}
}

func userMessageMatcher(role types.Role) any {
	return mock.MatchedBy(func(p database.CreateMessageParams) bool {
		return p.Role == role
	})
}

func TestRelayUserMessage_success(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockGen := &generator.MockReplyGenerator{}
	defer mockRepo.AssertExpectations(t)
	defer mockGen.AssertExpectations(t)

	conv := testConversation(1)
	userMsg := database.Message{Id: 1, Seq: 1, ConversationId: conv.Id, SenderId: 1, Role: types.RoleUser, Content: "hi", ContentType: types.ContentTypeText, CreatedAt: Now()}
	replyMsg := database.Message{Id: 2, Seq: 2, ConversationId: conv.Id, SenderId: 1, Role: types.RoleAssistant, Content: "hello there", ContentType: types.ContentTypeText, CreatedAt: Now()}

	mockRepo.On("GetConversationByExternalId", "conv-a").Return(conv, nil).Once()
	mockRepo.On("CreateMessage", userMessageMatcher(types.RoleUser)).Return(userMsg, nil).Once()
	mockRepo.On("CreateMessage", userMessageMatcher(types.RoleAssistant)).Return(replyMsg, nil).Once()
	mockRepo.On("TouchConversation", conv.Id, mock.Anything).Return(nil).Maybe()
	mockGen.On("Generate", mock.Anything, "hi").Return("hello there", nil).Once()

	engine, registry := newTestEngine(t, mockRepo, mockGen)
	sender := newTestClient(t, 1)
	other := newTestClient(t, 1)
	registry.Join(sender, "conv-a")
	registry.Join(other, "conv-a")

	engine.RelayUserMessage(sender, &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Send: &SendMessage{
			ConversationId: "conv-a",
			SenderId:       1,
			Content:        "hi",
		},
	})

	// sender: ack, user-message echo, then the assistant reply
	ack := recvMessage(t, sender)
	assert.NotNil(t, ack.Response, "expected an ack response")
	assert.Equal(t, http.StatusAccepted, ack.Response.ResponseCode, "expected accepted ack")

	echo := recvMessage(t, sender)
	assert.NotNil(t, echo.Message, "expected the user message echo")
	assert.Equal(t, types.RoleUser, echo.Message.Role, "expected user role on echo")
	assert.Equal(t, "hi", echo.Message.Content, "expected echoed content")
	assert.Equal(t, "conv-a", echo.Message.ConversationId, "expected external conversation id on the wire")

	reply := recvMessage(t, sender)
	assert.NotNil(t, reply.Message, "expected the assistant reply")
	assert.Equal(t, types.RoleAssistant, reply.Message.Role, "expected assistant role on reply")
	assert.Equal(t, "hello there", reply.Message.Content, "expected generated content")
	assertNoMessage(t, sender)

	// other member: user message, typing, stop typing, reply
	got := recvMessage(t, other)
	assert.NotNil(t, got.Message, "expected other member to receive the user message")

	typing := recvMessage(t, other)
	assert.NotNil(t, typing.Typing, "expected typing indicator for other member")

	stop := recvMessage(t, other)
	assert.NotNil(t, stop.StopTyping, "expected stop typing before the reply")

	otherReply := recvMessage(t, other)
	assert.NotNil(t, otherReply.Message, "expected other member to receive the reply")
	assert.Equal(t, types.RoleAssistant, otherReply.Message.Role, "expected assistant role")
	assertNoMessage(t, other)
}

func TestRelayUserMessage_validation(t *testing.T) {
	tcases := []struct {
		name string
		send *SendMessage
	}{
		{
			name: "missing conversation id",
			send: &SendMessage{SenderId: 1, Content: "hi"},
		},
		{
			name: "empty content without media",
			send: &SendMessage{ConversationId: "conv-a", SenderId: 1, Content: "   "},
		},
		{
			name: "spoofed sender id",
			send: &SendMessage{ConversationId: "conv-a", SenderId: 99, Content: "hi"},
		},
		{
			name: "unknown content type",
			send: &SendMessage{ConversationId: "conv-a", SenderId: 1, Content: "hi", ContentType: "audio"},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			mockGen := &generator.MockReplyGenerator{}

			engine, registry := newTestEngine(t, mockRepo, mockGen)
			c := newTestClient(t, 1)
			registry.Join(c, "conv-a")

			engine.RelayUserMessage(c, &ClientMessage{BaseMessage: BaseMessage{Id: 3}, Send: tc.send})

			resp := recvMessage(t, c)
			assert.NotNil(t, resp.Response, "expected an error response")
			assert.Equal(t, http.StatusBadRequest, resp.Response.ResponseCode, "expected bad request")

			// fail fast, no writes
			mockRepo.AssertNotCalled(t, "CreateMessage", mock.Anything)
			mockGen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
		})
	}
}

func TestRelayUserMessage_mediaOnly(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockGen := &generator.MockReplyGenerator{}

	conv := testConversation(1)
	userMsg := database.Message{Id: 1, Seq: 1, ConversationId: conv.Id, SenderId: 1, Role: types.RoleUser, ContentType: types.ContentTypeImage, MediaUrl: "https://cdn.example.com/pic.png", CreatedAt: Now()}

	mockRepo.On("GetConversationByExternalId", "conv-a").Return(conv, nil).Once()
	mockRepo.On("CreateMessage", userMessageMatcher(types.RoleUser)).Return(userMsg, nil).Once()
	mockRepo.On("CreateMessage", userMessageMatcher(types.RoleAssistant)).Return(database.Message{Id: 2, Role: types.RoleAssistant}, nil).Once()
	mockRepo.On("TouchConversation", conv.Id, mock.Anything).Return(nil).Maybe()
	mockGen.On("Generate", mock.Anything, "").Return("nice picture", nil).Once()

	engine, registry := newTestEngine(t, mockRepo, mockGen)
	c := newTestClient(t, 1)
	registry.Join(c, "conv-a")

	engine.RelayUserMessage(c, &ClientMessage{
		Send: &SendMessage{
			ConversationId: "conv-a",
			SenderId:       1,
			ContentType:    "image",
			MediaUrl:       "https://cdn.example.com/pic.png",
		},
	})

	ack := recvMessage(t, c)
	assert.NotNil(t, ack.Response, "expected an ack for a media-only message")
	assert.Equal(t, http.StatusAccepted, ack.Response.ResponseCode, "expected accepted ack")
}

func TestRelayUserMessage_notOwner(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockGen := &generator.MockReplyGenerator{}
	defer mockRepo.AssertExpectations(t)

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
			mockConv: testConversation(42),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo.On("GetConversationByExternalId", "conv-a").Return(tc.mockConv, tc.mockErr).Once()

			engine, registry := newTestEngine(t, mockRepo, mockGen)
			c := newTestClient(t, 1)
			registry.Join(c, "conv-a")

			engine.RelayUserMessage(c, &ClientMessage{
				BaseMessage: BaseMessage{Id: 2},
				Send:        &SendMessage{ConversationId: "conv-a", SenderId: 1, Content: "hi"},
			})

			// absent and unowned produce the same error
			resp := recvMessage(t, c)
			assert.NotNil(t, resp.Response, "expected an error response")
			assert.Equal(t, http.StatusNotFound, resp.Response.ResponseCode, "expected not found")

			mockRepo.AssertNotCalled(t, "CreateMessage", mock.Anything)
		})
	}
}

func TestRelayUserMessage_generationFailure(t *testing.T) {
	for _, kind := range []generator.FailureKind{
		generator.KindUnconfigured,
		generator.KindRateLimited,
		generator.KindOverloaded,
		generator.KindNetwork,
		generator.KindUnknown,
	} {
		t.Run(string(kind), func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			mockGen := &generator.MockReplyGenerator{}
			defer mockRepo.AssertExpectations(t)
			defer mockGen.AssertExpectations(t)

			conv := testConversation(1)
			userMsg := database.Message{Id: 1, Seq: 1, ConversationId: conv.Id, SenderId: 1, Role: types.RoleUser, Content: "hi", ContentType: types.ContentTypeText, CreatedAt: Now()}

			mockRepo.On("GetConversationByExternalId", "conv-a").Return(conv, nil).Once()
			mockRepo.On("CreateMessage", userMessageMatcher(types.RoleUser)).Return(userMsg, nil).Once()
			mockRepo.On("TouchConversation", conv.Id, mock.Anything).Return(nil).Maybe()
			mockGen.On("Generate", mock.Anything, "hi").Return("", &generator.Error{Kind: kind, Err: errors.New("provider error")}).Once()

			engine, registry := newTestEngine(t, mockRepo, mockGen)
			sender := newTestClient(t, 1)
			other := newTestClient(t, 1)
			registry.Join(sender, "conv-a")
			registry.Join(other, "conv-a")

			engine.RelayUserMessage(sender, &ClientMessage{
				BaseMessage: BaseMessage{Id: 1},
				Send:        &SendMessage{ConversationId: "conv-a", SenderId: 1, Content: "hi"},
			})

			// the user's own message was persisted and broadcast before the failure
			ack := recvMessage(t, sender)
			assert.NotNil(t, ack.Response, "expected an ack")

			echo := recvMessage(t, sender)
			assert.NotNil(t, echo.Message, "expected the user message to be broadcast despite the failure")

			// a transient notice, never an assistant message
			notice := recvMessage(t, sender)
			assert.NotNil(t, notice.Error, "expected a user-visible error notice")
			assert.Equal(t, generationFailedNotice, notice.Error.Message, "expected the generic notice")
			assertNoMessage(t, sender)

			// typing cleared exactly once for the other member
			got := recvMessage(t, other)
			assert.NotNil(t, got.Message, "expected the user message")
			typing := recvMessage(t, other)
			assert.NotNil(t, typing.Typing, "expected typing indicator")
			stop := recvMessage(t, other)
			assert.NotNil(t, stop.StopTyping, "expected typing to be cleared on failure")
			assertNoMessage(t, other)

			mockRepo.AssertNotCalled(t, "CreateMessage", userMessageMatcher(types.RoleAssistant))
		})
	}
}

func TestRelayUserMessage_storageFailure(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	mockGen := &generator.MockReplyGenerator{}
	defer mockRepo.AssertExpectations(t)

	conv := testConversation(1)
	mockRepo.On("GetConversationByExternalId", "conv-a").Return(conv, nil).Once()
	mockRepo.On("CreateMessage", mock.Anything).Return(database.Message{}, errors.New("db down")).Once()

	engine, registry := newTestEngine(t, mockRepo, mockGen)
	c := newTestClient(t, 1)
	registry.Join(c, "conv-a")

	engine.RelayUserMessage(c, &ClientMessage{
		BaseMessage: BaseMessage{Id: 5},
		Send:        &SendMessage{ConversationId: "conv-a", SenderId: 1, Content: "hi"},
	})

	// generic failure to the caller, no broadcast, no generation
	resp := recvMessage(t, c)
	assert.NotNil(t, resp.Response, "expected an error response")
	assert.Equal(t, http.StatusInternalServerError, resp.Response.ResponseCode, "expected internal error")
	assertNoMessage(t, c)

	mockGen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestHandleJoin(t *testing.T) {
	tcases := []struct {
		name         string
		mockConv     database.Conversation
		mockErr      error
		expectedCode int
		joined       bool
	}{
		{
			name:         "owner joins",
			mockConv:     testConversation(1),
			expectedCode: http.StatusOK,
			joined:       true,
		},
		{
			name:         "conversation does not exist",
			mockErr:      sql.ErrNoRows,
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "conversation owned by someone else",
			mockConv:     testConversation(42),
			expectedCode: http.StatusNotFound,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("GetConversationByExternalId", "conv-a").Return(tc.mockConv, tc.mockErr).Once()

			engine, registry := newTestEngine(t, mockRepo, &generator.MockReplyGenerator{})
			c := newTestClient(t, 1)

			engine.HandleJoin(c, &ClientMessage{BaseMessage: BaseMessage{Id: 1}, Join: &Join{ConversationId: "conv-a"}})

			resp := recvMessage(t, c)
			assert.NotNil(t, resp.Response, "expected a response")
			assert.Equal(t, tc.expectedCode, resp.Response.ResponseCode, "expected response code to match")
			assert.Equal(t, tc.joined, registry.IsMember(c, "conv-a"), "expected membership to match")
		})
	}
}

func TestHandleJoin_emptyId(t *testing.T) {
	engine, _ := newTestEngine(t, &database.MockChatRepository{}, &generator.MockReplyGenerator{})
	c := newTestClient(t, 1)

	engine.HandleJoin(c, &ClientMessage{Join: &Join{}})

	resp := recvMessage(t, c)
	assert.Equal(t, http.StatusBadRequest, resp.Response.ResponseCode, "expected bad request for empty id")
}

func TestHandleLeave(t *testing.T) {
	engine, registry := newTestEngine(t, &database.MockChatRepository{}, &generator.MockReplyGenerator{})
	c := newTestClient(t, 1)
	registry.Join(c, "conv-a")

	engine.HandleLeave(c, &ClientMessage{BaseMessage: BaseMessage{Id: 2}, Leave: &Leave{ConversationId: "conv-a"}})

	resp := recvMessage(t, c)
	assert.Equal(t, http.StatusOK, resp.Response.ResponseCode, "expected ok response")
	assert.False(t, registry.IsMember(c, "conv-a"), "expected membership removed")

	// leaving a room never joined still acks
	engine.HandleLeave(c, &ClientMessage{BaseMessage: BaseMessage{Id: 3}, Leave: &Leave{ConversationId: "conv-b"}})
	resp = recvMessage(t, c)
	assert.Equal(t, http.StatusOK, resp.Response.ResponseCode, "expected ok response for non-joined room")
}

func TestRelayTyping(t *testing.T) {
	engine, registry := newTestEngine(t, &database.MockChatRepository{}, &generator.MockReplyGenerator{})
	sender := newTestClient(t, 1)
	other := newTestClient(t, 2)
	registry.Join(sender, "conv-a")
	registry.Join(other, "conv-a")

	engine.RelayTyping(sender, "conv-a", false)
	typing := recvMessage(t, other)
	assert.NotNil(t, typing.Typing, "expected typing forwarded to other member")
	assertNoMessage(t, sender)

	engine.RelayTyping(sender, "conv-a", true)
	stop := recvMessage(t, other)
	assert.NotNil(t, stop.StopTyping, "expected stop typing forwarded")

	// not a member of that room, nothing is forwarded
	engine.RelayTyping(sender, "conv-b", false)
	assertNoMessage(t, other)
}
