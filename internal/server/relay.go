package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/dkarlsen/go-chatrelay/internal/database"
	"github.com/dkarlsen/go-chatrelay/internal/generator"
	"github.com/dkarlsen/go-chatrelay/internal/stats"
	"github.com/dkarlsen/go-chatrelay/internal/types"
)

const generationFailedNotice = "The assistant is temporarily unavailable. Try again later."

// RelayEngine runs the message-send flow: authorize, persist the user
// message, broadcast it, signal typing, request a reply, persist and
// broadcast the reply, clear typing. Failures are converted to a scoped
// error on the originating connection; they never cross conversations.
type RelayEngine struct {
	log        *log.Logger
	db         database.ChatRepository
	registry   *RoomRegistry
	gen        generator.ReplyGenerator
	stats      stats.StatsProvider
	genTimeout time.Duration
}

func NewRelayEngine(logger *log.Logger, db database.ChatRepository, registry *RoomRegistry, gen generator.ReplyGenerator, statsProvider stats.StatsProvider, genTimeout time.Duration) *RelayEngine {
	return &RelayEngine{
		log:        logger,
		db:         db,
		registry:   registry,
		gen:        gen,
		stats:      statsProvider,
		genTimeout: genTimeout,
	}
}

// HandleJoin verifies ownership before subscribing the connection. A
// conversation that does not exist and one owned by someone else produce the
// same error.
func (e *RelayEngine) HandleJoin(c *Client, msg *ClientMessage) {
	if msg.Join.ConversationId == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	conv, err := e.db.GetConversationByExternalId(msg.Join.ConversationId)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			e.log.Println("GetConversationByExternalId:", err)
			c.queueMessage(ErrInternalError(msg.Id))
			return
		}
		c.queueMessage(ErrConversationNotFound(msg.Id))
		return
	}

	if conv.OwnerId != c.user.Id {
		c.queueMessage(ErrConversationNotFound(msg.Id))
		return
	}

	e.registry.Join(c, conv.ExternalId)
	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"conversation": conversationToWire(conv),
	}))
}

func (e *RelayEngine) HandleLeave(c *Client, msg *ClientMessage) {
	if msg.Leave.ConversationId == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	e.registry.Leave(c, msg.Leave.ConversationId)
	c.queueMessage(NoErrOK(msg.Id, nil))
}

// RelayTyping forwards a member's typing state to the other members of a
// room the connection has actually joined.
func (e *RelayEngine) RelayTyping(c *Client, conversationId string, stop bool) {
	if conversationId == "" || !e.registry.IsMember(c, conversationId) {
		return
	}

	if stop {
		e.registry.BroadcastExcept(c, conversationId, NewStopTypingMessage(conversationId))
	} else {
		e.registry.BroadcastExcept(c, conversationId, NewTypingMessage(conversationId))
	}
}

// RelayUserMessage is the entry point of the send flow. Persistence and the
// user-message broadcast happen synchronously in the caller's event order;
// only reply generation runs in a spawned task so the connection keeps
// servicing other events during the external call.
func (e *RelayEngine) RelayUserMessage(c *Client, msg *ClientMessage) {
	p := msg.Send

	content := strings.TrimSpace(p.Content)
	if p.ConversationId == "" || (content == "" && p.MediaUrl == "") {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	// the payload's sender must match the identity bound to the connection
	if p.SenderId != c.user.Id {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	contentType, ok := parseContentType(p.ContentType)
	if !ok {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	conv, err := e.db.GetConversationByExternalId(p.ConversationId)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			e.log.Println("GetConversationByExternalId:", err)
			c.queueMessage(ErrInternalError(msg.Id))
			return
		}
		c.queueMessage(ErrConversationNotFound(msg.Id))
		return
	}
	if conv.OwnerId != c.user.Id {
		c.queueMessage(ErrConversationNotFound(msg.Id))
		return
	}

	userMsg, err := e.db.CreateMessage(database.CreateMessageParams{
		ConversationId: conv.Id,
		SenderId:       c.user.Id,
		Role:           types.RoleUser,
		Content:        content,
		ContentType:    contentType,
		MediaUrl:       p.MediaUrl,
	})
	if err != nil {
		e.log.Println("CreateMessage:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrAccepted(msg.Id))

	// persisted before broadcast: anyone re-fetching history sees every
	// message that was ever broadcast
	e.registry.Broadcast(conv.ExternalId, NewReceiveMessage(messageToWire(userMsg, conv.ExternalId)))
	e.stats.Incr(stats.MessagesRelayed)

	// activity bump is not awaited before generation starts
	go e.touchActivity(conv.Id, userMsg.CreatedAt)

	e.registry.BroadcastExcept(c, conv.ExternalId, NewTypingMessage(conv.ExternalId))

	go e.generateReply(c, conv, content)
}

// generateReply makes exactly one generation attempt. The typing indicator
// is cleared on every outcome before any notice or reply is sent. The
// originating connection going away does not cancel the attempt: the reply
// is still persisted and broadcast to remaining members.
func (e *RelayEngine) generateReply(c *Client, conv database.Conversation, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.genTimeout)
	defer cancel()

	reply, err := e.gen.Generate(ctx, prompt)

	e.registry.BroadcastExcept(c, conv.ExternalId, NewStopTypingMessage(conv.ExternalId))

	if err != nil {
		e.stats.Incr(stats.GenerationFailures)
		e.log.Printf("generate reply for conversation %q: %v", conv.ExternalId, err)
		c.queueMessage(NewErrorMessage(generationFailedNotice))
		return
	}

	// assistant messages are attributed to the conversation owner; the role
	// is the discriminant
	replyMsg, err := e.db.CreateMessage(database.CreateMessageParams{
		ConversationId: conv.Id,
		SenderId:       conv.OwnerId,
		Role:           types.RoleAssistant,
		Content:        reply,
		ContentType:    types.ContentTypeText,
	})
	if err != nil {
		e.log.Println("CreateMessage (assistant):", err)
		c.queueMessage(NewErrorMessage("Failed to save assistant reply."))
		return
	}

	e.registry.Broadcast(conv.ExternalId, NewReceiveMessage(messageToWire(replyMsg, conv.ExternalId)))
	e.stats.Incr(stats.RepliesGenerated)

	e.touchActivity(conv.Id, replyMsg.CreatedAt)
}

func (e *RelayEngine) touchActivity(conversationId int, at time.Time) {
	if err := e.db.TouchConversation(conversationId, at); err != nil {
		e.log.Println("TouchConversation:", err)
	}
}

func parseContentType(s string) (types.ContentType, bool) {
	switch types.ContentType(s) {
	case "":
		return types.ContentTypeText, true
	case types.ContentTypeText, types.ContentTypeImage, types.ContentTypeVideo:
		return types.ContentType(s), true
	default:
		return "", false
	}
}

func conversationToWire(c database.Conversation) types.Conversation {
	return types.Conversation{
		Id:            c.ExternalId,
		Title:         c.Title,
		OwnerId:       c.OwnerId,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func messageToWire(m database.Message, conversationExternalId string) *types.Message {
	return &types.Message{
		Id:             m.Id,
		Seq:            m.Seq,
		ConversationId: conversationExternalId,
		SenderId:       m.SenderId,
		Role:           m.Role,
		Content:        m.Content,
		ContentType:    m.ContentType,
		MediaUrl:       m.MediaUrl,
		CreatedAt:      m.CreatedAt,
	}
}
