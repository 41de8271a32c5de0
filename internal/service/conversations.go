package service

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/dkarlsen/go-chatrelay/internal/database"
	"github.com/dkarlsen/go-chatrelay/internal/server"
	"github.com/dkarlsen/go-chatrelay/internal/types"
	"github.com/teris-io/shortid"
)

const defaultTitle = "New Chat"

var (
	// ErrNotFound covers both a missing conversation and one owned by
	// someone else; callers cannot tell the two apart.
	ErrNotFound = errors.New("conversation not found")

	ErrValidation = errors.New("invalid input")
)

// ConversationService is the ownership-scoped CRUD surface over
// conversations and their messages. Every operation takes the caller's
// identity and never crosses it.
type ConversationService struct {
	log        *log.Logger
	db         database.ChatRepository
	registry   *server.RoomRegistry
	generateId func() (string, error)
}

func NewConversationService(logger *log.Logger, db database.ChatRepository, registry *server.RoomRegistry) *ConversationService {
	return &ConversationService{
		log:        logger,
		db:         db,
		registry:   registry,
		generateId: shortid.Generate,
	}
}

func (s *ConversationService) List(ownerId int) ([]types.Conversation, error) {
	dbConvs, err := s.db.ListConversations(ownerId)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	conversations := make([]types.Conversation, 0, len(dbConvs))
	for _, c := range dbConvs {
		conversations = append(conversations, toWireConversation(c))
	}

	return conversations, nil
}

func (s *ConversationService) Create(ownerId int, title string) (types.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}

	externalId, err := s.generateId()
	if err != nil {
		return types.Conversation{}, fmt.Errorf("generate conversation id: %w", err)
	}

	conv, err := s.db.CreateConversation(database.CreateConversationParams{
		ExternalId: externalId,
		Title:      title,
		OwnerId:    ownerId,
	})
	if err != nil {
		return types.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	return toWireConversation(conv), nil
}

func (s *ConversationService) Rename(ownerId int, conversationId, title string) (types.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return types.Conversation{}, ErrValidation
	}

	conv, err := s.getOwned(ownerId, conversationId)
	if err != nil {
		return types.Conversation{}, err
	}

	renamed, err := s.db.RenameConversation(conv.Id, title)
	if err != nil {
		return types.Conversation{}, fmt.Errorf("rename conversation: %w", err)
	}

	return toWireConversation(renamed), nil
}

// Delete removes a conversation and all its messages, unloads the live room
// and notifies any remaining members.
func (s *ConversationService) Delete(ownerId int, conversationId string) error {
	conv, err := s.getOwned(ownerId, conversationId)
	if err != nil {
		return err
	}

	if err := s.db.DeleteConversation(conv.Id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	s.registry.Broadcast(conv.ExternalId, server.NewConversationDeletedMessage(conv.ExternalId))
	s.registry.DropRoom(conv.ExternalId)

	return nil
}

func (s *ConversationService) ListMessages(ownerId int, conversationId string) ([]types.Message, error) {
	conv, err := s.getOwned(ownerId, conversationId)
	if err != nil {
		return nil, err
	}

	dbMsgs, err := s.db.ListMessages(conv.Id)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]types.Message, 0, len(dbMsgs))
	for _, m := range dbMsgs {
		messages = append(messages, types.Message{
			Id:             m.Id,
			Seq:            m.Seq,
			ConversationId: conv.ExternalId,
			SenderId:       m.SenderId,
			Role:           m.Role,
			Content:        m.Content,
			ContentType:    m.ContentType,
			MediaUrl:       m.MediaUrl,
			CreatedAt:      m.CreatedAt,
		})
	}

	return messages, nil
}

func (s *ConversationService) getOwned(ownerId int, conversationId string) (database.Conversation, error) {
	conv, err := s.db.GetConversationByExternalId(conversationId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Conversation{}, ErrNotFound
		}
		return database.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}

	if conv.OwnerId != ownerId {
		return database.Conversation{}, ErrNotFound
	}

	return conv, nil
}

func toWireConversation(c database.Conversation) types.Conversation {
	return types.Conversation{
		Id:            c.ExternalId,
		Title:         c.Title,
		OwnerId:       c.OwnerId,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}
