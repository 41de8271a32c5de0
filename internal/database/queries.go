package database

import (
	"database/sql"
	"fmt"
	"time"
)

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, username, email, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		now,
		now,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgChatRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO conversations (external_id, title, owner_id, last_message_at, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) "+
			"RETURNING id, external_id, title, owner_id, last_message_at, created_at, updated_at",
		params.ExternalId,
		params.Title,
		params.OwnerId,
		now,
		now,
		now,
	)

	var c Conversation
	err := res.Scan(
		&c.Id,
		&c.ExternalId,
		&c.Title,
		&c.OwnerId,
		&c.LastMessageAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	return c, err
}

func (db *PgChatRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, title, owner_id, last_message_at, created_at, updated_at "+
			"FROM conversations WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var c Conversation
	err := row.Scan(
		&c.Id,
		&c.ExternalId,
		&c.Title,
		&c.OwnerId,
		&c.LastMessageAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	return c, err
}

func (db *PgChatRepository) ListConversations(ownerId int) ([]Conversation, error) {
	rows, err := db.conn.Query(
		"SELECT id, external_id, title, owner_id, last_message_at, created_at, updated_at "+
			"FROM conversations WHERE owner_id = $1 ORDER BY last_message_at DESC",
		ownerId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(
			&c.Id,
			&c.ExternalId,
			&c.Title,
			&c.OwnerId,
			&c.LastMessageAt,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, err
		}

		conversations = append(conversations, c)
	}

	return conversations, rows.Err()
}

func (db *PgChatRepository) RenameConversation(conversationId int, title string) (Conversation, error) {
	res := db.conn.QueryRow(
		"UPDATE conversations SET title = $2, updated_at = $3 WHERE id = $1 "+
			"RETURNING id, external_id, title, owner_id, last_message_at, created_at, updated_at",
		conversationId,
		title,
		time.Now().UTC(),
	)

	var c Conversation
	err := res.Scan(
		&c.Id,
		&c.ExternalId,
		&c.Title,
		&c.OwnerId,
		&c.LastMessageAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	return c, err
}

// DeleteConversation removes a conversation and all its messages in one
// transaction. Messages go first so a failed delete can never orphan them.
func (db *PgChatRepository) DeleteConversation(conversationId int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM messages WHERE conversation_id = $1", conversationId)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM conversations WHERE id = $1", conversationId)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// TouchConversation advances the activity timestamp. GREATEST keeps the
// column monotonic when bumps from concurrent appends land out of order.
func (db *PgChatRepository) TouchConversation(conversationId int, at time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE conversations SET last_message_at = GREATEST(last_message_at, $2), updated_at = $2 "+
			"WHERE id = $1",
		conversationId,
		at.UTC(),
	)

	return err
}

// CreateMessage appends a message, assigning its per-conversation sequence
// number at write time. The parent row is locked so concurrent appends to the
// same conversation serialize on the sequence assignment.
func (db *PgChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var convId int
	err = tx.QueryRow(
		"SELECT id FROM conversations WHERE id = $1 FOR UPDATE",
		params.ConversationId,
	).Scan(&convId)
	if err != nil {
		if err == sql.ErrNoRows {
			return Message{}, fmt.Errorf("conversation %d not found", params.ConversationId)
		}
		return Message{}, err
	}

	res := tx.QueryRow(
		"INSERT INTO messages (conversation_id, seq, sender_id, role, content, content_type, media_url, created_at) "+
			"VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = $1), $2, $3, $4, $5, $6, $7) "+
			"RETURNING id, seq, conversation_id, sender_id, role, content, content_type, COALESCE(media_url, ''), created_at",
		params.ConversationId,
		params.SenderId,
		params.Role,
		params.Content,
		params.ContentType,
		nullString(params.MediaUrl),
		time.Now().UTC(),
	)

	var m Message
	err = res.Scan(
		&m.Id,
		&m.Seq,
		&m.ConversationId,
		&m.SenderId,
		&m.Role,
		&m.Content,
		&m.ContentType,
		&m.MediaUrl,
		&m.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return m, nil
}

func (db *PgChatRepository) ListMessages(conversationId int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, seq, conversation_id, sender_id, role, content, content_type, COALESCE(media_url, ''), created_at "+
			"FROM messages WHERE conversation_id = $1 ORDER BY seq ASC",
		conversationId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.Id,
			&m.Seq,
			&m.ConversationId,
			&m.SenderId,
			&m.Role,
			&m.Content,
			&m.ContentType,
			&m.MediaUrl,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}

		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
