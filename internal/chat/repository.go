package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chitchat/internal/db"
)

// errDuplicatePair reports that another private conversation for the same
// unordered pair won the race at the storage layer. The service refetches.
var errDuplicatePair = errors.New("private conversation already exists for pair")

// Store is the durable home of conversations and messages. The Postgres
// Repository below is the real one; tests use an in-memory fake.
type Store interface {
	// FindConversationByPair returns the private conversation for the
	// unordered pair, or nil if none exists.
	FindConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error)
	// GetConversation returns nil (no error) when the id is unknown.
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// InsertConversation assigns the id and persists the conversation with
	// its participant set. Returns errDuplicatePair if the private pair_key
	// unique index rejects the row.
	InsertConversation(ctx context.Context, conv *Conversation) error
	// InsertMessage assigns the id and the server timestamp.
	InsertMessage(ctx context.Context, msg *Message) error
	UpdateConversationActivity(ctx context.Context, id string, ts time.Time) error
	// ListConversationsForUser is sorted by last_activity desc.
	ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error)
	// ListMessages is sorted oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	DeleteConversation(ctx context.Context, id string) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// storageErr folds a low-level failure into the taxonomy the service
// propagates. sql.ErrNoRows is handled before this is called.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

func (r *Repository) FindConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error) {
	conv := &Conversation{}
	query := `
		SELECT id, is_group, COALESCE(group_name, ''), last_activity
		FROM conversations
		WHERE pair_key = $1 AND NOT is_group
	`
	err := r.db.QueryRowContext(ctx, query, pairKey(userA, userB)).
		Scan(&conv.ID, &conv.IsGroup, &conv.GroupName, &conv.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find conversation by pair", err)
	}
	if err := r.loadParticipants(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *Repository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	conv := &Conversation{}
	query := `
		SELECT id, is_group, COALESCE(group_name, ''), last_activity
		FROM conversations
		WHERE id = $1
	`
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&conv.ID, &conv.IsGroup, &conv.GroupName, &conv.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get conversation", err)
	}
	if err := r.loadParticipants(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *Repository) InsertConversation(ctx context.Context, conv *Conversation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin insert conversation", err)
	}
	defer tx.Rollback()

	conv.ID = uuid.NewString()

	var key sql.NullString
	if !conv.IsGroup {
		key = sql.NullString{String: pairKey(conv.Participants[0], conv.Participants[1]), Valid: true}
	}

	query := `
		INSERT INTO conversations (id, is_group, group_name, pair_key)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING last_activity
	`
	err = tx.QueryRowContext(ctx, query, conv.ID, conv.IsGroup, conv.GroupName, key).
		Scan(&conv.LastActivity)
	if db.IsUniqueViolation(err) {
		return errDuplicatePair
	}
	if err != nil {
		return storageErr("insert conversation", err)
	}

	for pos, userID := range conv.Participants {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO participants (conversation_id, user_id, position) VALUES ($1, $2, $3)",
			conv.ID, userID, pos,
		)
		if err != nil {
			return storageErr("insert participant", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if db.IsUniqueViolation(err) {
			return errDuplicatePair
		}
		return storageErr("commit insert conversation", err)
	}
	return nil
}

func (r *Repository) InsertMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query, msg.ID, msg.ConversationID, msg.SenderID, msg.Text).
		Scan(&msg.CreatedAt)
	if err != nil {
		return storageErr("insert message", err)
	}
	return nil
}

func (r *Repository) UpdateConversationActivity(ctx context.Context, id string, ts time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE conversations SET last_activity = $2 WHERE id = $1", id, ts)
	if err != nil {
		return storageErr("update conversation activity", err)
	}
	return nil
}

func (r *Repository) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	query := `
		SELECT c.id, c.is_group, COALESCE(c.group_name, ''), c.last_activity
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.last_activity DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		if err := rows.Scan(&conv.ID, &conv.IsGroup, &conv.GroupName, &conv.LastActivity); err != nil {
			return nil, storageErr("scan conversation", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list conversations", err)
	}

	for _, conv := range convs {
		if err := r.loadParticipants(ctx, conv); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (r *Repository) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, storageErr("scan message", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list messages", err)
	}
	return msgs, nil
}

func (r *Repository) DeleteConversation(ctx context.Context, id string) error {
	// participants and messages cascade.
	_, err := r.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return storageErr("delete conversation", err)
	}
	return nil
}

func (r *Repository) loadParticipants(ctx context.Context, conv *Conversation) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT user_id FROM participants WHERE conversation_id = $1 ORDER BY position", conv.ID)
	if err != nil {
		return storageErr("load participants", err)
	}
	defer rows.Close()

	conv.Participants = conv.Participants[:0]
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return storageErr("scan participant", err)
		}
		conv.Participants = append(conv.Participants, userID)
	}
	if err := rows.Err(); err != nil {
		return storageErr("load participants", err)
	}
	return nil
}
