package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotSender       = errors.New("only the sender may modify the message")
)

const messageColumns = `id, sender_id, receiver_id, group_id, text, image_url, audio_url,
    document_url, document_name, reply_to_id, forward_of_id, seen, edited,
    deleted_for, cleared_by, created_at`

// MessageRepository abstracts message persistence for peer and group chats.
type MessageRepository interface {
	CreatePeerMessage(ctx context.Context, senderID, receiverID int64, in models.MessageInput) (models.Message, error)
	CreateGroupMessage(ctx context.Context, senderID, groupID int64, in models.MessageInput) (models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	PeerConversation(ctx context.Context, viewerID, peerID int64) ([]models.Message, error)
	GroupConversation(ctx context.Context, viewerID, groupID int64) ([]models.Message, error)
	MarkSeen(ctx context.Context, messageID int64) error
	MarkPeerConversationSeen(ctx context.Context, viewerID, peerID int64) ([]int64, error)
	CountUnseenByPeer(ctx context.Context, viewerID int64) (map[int64]int, error)
	EditMessage(ctx context.Context, messageID, senderID int64, text string) (models.Message, error)
	DeletePeerConversationFor(ctx context.Context, viewerID, peerID int64) error
	ClearConversationFor(ctx context.Context, viewerID int64, key models.ConversationKey) error
}

// MessageRepo is a sqlx-backed implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreatePeerMessage stores a one-to-one message and returns it with its id.
func (r *MessageRepo) CreatePeerMessage(ctx context.Context, senderID, receiverID int64, in models.MessageInput) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages
        (sender_id, receiver_id, text, image_url, audio_url, document_url, document_name, reply_to_id, forward_of_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING `+messageColumns,
		senderID, receiverID, in.Text, in.ImageURL, in.AudioURL, in.DocumentURL, in.DocumentName, in.ReplyToID, in.ForwardOfID).
		StructScan(&msg)
	return msg, err
}

// CreateGroupMessage stores a group message and returns it with its id.
func (r *MessageRepo) CreateGroupMessage(ctx context.Context, senderID, groupID int64, in models.MessageInput) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages
        (sender_id, group_id, text, image_url, audio_url, document_url, document_name, reply_to_id, forward_of_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING `+messageColumns,
		senderID, groupID, in.Text, in.ImageURL, in.AudioURL, in.DocumentURL, in.DocumentName, in.ReplyToID, in.ForwardOfID).
		StructScan(&msg)
	return msg, err
}

// GetMessage fetches a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// PeerConversation returns the ordered conversation between viewer and peer,
// excluding messages the viewer has deleted or cleared.
func (r *MessageRepo) PeerConversation(ctx context.Context, viewerID, peerID int64) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE ((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))
        AND NOT ($1 = ANY(deleted_for)) AND NOT ($1 = ANY(cleared_by))
        ORDER BY created_at ASC, id ASC`, viewerID, peerID)
	return msgs, err
}

// GroupConversation returns the ordered group conversation filtered for the viewer.
func (r *MessageRepo) GroupConversation(ctx context.Context, viewerID, groupID int64) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE group_id=$2
        AND NOT ($1 = ANY(deleted_for)) AND NOT ($1 = ANY(cleared_by))
        ORDER BY created_at ASC, id ASC`, viewerID, groupID)
	return msgs, err
}

// MarkSeen flags a single message seen.
func (r *MessageRepo) MarkSeen(ctx context.Context, messageID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET seen = TRUE WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkPeerConversationSeen flags every unseen message sent by peer to viewer
// and returns the affected message ids.
func (r *MessageRepo) MarkPeerConversationSeen(ctx context.Context, viewerID, peerID int64) ([]int64, error) {
	rows, err := r.db.QueryxContext(ctx, `UPDATE messages SET seen = TRUE
        WHERE sender_id=$2 AND receiver_id=$1 AND seen = FALSE
        RETURNING id`, viewerID, peerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountUnseenByPeer returns, per sending peer, how many messages addressed to
// the viewer are still unseen.
func (r *MessageRepo) CountUnseenByPeer(ctx context.Context, viewerID int64) (map[int64]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT sender_id, COUNT(*) FROM messages
        WHERE receiver_id=$1 AND seen = FALSE
        AND NOT ($1 = ANY(deleted_for)) AND NOT ($1 = ANY(cleared_by))
        GROUP BY sender_id`, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[int64]int{}
	for rows.Next() {
		var senderID int64
		var count int
		if err := rows.Scan(&senderID, &count); err != nil {
			return nil, err
		}
		counts[senderID] = count
	}
	return counts, rows.Err()
}

// EditMessage replaces the text of a message. Only the original sender may edit.
func (r *MessageRepo) EditMessage(ctx context.Context, messageID, senderID int64, text string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET text=$3, edited = TRUE
        WHERE id=$1 AND sender_id=$2
        RETURNING `+messageColumns, messageID, senderID, text).
		StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetMessage(ctx, messageID); getErr != nil {
			return models.Message{}, getErr
		}
		return models.Message{}, ErrNotSender
	}
	return msg, err
}

// DeletePeerConversationFor soft-deletes the whole peer conversation for one viewer.
func (r *MessageRepo) DeletePeerConversationFor(ctx context.Context, viewerID, peerID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted_for = array_append(deleted_for, $1)
        WHERE ((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))
        AND NOT ($1 = ANY(deleted_for))`, viewerID, peerID)
	return err
}

// ClearConversationFor hides every current message of a conversation for the viewer.
func (r *MessageRepo) ClearConversationFor(ctx context.Context, viewerID int64, key models.ConversationKey) error {
	if groupID, ok := key.GroupID(); ok {
		_, err := r.db.ExecContext(ctx, `UPDATE messages SET cleared_by = array_append(cleared_by, $1)
            WHERE group_id=$2 AND NOT ($1 = ANY(cleared_by))`, viewerID, groupID)
		return err
	}
	peerID, _ := key.PeerID()
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET cleared_by = array_append(cleared_by, $1)
        WHERE ((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))
        AND NOT ($1 = ANY(cleared_by))`, viewerID, peerID)
	return err
}
