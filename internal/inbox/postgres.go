package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omniboxhq/omnibox/internal/channel"
	dbpkg "github.com/omniboxhq/omnibox/internal/db"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// PostgresConversationStore implements ConversationStore on the shared pool.
type PostgresConversationStore struct {
	pool *pgxpool.Pool
}

// NewPostgresConversationStore creates a Postgres-backed conversation store.
func NewPostgresConversationStore(pool *pgxpool.Pool) *PostgresConversationStore {
	return &PostgresConversationStore{pool: pool}
}

const conversationColumns = `id, tenant_id, channel, external_contact_id, integration_id,
	contact, status, tags, notes, unread_count, last_message_at, last_message_from,
	created_at, updated_at`

// Resolve upserts on (tenant_id, channel, external_contact_id). The contact
// snapshot is merged with jsonb || so fields missing from the new snapshot
// never erase known ones: the profile is marshaled with omitempty, so blanks
// are simply absent from the right-hand side.
func (s *PostgresConversationStore) Resolve(ctx context.Context, params ResolveParams) (Conversation, error) {
	contact, err := json.Marshal(params.Contact)
	if err != nil {
		return Conversation{}, fmt.Errorf("marshal contact: %w", err)
	}

	var integrationID any
	if params.IntegrationID != uuid.Nil {
		integrationID = params.IntegrationID
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (tenant_id, channel, external_contact_id, integration_id, contact)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, channel, external_contact_id)
		DO UPDATE SET
			contact = conversations.contact || EXCLUDED.contact,
			updated_at = NOW()
		RETURNING `+conversationColumns,
		params.TenantID, params.Channel.String(), params.ExternalContactID, integrationID, contact,
	)
	conv, err := scanConversation(row)
	if err != nil {
		return Conversation{}, fmt.Errorf("resolve conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresConversationStore) Get(ctx context.Context, tenantID, conversationID uuid.UUID) (Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, conversationID,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresConversationStore) List(ctx context.Context, tenantID uuid.UUID, filter ConversationFilter) ([]Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE tenant_id = $1`
	args := []any{tenantID}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		query += fmt.Sprintf(" AND (contact->>'name' ILIKE $%d OR external_contact_id ILIKE $%d)", n, n)
	}

	query += " ORDER BY last_message_at DESC NULLS LAST, created_at DESC"
	args = append(args, pageLimit(filter.Limit))
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (s *PostgresConversationStore) OnInbound(ctx context.Context, conversationID uuid.UUID, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET unread_count = unread_count + 1,
			last_message_at = $2,
			last_message_from = 'contact',
			updated_at = NOW()
		WHERE id = $1`,
		conversationID, ts,
	)
	if err != nil {
		return fmt.Errorf("track inbound activity: %w", err)
	}
	return nil
}

func (s *PostgresConversationStore) OnOutbound(ctx context.Context, conversationID uuid.UUID, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = $2,
			last_message_from = 'user',
			updated_at = NOW()
		WHERE id = $1`,
		conversationID, ts,
	)
	if err != nil {
		return fmt.Errorf("track outbound activity: %w", err)
	}
	return nil
}

func (s *PostgresConversationStore) MarkRead(ctx context.Context, tenantID, conversationID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET unread_count = 0, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, conversationID,
	)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *PostgresConversationStore) UpdateStatus(ctx context.Context, tenantID, conversationID uuid.UUID, status ConversationStatus, tags []string, notes *string) (Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE conversations
		SET status = COALESCE(NULLIF($3, ''), status),
			tags = COALESCE($4, tags),
			notes = COALESCE($5, notes),
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+conversationColumns,
		tenantID, conversationID, string(status), tags, notes,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("update conversation status: %w", err)
	}
	return conv, nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		conv            Conversation
		channelName     string
		status          string
		contact         []byte
		lastMessageFrom *string
	)
	err := row.Scan(
		&conv.ID,
		&conv.TenantID,
		&channelName,
		&conv.ExternalContactID,
		&conv.IntegrationID,
		&contact,
		&status,
		&conv.Tags,
		&conv.Notes,
		&conv.UnreadCount,
		&conv.LastMessageAt,
		&lastMessageFrom,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, err
	}
	conv.Channel = channel.ChannelType(channelName)
	conv.Status = ConversationStatus(status)
	if lastMessageFrom != nil {
		conv.LastMessageFrom = *lastMessageFrom
	}
	if len(contact) > 0 {
		if err := json.Unmarshal(contact, &conv.Contact); err != nil {
			return Conversation{}, fmt.Errorf("decode contact: %w", err)
		}
	}
	return conv, nil
}

// PostgresMessageStore implements MessageStore on the shared pool.
type PostgresMessageStore struct {
	pool *pgxpool.Pool
}

// NewPostgresMessageStore creates a Postgres-backed message store.
func NewPostgresMessageStore(pool *pgxpool.Pool) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool}
}

const messageColumns = `id, tenant_id, conversation_id, channel, external_message_id,
	direction, content, participant, status, reply_to, metadata, original_timestamp, created_at`

// Append inserts the message, deduplicating on (tenant_id, channel,
// external_message_id). ON CONFLICT DO NOTHING makes a provider redelivery a
// silent no-op: created=false, no error, nothing written.
func (s *PostgresMessageStore) Append(ctx context.Context, params AppendParams) (UnifiedMessage, bool, error) {
	content, err := json.Marshal(params.Content)
	if err != nil {
		return UnifiedMessage{}, false, fmt.Errorf("marshal content: %w", err)
	}
	participant, err := json.Marshal(params.Participant)
	if err != nil {
		return UnifiedMessage{}, false, fmt.Errorf("marshal participant: %w", err)
	}
	metadata, err := json.Marshal(dbpkg.NonNilMap(params.Metadata))
	if err != nil {
		return UnifiedMessage{}, false, fmt.Errorf("marshal metadata: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (tenant_id, conversation_id, channel, external_message_id,
			direction, content, participant, status, reply_to, metadata, original_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, channel, external_message_id) DO NOTHING
		RETURNING `+messageColumns,
		params.TenantID, params.ConversationID, params.Channel.String(), params.ExternalMessageID,
		string(params.Direction), content, participant, string(params.Status), params.ReplyTo,
		metadata, params.OriginalTimestamp,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UnifiedMessage{}, false, nil
	}
	if err != nil {
		return UnifiedMessage{}, false, fmt.Errorf("append message: %w", err)
	}
	return msg, true, nil
}

func (s *PostgresMessageStore) List(ctx context.Context, tenantID, conversationID uuid.UUID, query MessageQuery) ([]UnifiedMessage, error) {
	sql := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE tenant_id = $1 AND conversation_id = $2`
	args := []any{tenantID, conversationID}

	if !query.Before.IsZero() {
		args = append(args, query.Before)
		sql += fmt.Sprintf(" AND original_timestamp < $%d", len(args))
	}

	// Conversation order is the provider's original timestamp, not arrival
	// order: cross-channel webhook delivery is not FIFO.
	sql += " ORDER BY original_timestamp ASC, created_at ASC"
	args = append(args, pageLimit(query.Limit))
	sql += fmt.Sprintf(" LIMIT $%d", len(args))
	if query.Offset > 0 {
		args = append(args, query.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []UnifiedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *PostgresMessageStore) LastInbound(ctx context.Context, tenantID, conversationID uuid.UUID) (UnifiedMessage, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE tenant_id = $1 AND conversation_id = $2 AND direction = 'inbound'
		ORDER BY original_timestamp DESC
		LIMIT 1`,
		tenantID, conversationID,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UnifiedMessage{}, ErrConversationNotFound
	}
	if err != nil {
		return UnifiedMessage{}, fmt.Errorf("last inbound message: %w", err)
	}
	return msg, nil
}

// ApplyStatus honors forward-only delivery transitions in one statement:
// sent -> delivered -> read, and failed from anywhere but failed. Receipts
// arriving out of order or for unknown ids change nothing. The CASE ranking
// is the SQL form of channel.MessageStatus.AllowsTransition.
func (s *PostgresMessageStore) ApplyStatus(ctx context.Context, tenantID uuid.UUID, channelType channel.ChannelType, externalMessageID string, status channel.MessageStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET status = $4
		WHERE tenant_id = $1 AND channel = $2 AND external_message_id = $3
		  AND (
			($4 = 'failed' AND status <> 'failed')
			OR (
			  CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END
			  < CASE $4 WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END
			)
		  )`,
		tenantID, channelType.String(), externalMessageID, string(status))
	if err != nil {
		return fmt.Errorf("apply message status: %w", err)
	}
	return nil
}

func scanMessage(row pgx.Row) (UnifiedMessage, error) {
	var (
		msg         UnifiedMessage
		channelName string
		direction   string
		status      string
		content     []byte
		participant []byte
		metadata    []byte
	)
	err := row.Scan(
		&msg.ID,
		&msg.TenantID,
		&msg.ConversationID,
		&channelName,
		&msg.ExternalMessageID,
		&direction,
		&content,
		&participant,
		&status,
		&msg.ReplyTo,
		&metadata,
		&msg.OriginalTimestamp,
		&msg.CreatedAt,
	)
	if err != nil {
		return UnifiedMessage{}, err
	}
	msg.Channel = channel.ChannelType(channelName)
	msg.Direction = Direction(direction)
	msg.Status = channel.MessageStatus(status)
	if len(content) > 0 {
		if err := json.Unmarshal(content, &msg.Content); err != nil {
			return UnifiedMessage{}, fmt.Errorf("decode content: %w", err)
		}
	}
	if len(participant) > 0 {
		if err := json.Unmarshal(participant, &msg.Participant); err != nil {
			return UnifiedMessage{}, fmt.Errorf("decode participant: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return UnifiedMessage{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(msg.Metadata) == 0 {
		msg.Metadata = nil
	}
	return msg, nil
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
