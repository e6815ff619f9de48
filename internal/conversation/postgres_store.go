package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const conversationColumns = `id, installation_id, repo_full_name, context_type, context_number, status, created_at, updated_at, metadata`

func (s *PostgresStore) GetOrCreate(ctx context.Context, key Key) (*Conversation, bool, error) {
	// The composite uniqueness constraint is the sole concurrency safety net:
	// concurrent first-events race on the insert, one wins, the rest fall
	// through to the re-read.
	row := s.db.QueryRowContext(ctx, `
        INSERT INTO conversations (id, installation_id, repo_full_name, context_type, context_number, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (installation_id, repo_full_name, context_type, context_number) DO NOTHING
        RETURNING `+conversationColumns,
		newID(), key.InstallationID, key.RepoFullName, string(key.ContextType), key.ContextNumber, string(StatusActive),
	)
	conv, err := scanConversation(row)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}

	// Insert hit the constraint; the row already exists.
	row = s.db.QueryRowContext(ctx, `
        SELECT `+conversationColumns+`
        FROM conversations
        WHERE installation_id = $1 AND repo_full_name = $2 AND context_type = $3 AND context_number = $4`,
		key.InstallationID, key.RepoFullName, string(key.ContextType), key.ContextNumber,
	)
	conv, err = scanConversation(row)
	if err != nil {
		return nil, false, fmt.Errorf("re-read conversation after conflict: %w", err)
	}
	return conv, false, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

func (s *PostgresStore) FindByContext(ctx context.Context, repoFullName string, contextNumber int) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT `+conversationColumns+`
        FROM conversations
        WHERE repo_full_name = $1 AND context_number = $2
        ORDER BY created_at DESC LIMIT 1`,
		repoFullName, contextNumber,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

// SetStatus does not enforce one-way transitions: a reopened issue resumes its
// archived conversation by moving back to active.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE conversations SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = newID()
	}
	var metaJSON []byte
	var err error
	if msg.Metadata != nil {
		metaJSON, err = json.Marshal(msg.Metadata)
		if err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
        INSERT INTO messages (id, conversation_id, role, content, author, event_tag, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, nullIfEmpty(msg.Author), nullIfEmpty(msg.EventTag), metaJSON,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, msg.ConversationID); err != nil {
		return fmt.Errorf("bump conversation: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	// Most recent N by insertion order, returned oldest first. Insertion order
	// is arrival order, which may differ from GitHub-side chronology for
	// out-of-order webhook deliveries; that is documented behavior.
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, conversation_id, role, content, COALESCE(author, ''), COALESCE(event_tag, ''), created_at, metadata
        FROM (
            SELECT * FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2
        ) recent
        ORDER BY created_at ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		var role string
		var metaJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Author, &m.EventTag, &m.CreatedAt, &metaJSON); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &m.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordAction(ctx context.Context, action *AgentAction) error {
	if action.ID == "" {
		action.ID = newID()
	}
	if action.Status == "" {
		action.Status = ActionPending
	}
	return s.db.QueryRowContext(ctx, `
        INSERT INTO agent_actions (id, conversation_id, action_type, action_data, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING created_at`,
		action.ID, action.ConversationID, action.ActionType, []byte(action.ActionData), string(action.Status),
	).Scan(&action.CreatedAt)
}

func (s *PostgresStore) FinishAction(ctx context.Context, actionID string, status ActionStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE agent_actions
        SET status = $1, completed_at = now(), error_message = $2
        WHERE id = $3`,
		string(status), nullIfEmpty(errorMessage), actionID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ActionsFor(ctx context.Context, conversationID string, limit int) ([]AgentAction, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, conversation_id, action_type, action_data, status, created_at, completed_at, COALESCE(error_message, '')
        FROM agent_actions
        WHERE conversation_id = $1
        ORDER BY created_at DESC
        LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]AgentAction, 0)
	for rows.Next() {
		var a AgentAction
		var status string
		var data []byte
		var completedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.ConversationID, &a.ActionType, &data, &status, &a.CreatedAt, &completedAt, &a.ErrorMessage); err != nil {
			return nil, err
		}
		a.ActionData = json.RawMessage(data)
		a.Status = ActionStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			a.CompletedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ActiveConversations(ctx context.Context, installationID int64, limit int) ([]Conversation, error) {
	query := `
        SELECT ` + conversationColumns + `,
               (SELECT COUNT(*) FROM messages WHERE conversation_id = c.id) AS message_count,
               (SELECT MAX(created_at) FROM messages WHERE conversation_id = c.id) AS last_message_at
        FROM conversations c
        WHERE c.status = 'active' AND ($1 = 0 OR c.installation_id = $1)
        ORDER BY c.updated_at DESC
        LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, installationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Conversation, 0)
	for rows.Next() {
		conv, err := scanConversationList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *conv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertInstallation(ctx context.Context, installationID int64, accountLogin, accountType string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO installations (id, account_login, account_type)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET account_login = $2, account_type = $3, updated_at = now()`,
		installationID, accountLogin, accountType,
	)
	return err
}

func (s *PostgresStore) DeleteInstallation(ctx context.Context, installationID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Messages and actions cascade from the conversations delete.
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE installation_id = $1`, installationID); err != nil {
		return fmt.Errorf("delete conversations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM installations WHERE id = $1`, installationID); err != nil {
		return fmt.Errorf("delete installation: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) CleanupOld(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM conversations
        WHERE status = 'archived' AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, err
	}
	removed, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `
        DELETE FROM agent_actions
        WHERE status = 'completed' AND completed_at < $1`,
		olderThan,
	); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.QueryRowContext(ctx, `
        SELECT
            (SELECT COUNT(*) FROM conversations WHERE status = 'active'),
            (SELECT COUNT(*) FROM conversations),
            (SELECT COUNT(*) FROM messages WHERE role = 'user'),
            (SELECT COUNT(*) FROM messages WHERE role = 'assistant'),
            (SELECT COUNT(*) FROM installations)`,
	).Scan(&stats.ActiveConversations, &stats.TotalConversations, &stats.UserMessages, &stats.BotMessages, &stats.TotalInstallations)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func scanConversation(row *sql.Row) (*Conversation, error) {
	var c Conversation
	var ctxType, status string
	var metaJSON sql.NullString
	err := row.Scan(&c.ID, &c.Key.InstallationID, &c.Key.RepoFullName, &ctxType, &c.Key.ContextNumber, &status, &c.CreatedAt, &c.UpdatedAt, &metaJSON)
	if err != nil {
		return nil, err
	}
	c.Key.ContextType = ContextType(ctxType)
	c.Status = Status(status)
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &c.Metadata); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func scanConversationList(rows *sql.Rows) (*Conversation, error) {
	var c Conversation
	var ctxType, status string
	var metaJSON sql.NullString
	var lastMessageAt sql.NullTime
	err := rows.Scan(&c.ID, &c.Key.InstallationID, &c.Key.RepoFullName, &ctxType, &c.Key.ContextNumber, &status, &c.CreatedAt, &c.UpdatedAt, &metaJSON, &c.MessageCount, &lastMessageAt)
	if err != nil {
		return nil, err
	}
	c.Key.ContextType = ContextType(ctxType)
	c.Status = Status(status)
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &c.Metadata); err != nil {
			return nil, err
		}
	}
	if lastMessageAt.Valid {
		t := lastMessageAt.Time
		c.LastMessageAt = &t
	}
	return &c, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
