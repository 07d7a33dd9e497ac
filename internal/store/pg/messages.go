package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/threadrun/internal/store"
)

const messageSelectCols = `m.id, m.thread_id, m.message_type, m.content, m.created_at, m.tool_call_id, m.tool_call_name, m.run_status`

func (s *Store) AddMessage(ctx context.Context, m *store.Message) error {
	if !m.Type.Valid() {
		return fmt.Errorf("add message: unknown message type %q", m.Type)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	content, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("encode message content: %w", err)
	}
	return s.db.QueryRowContext(ctx,
		`INSERT INTO messages (thread_id, message_type, content, created_at, tool_call_id, tool_call_name, run_status, is_valid)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, true)
		 RETURNING id`,
		m.ThreadID, string(m.Type), content, m.CreatedAt,
		nilStr(m.ToolCallID), nilStr(m.ToolCallName), nilStr(string(m.RunStatus)),
	).Scan(&m.ID)
}

func (s *Store) RemoveMessage(ctx context.Context, orgID string, threadID, messageID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_valid = false
		 WHERE id = $1 AND thread_id = $2
		   AND thread_id IN (SELECT id FROM threads WHERE organization_id = $3)`,
		messageID, threadID, orgID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %d: %w", messageID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) GetValidThreadMessages(ctx context.Context, orgID string, threadID int64) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageSelectCols+`
		 FROM messages m
		 JOIN threads t ON t.id = m.thread_id
		 WHERE m.thread_id = $1 AND t.organization_id = $2 AND m.is_valid
		 ORDER BY m.created_at, m.id`,
		threadID, orgID)
	if err != nil {
		return nil, err
	}
	return scanMessageRows(rows)
}

func (s *Store) GetRecentHistory(ctx context.Context, orgID, contactIdentifier string, since time.Time) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageSelectCols+`
		 FROM messages m
		 JOIN threads t ON t.id = m.thread_id
		 WHERE t.organization_id = $1 AND t.contact_identifier = $2
		   AND m.is_valid AND m.created_at >= $3
		 ORDER BY m.created_at, m.id`,
		orgID, contactIdentifier, since)
	if err != nil {
		return nil, err
	}
	return scanMessageRows(rows)
}

func scanMessageRows(rows *sql.Rows) ([]store.Message, error) {
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		var msgType string
		var content []byte
		var toolCallID, toolCallName, runStatus sql.NullString
		if err := rows.Scan(&m.ID, &m.ThreadID, &msgType, &content, &m.CreatedAt,
			&toolCallID, &toolCallName, &runStatus); err != nil {
			return nil, err
		}
		if len(content) > 0 {
			if err := json.Unmarshal(content, &m.Content); err != nil {
				return nil, fmt.Errorf("decode content of message %d: %w", m.ID, err)
			}
		}
		m.Type = store.MessageType(msgType)
		m.ToolCallID = derefStr(toolCallID)
		m.ToolCallName = derefStr(toolCallName)
		m.RunStatus = store.RunStatus(derefStr(runStatus))
		out = append(out, m)
	}
	return out, rows.Err()
}
