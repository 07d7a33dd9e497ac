package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/threadrun/internal/store"
)

const threadSelectCols = `id, organization_id, contact_name, contact_identifier, is_open, created_at, updated_at`

func (s *Store) GetThread(ctx context.Context, orgID string, threadID int64) (*store.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+threadSelectCols+` FROM threads WHERE id = $1 AND organization_id = $2`,
		threadID, orgID)
	t, err := scanThreadRow(row)
	if err != nil {
		return nil, notFoundIfNoRows(err, fmt.Sprintf("thread %d", threadID))
	}
	return t, nil
}

func (s *Store) CreateThread(ctx context.Context, t *store.Thread) error {
	now := time.Now().UTC()
	t.IsOpen = true
	t.CreatedAt = now
	t.UpdatedAt = now
	return s.db.QueryRowContext(ctx,
		`INSERT INTO threads (organization_id, contact_name, contact_identifier, is_open, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		t.OrganizationID, nilStr(t.ContactName), nilStr(t.ContactIdentifier), t.IsOpen, now, now,
	).Scan(&t.ID)
}

func (s *Store) CloseThread(ctx context.Context, orgID string, threadID int64) (*store.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE threads SET is_open = false, updated_at = $3
		 WHERE id = $1 AND organization_id = $2
		 RETURNING `+threadSelectCols,
		threadID, orgID, time.Now().UTC())
	t, err := scanThreadRow(row)
	if err != nil {
		return nil, notFoundIfNoRows(err, fmt.Sprintf("thread %d", threadID))
	}
	return t, nil
}

func scanThreadRow(row *sql.Row) (*store.Thread, error) {
	var t store.Thread
	var name, contact sql.NullString
	if err := row.Scan(&t.ID, &t.OrganizationID, &name, &contact, &t.IsOpen, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ContactName = derefStr(name)
	t.ContactIdentifier = derefStr(contact)
	return &t, nil
}
