package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/nextlevelbuilder/threadrun/internal/store"
)

func (s *Store) GetThreadSummaries(ctx context.Context, orgID, contactIdentifier string) ([]store.ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, organization_id, contact_identifier, content, created_at
		 FROM thread_summaries
		 WHERE organization_id = $1 AND contact_identifier = $2
		 ORDER BY created_at`,
		orgID, contactIdentifier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ThreadSummary
	for rows.Next() {
		var ts store.ThreadSummary
		var contact sql.NullString
		if err := rows.Scan(&ts.ID, &ts.ThreadID, &ts.OrganizationID, &contact, &ts.Content, &ts.CreatedAt); err != nil {
			return nil, err
		}
		ts.ContactIdentifier = derefStr(contact)
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *Store) AddThreadSummary(ctx context.Context, ts *store.ThreadSummary) error {
	ts.CreatedAt = time.Now().UTC()
	return s.db.QueryRowContext(ctx,
		`INSERT INTO thread_summaries (thread_id, organization_id, contact_identifier, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		ts.ThreadID, ts.OrganizationID, nilStr(ts.ContactIdentifier), ts.Content, ts.CreatedAt,
	).Scan(&ts.ID)
}

var _ store.Store = (*Store)(nil)
