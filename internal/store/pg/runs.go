package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nextlevelbuilder/threadrun/internal/store"
)

var activeRunStatuses = []string{string(store.RunStatusCreated), string(store.RunStatusRunning)}

func (s *Store) CreateRun(ctx context.Context, r *store.Run) error {
	now := time.Now().UTC()
	if r.Status == "" {
		r.Status = store.RunStatusCreated
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return s.db.QueryRowContext(ctx,
		`INSERT INTO runs (thread_id, organization_id, agent_version_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		r.ThreadID, r.OrganizationID, r.AgentVersionID, string(r.Status), now, now,
	).Scan(&r.ID)
}

func (s *Store) GetRun(ctx context.Context, orgID string, runID int64) (*store.Run, error) {
	var r store.Run
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, thread_id, organization_id, agent_version_id, status, created_at, updated_at
		 FROM runs WHERE id = $1 AND organization_id = $2`,
		runID, orgID,
	).Scan(&r.ID, &r.ThreadID, &r.OrganizationID, &r.AgentVersionID, &status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFoundIfNoRows(err, fmt.Sprintf("run %d", runID))
	}
	r.Status = store.RunStatus(status)
	return &r, nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, orgID string, runID int64, status store.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = $1, updated_at = $2
		 WHERE id = $3 AND organization_id = $4 AND status = ANY($5)`,
		string(status), time.Now().UTC(), runID, orgID, pq.Array(store.SourcesFor(status)))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %d -> %s: %w", runID, status, store.ErrInvalidTransition)
	}
	return nil
}

func (s *Store) ExpireRuns(ctx context.Context, orgID string, threadID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = $1, updated_at = $2
		 WHERE thread_id = $3 AND organization_id = $4 AND status = ANY($5)`,
		string(store.RunStatusExpired), time.Now().UTC(), threadID, orgID, pq.Array(activeRunStatuses))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) GetAgentVersionFromRun(ctx context.Context, orgID string, threadID int64) (string, error) {
	var slug string
	err := s.db.QueryRowContext(ctx,
		`SELECT v.slug FROM runs r
		 JOIN agent_versions v ON v.id = r.agent_version_id
		 WHERE r.thread_id = $1 AND r.organization_id = $2
		 ORDER BY r.created_at DESC, r.id DESC
		 LIMIT 1`,
		threadID, orgID,
	).Scan(&slug)
	if err != nil {
		return "", notFoundIfNoRows(err, fmt.Sprintf("agent version of thread %d", threadID))
	}
	return slug, nil
}
