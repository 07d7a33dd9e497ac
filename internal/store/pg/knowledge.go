package pg

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/threadrun/internal/store"
)

const knowledgeSearchQuery = `
	SELECT id, source, content, 1 - (embedding <=> $1::vector) AS score
	FROM knowledge_chunks
	WHERE organization_id = $2 AND version_id = $3
	  AND 1 - (embedding <=> $1::vector) >= $4
	ORDER BY embedding <=> $1::vector
	LIMIT $5`

func (s *Store) SearchKnowledge(ctx context.Context, q store.KnowledgeQuery) ([]store.KnowledgeChunk, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}
	rows, err := s.db.QueryContext(ctx, knowledgeSearchQuery,
		encodeEmbedding(q.Embedding), q.OrganizationID, q.VersionID, q.Threshold, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.KnowledgeChunk
	for rows.Next() {
		var c store.KnowledgeChunk
		var source sql.NullString
		if err := rows.Scan(&c.ID, &source, &c.Content, &c.Score); err != nil {
			return nil, err
		}
		c.Source = derefStr(source)
		out = append(out, c)
	}
	return out, rows.Err()
}

// encodeEmbedding renders v in pgvector's text input format.
func encodeEmbedding(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

var _ store.KnowledgeStore = (*Store)(nil)
