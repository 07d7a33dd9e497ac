package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/threadrun/internal/store"
)

// Each LLM adapter is fetched as one JSON object so a missing join scans as NULL.
const agentSettingsQuery = `
	SELECT s.id, s.version_id, s.delay, s.hide_tool_messages, s.include_last_24h_history,
	       s.mcp_url, s.mcp_headers,
	       row_to_json(core), row_to_json(cond), row_to_json(vis), row_to_json(emb)
	FROM agent_settings s
	JOIN agent_versions v ON v.id = s.version_id
	LEFT JOIN llm_adapters core ON core.id = s.core_llm_id
	LEFT JOIN llm_adapters cond ON cond.id = s.condense_llm_id
	LEFT JOIN llm_adapters vis ON vis.id = s.vision_llm_id
	LEFT JOIN llm_adapters emb ON emb.id = s.embeddings_id
	WHERE v.organization_id = $1 AND v.slug = $2`

func (s *Store) GetAgentSettings(ctx context.Context, orgID, agentVersion string) (*store.AgentSettings, error) {
	var as store.AgentSettings
	var mcpURL sql.NullString
	var mcpHeaders, core, cond, vis, emb []byte
	err := s.db.QueryRowContext(ctx, agentSettingsQuery, orgID, agentVersion).Scan(
		&as.ID, &as.VersionID, &as.Delay, &as.HideToolMessages, &as.IncludeLast24hHistory,
		&mcpURL, &mcpHeaders, &core, &cond, &vis, &emb,
	)
	if err != nil {
		return nil, notFoundIfNoRows(err, fmt.Sprintf("agent settings for version %q", agentVersion))
	}

	for _, adapter := range []struct {
		raw []byte
		dst **store.LLMSettings
	}{
		{core, &as.CoreLLM},
		{cond, &as.CondenseLLM},
		{vis, &as.VisionLLM},
		{emb, &as.Embeddings},
	} {
		if len(adapter.raw) == 0 {
			continue
		}
		var llm store.LLMSettings
		if err := json.Unmarshal(adapter.raw, &llm); err != nil {
			return nil, fmt.Errorf("decode llm adapter: %w", err)
		}
		*adapter.dst = &llm
	}

	if url := derefStr(mcpURL); url != "" {
		as.MCP = &store.MCPParams{URL: url}
		if len(mcpHeaders) > 0 {
			if err := json.Unmarshal(mcpHeaders, &as.MCP.Headers); err != nil {
				return nil, fmt.Errorf("decode mcp headers: %w", err)
			}
		}
	}
	return &as, nil
}

func (s *Store) GetBehaviourParts(ctx context.Context, versionID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM behaviour_parts
		 WHERE version_id = $1 AND content <> ''
		 ORDER BY position, id`,
		versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		parts = append(parts, c)
	}
	return parts, rows.Err()
}
