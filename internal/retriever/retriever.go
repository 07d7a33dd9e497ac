// Package retriever finds knowledge base passages relevant to a conversation.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/threadrun/internal/agent"
	"github.com/nextlevelbuilder/threadrun/internal/providers"
	"github.com/nextlevelbuilder/threadrun/internal/store"
)

// Config tunes the similarity search.
type Config struct {
	TopK      int
	Threshold float64
}

// Request is the input of one retrieval.
type Request struct {
	Settings     *store.AgentSettings
	Conversation []providers.Message
	Formatter    *agent.Formatter
	Session      agent.Session
}

// Retriever condenses the conversation into a standalone query, embeds it and
// returns the closest knowledge chunks as one context block.
type Retriever struct {
	store   store.KnowledgeStore
	factory providers.Factory
	cfg     Config
}

func New(ks store.KnowledgeStore, factory providers.Factory, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Retriever{store: ks, factory: factory, cfg: cfg}
}

// Retrieve returns the context text for req. An empty string means nothing
// relevant was found.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (string, error) {
	if req.Settings == nil || req.Settings.Embeddings == nil {
		return "", errors.New("retriever: embeddings settings missing")
	}

	query, err := r.condense(ctx, req)
	if err != nil {
		return "", err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		slog.Debug("retriever.empty_query", "thread_id", req.Session.ThreadID)
		return "", nil
	}

	embedder, err := r.factory.Embedder(ctx, req.Settings.Embeddings)
	if err != nil {
		return "", fmt.Errorf("retriever: build embedder: %w", err)
	}
	vectors, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return "", fmt.Errorf("retriever: embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return "", errors.New("retriever: embedder returned no vector")
	}

	chunks, err := r.store.SearchKnowledge(ctx, store.KnowledgeQuery{
		OrganizationID: req.Session.OrganizationID,
		VersionID:      req.Settings.VersionID,
		Embedding:      vectors[0],
		TopK:           r.cfg.TopK,
		Threshold:      r.cfg.Threshold,
	})
	if err != nil {
		return "", fmt.Errorf("retriever: search: %w", err)
	}
	slog.Debug("retriever.sources", "thread_id", req.Session.ThreadID, "query", query, "chunks", len(chunks))
	return joinChunks(chunks), nil
}

// condense uses the condense model when configured, the core model otherwise.
func (r *Retriever) condense(ctx context.Context, req Request) (string, error) {
	settings := req.Settings.CondenseLLM
	if settings == nil {
		settings = req.Settings.CoreLLM
	}
	llm, err := r.factory.Chat(ctx, settings)
	if err != nil {
		return "", fmt.Errorf("retriever: build condense model: %w", err)
	}
	f := req.Formatter
	if f == nil {
		f = &agent.Formatter{}
	}
	return f.Condense(ctx, llm, req.Conversation)
}

func joinChunks(chunks []store.KnowledgeChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if text := strings.TrimSpace(c.Content); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}
