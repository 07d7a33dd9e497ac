package retriever

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/threadrun/internal/agent"
	"github.com/nextlevelbuilder/threadrun/internal/providers"
	"github.com/nextlevelbuilder/threadrun/internal/store"
)

type echoLLM struct {
	reply string
	last  providers.ChatRequest
}

func (e *echoLLM) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	e.last = req
	return &providers.ChatResponse{Content: e.reply}, nil
}

func (e *echoLLM) DefaultModel() string { return "gpt-test" }
func (e *echoLLM) Name() string         { return "openai" }

type fixedEmbedder struct {
	vec   []float32
	texts []string
}

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.texts = append(f.texts, texts...)
	return [][]float32{f.vec}, nil
}

type stubFactory struct {
	llm      *echoLLM
	embedder *fixedEmbedder
	chatFor  *store.LLMSettings
}

func (s *stubFactory) Chat(_ context.Context, ls *store.LLMSettings) (providers.Provider, error) {
	s.chatFor = ls
	return s.llm, nil
}

func (s *stubFactory) Embedder(context.Context, *store.LLMSettings) (providers.Embedder, error) {
	return s.embedder, nil
}

type stubKnowledge struct {
	chunks []store.KnowledgeChunk
	err    error
	got    store.KnowledgeQuery
}

func (s *stubKnowledge) SearchKnowledge(_ context.Context, q store.KnowledgeQuery) ([]store.KnowledgeChunk, error) {
	s.got = q
	return s.chunks, s.err
}

func settings() *store.AgentSettings {
	return &store.AgentSettings{
		VersionID:  4,
		CoreLLM:    &store.LLMSettings{Provider: "openai", Name: "gpt-4o"},
		Embeddings: &store.LLMSettings{Provider: "openai", Name: "text-embedding-3-small"},
	}
}

func conversation() []providers.Message {
	return []providers.Message{
		{Role: providers.RoleUser, Content: "do you ship to Norway?"},
		{Role: providers.RoleAssistant, Content: "Yes we do."},
		{Role: providers.RoleUser, Content: "how long does it take?"},
	}
}

func TestRetrieve(t *testing.T) {
	f := &stubFactory{llm: &echoLLM{reply: " How long does shipping to Norway take? "}, embedder: &fixedEmbedder{vec: []float32{0.1, 0.2}}}
	ks := &stubKnowledge{chunks: []store.KnowledgeChunk{
		{ID: 1, Content: "Shipping to Norway takes 3 days."},
		{ID: 2, Content: "  "},
		{ID: 3, Content: "Express shipping is available."},
	}}
	r := New(ks, f, Config{TopK: 3, Threshold: 0.5})

	got, err := r.Retrieve(context.Background(), Request{
		Settings:     settings(),
		Conversation: conversation(),
		Session:      agent.NewSession(9, "c-1", "v1", "org-1"),
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if want := "Shipping to Norway takes 3 days.\n\nExpress shipping is available."; got != want {
		t.Errorf("context = %q, want %q", got, want)
	}
	if len(f.embedder.texts) != 1 || f.embedder.texts[0] != "How long does shipping to Norway take?" {
		t.Errorf("embedded %q", f.embedder.texts)
	}
	if ks.got.OrganizationID != "org-1" || ks.got.VersionID != 4 || ks.got.TopK != 3 || ks.got.Threshold != 0.5 {
		t.Errorf("query = %+v", ks.got)
	}
	if f.chatFor.Name != "gpt-4o" {
		t.Errorf("condense model = %q, want core model fallback", f.chatFor.Name)
	}

	sys := f.llm.last.Messages[0].Content
	if !strings.Contains(sys, "A: do you ship to Norway?") || !strings.Contains(sys, "B: Yes we do.") {
		t.Errorf("condense prompt lacks history:\n%s", sys)
	}
	if strings.Contains(sys, "A: how long does it take?") || !strings.Contains(sys, "how long does it take?") {
		t.Errorf("follow up should appear without its label:\n%s", sys)
	}
}

func TestRetrievePrefersCondenseModel(t *testing.T) {
	f := &stubFactory{llm: &echoLLM{reply: "q"}, embedder: &fixedEmbedder{vec: []float32{1}}}
	s := settings()
	s.CondenseLLM = &store.LLMSettings{Provider: "openai", Name: "gpt-4o-mini"}

	if _, err := New(&stubKnowledge{}, f, Config{}).Retrieve(context.Background(), Request{Settings: s, Conversation: conversation()}); err != nil {
		t.Fatal(err)
	}
	if f.chatFor.Name != "gpt-4o-mini" {
		t.Errorf("condense model = %q, want gpt-4o-mini", f.chatFor.Name)
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	f := &stubFactory{llm: &echoLLM{reply: "   "}, embedder: &fixedEmbedder{vec: []float32{1}}}
	ks := &stubKnowledge{err: errors.New("must not be called")}

	got, err := New(ks, f, Config{}).Retrieve(context.Background(), Request{Settings: settings(), Conversation: conversation()})
	if err != nil || got != "" {
		t.Fatalf("got %q, %v; want empty context", got, err)
	}
	if len(f.embedder.texts) != 0 {
		t.Errorf("embedder called with %q", f.embedder.texts)
	}
}

func TestRetrieveErrors(t *testing.T) {
	f := &stubFactory{llm: &echoLLM{reply: "q"}, embedder: &fixedEmbedder{vec: []float32{1}}}

	s := settings()
	s.Embeddings = nil
	if _, err := New(&stubKnowledge{}, f, Config{}).Retrieve(context.Background(), Request{Settings: s}); err == nil {
		t.Error("missing embeddings settings: want error")
	}

	boom := errors.New("db down")
	_, err := New(&stubKnowledge{err: boom}, f, Config{}).Retrieve(context.Background(), Request{Settings: settings(), Conversation: conversation()})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
