package threads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/threadrun/internal/agent"
	"github.com/nextlevelbuilder/threadrun/internal/providers"
	"github.com/nextlevelbuilder/threadrun/internal/retriever"
	"github.com/nextlevelbuilder/threadrun/internal/store"
	"github.com/nextlevelbuilder/threadrun/pkg/protocol"
)

// memStore is an in-memory store.Store that enforces the run status graph.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	threads   map[int64]*store.Thread
	messages  []store.Message
	removed   map[int64]bool
	runs      map[int64]*store.Run
	settings  map[string]*store.AgentSettings
	behaviour []string
	summaries []store.ThreadSummary

	transitions []store.RunStatus
	recentCalls int
}

func newMemStore() *memStore {
	return &memStore{
		threads:  map[int64]*store.Thread{},
		removed:  map[int64]bool{},
		runs:     map[int64]*store.Run{},
		settings: map[string]*store.AgentSettings{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) GetThread(_ context.Context, orgID string, threadID int64) (*store.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || t.OrganizationID != orgID {
		return nil, fmt.Errorf("thread %d: %w", threadID, store.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) CreateThread(_ context.Context, t *store.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	t.IsOpen = true
	cp := *t
	s.threads[t.ID] = &cp
	return nil
}

func (s *memStore) CloseThread(_ context.Context, orgID string, threadID int64) (*store.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || t.OrganizationID != orgID {
		return nil, fmt.Errorf("thread %d: %w", threadID, store.ErrNotFound)
	}
	t.IsOpen = false
	cp := *t
	return &cp, nil
}

func (s *memStore) AddMessage(_ context.Context, m *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id()
	s.messages = append(s.messages, *m)
	return nil
}

func (s *memStore) RemoveMessage(_ context.Context, _ string, threadID, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == messageID && m.ThreadID == threadID {
			s.removed[messageID] = true
			return nil
		}
	}
	return fmt.Errorf("message %d: %w", messageID, store.ErrNotFound)
}

func (s *memStore) GetValidThreadMessages(_ context.Context, _ string, threadID int64) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Message
	for _, m := range s.messages {
		if m.ThreadID == threadID && !s.removed[m.ID] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) GetRecentHistory(_ context.Context, _ string, contact string, since time.Time) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentCalls++
	var out []store.Message
	for _, m := range s.messages {
		t := s.threads[m.ThreadID]
		if t != nil && t.ContactIdentifier == contact && !s.removed[m.ID] && !m.CreatedAt.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) GetThreadSummaries(_ context.Context, _ string, contact string) ([]store.ThreadSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ThreadSummary
	for _, ts := range s.summaries {
		if ts.ContactIdentifier == contact {
			out = append(out, ts)
		}
	}
	return out, nil
}

func (s *memStore) AddThreadSummary(_ context.Context, ts *store.ThreadSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts.ID = s.id()
	s.summaries = append(s.summaries, *ts)
	return nil
}

func (s *memStore) CreateRun(_ context.Context, r *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.id()
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *memStore) GetRun(_ context.Context, _ string, runID int64) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %d: %w", runID, store.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) UpdateRunStatus(_ context.Context, _ string, runID int64, status store.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %d: %w", runID, store.ErrNotFound)
	}
	if r.Status == status {
		return nil
	}
	if !r.Status.CanTransition(status) {
		return fmt.Errorf("run %d -> %s: %w", runID, status, store.ErrInvalidTransition)
	}
	r.Status = status
	s.transitions = append(s.transitions, status)
	return nil
}

func (s *memStore) ExpireRuns(_ context.Context, _ string, threadID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.runs {
		if r.ThreadID == threadID && r.Status.IsActive() {
			r.Status = store.RunStatusExpired
			s.transitions = append(s.transitions, store.RunStatusExpired)
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetAgentVersionFromRun(_ context.Context, _ string, threadID int64) (string, error) {
	return "", fmt.Errorf("agent version of thread %d: %w", threadID, store.ErrNotFound)
}

func (s *memStore) GetAgentSettings(_ context.Context, _ string, version string) (*store.AgentSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	as, ok := s.settings[version]
	if !ok {
		return nil, fmt.Errorf("agent settings %q: %w", version, store.ErrNotFound)
	}
	cp := *as
	return &cp, nil
}

func (s *memStore) GetBehaviourParts(context.Context, int64) ([]string, error) {
	return s.behaviour, nil
}

func (s *memStore) runStatus(runID int64) store.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[runID].Status
}

func (s *memStore) onlyRun() *store.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		cp := *r
		return &cp
	}
	return nil
}

// scriptedLLM answers call n with respond(n, req).
type scriptedLLM struct {
	mu       sync.Mutex
	requests []providers.ChatRequest
	respond  func(n int, req providers.ChatRequest) (*providers.ChatResponse, error)
}

func (l *scriptedLLM) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	l.mu.Lock()
	n := len(l.requests)
	l.requests = append(l.requests, req)
	l.mu.Unlock()
	return l.respond(n, req)
}

func (l *scriptedLLM) DefaultModel() string { return "gpt-test" }
func (l *scriptedLLM) Name() string         { return "openai" }

func (l *scriptedLLM) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

func replies(rs ...*providers.ChatResponse) func(int, providers.ChatRequest) (*providers.ChatResponse, error) {
	return func(n int, _ providers.ChatRequest) (*providers.ChatResponse, error) {
		if n >= len(rs) {
			n = len(rs) - 1
		}
		return rs[n], nil
	}
}

type llmFactory struct{ llm *scriptedLLM }

func (f llmFactory) Chat(context.Context, *store.LLMSettings) (providers.Provider, error) {
	return f.llm, nil
}

func (f llmFactory) Embedder(context.Context, *store.LLMSettings) (providers.Embedder, error) {
	return nil, fmt.Errorf("no embedder in tests")
}

type stubRetriever struct {
	text string
	got  retriever.Request
}

func (s *stubRetriever) Retrieve(_ context.Context, req retriever.Request) (string, error) {
	s.got = req
	return s.text, nil
}

// fakeSleep records requested delays; hook runs before the n-th (1-based) return.
type fakeSleep struct {
	delays []time.Duration
	hook   func(n int)
}

func (f *fakeSleep) sleep(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	if f.hook != nil {
		f.hook(len(f.delays))
	}
	return ctx.Err()
}

type fixture struct {
	store  *memStore
	llm    *scriptedLLM
	ret    *stubRetriever
	sleep  *fakeSleep
	m      *Manager
	thread *store.Thread
	events []protocol.RunEvent
}

const (
	testOrg     = "org-1"
	testVersion = "v1"
)

func newFixture(respond func(int, providers.ChatRequest) (*providers.ChatResponse, error)) *fixture {
	st := newMemStore()
	st.settings[testVersion] = &store.AgentSettings{
		ID:         1,
		VersionID:  10,
		CoreLLM:    &store.LLMSettings{Provider: "openai", Name: "gpt-4o"},
		Embeddings: &store.LLMSettings{Provider: "openai", Name: "text-embedding-3-small"},
	}
	st.behaviour = []string{"You are helpful.", "Be brief."}

	llm := &scriptedLLM{respond: respond}
	ret := &stubRetriever{text: "Opening hours are 9 to 5."}
	fs := &fakeSleep{}
	m := NewManager(st, ret, Deps{
		Factory:  llmFactory{llm: llm},
		Executor: agent.NewExecutor(agent.ExecutorConfig{MaxDepth: 5}, nil),
		Pacer:    agent.DefaultPacer(),
		Config:   Config{SettleDelay: 8 * time.Second},
	})
	m.sleep = fs.sleep

	th := &store.Thread{OrganizationID: testOrg, ContactIdentifier: "contact-1"}
	_ = st.CreateThread(context.Background(), th)
	return &fixture{store: st, llm: llm, ret: ret, sleep: fs, m: m, thread: th}
}

func (f *fixture) settings() *store.AgentSettings { return f.store.settings[testVersion] }

func (f *fixture) addMessage(typ store.MessageType, text string, at time.Time) {
	_ = f.store.AddMessage(context.Background(), &store.Message{
		ThreadID:  f.thread.ID,
		Type:      typ,
		Content:   []store.MessageContent{store.TextContent(text)},
		CreatedAt: at,
	})
}

func (f *fixture) run() error {
	return f.m.RunThread(context.Background(), testOrg, f.thread.ID, testVersion, func(ev protocol.RunEvent) error {
		f.events = append(f.events, ev)
		return nil
	})
}

// stored returns the messages the run persisted, in order.
func (f *fixture) stored(after int) []store.Message {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return append([]store.Message(nil), f.store.messages[after:]...)
}
