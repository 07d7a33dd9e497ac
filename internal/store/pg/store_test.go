package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nextlevelbuilder/threadrun/internal/store"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Store) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock, NewStore(db)
}

func TestGetThread(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
		wantOpen  bool
	}{
		{
			name: "found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM threads WHERE id").
					WithArgs(int64(7), "org-1").
					WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "contact_name", "contact_identifier", "is_open", "created_at", "updated_at"}).
						AddRow(int64(7), "org-1", "Ann", nil, true, now, now))
			},
			wantOpen: true,
		},
		{
			name: "missing",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM threads WHERE id").
					WithArgs(int64(7), "org-1").
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: store.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, s := setupMockDB(t)
			tt.setupMock(mock)

			th, err := s.GetThread(context.Background(), "org-1", 7)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if th.IsOpen != tt.wantOpen || th.ContactName != "Ann" || th.ContactIdentifier != "" {
				t.Errorf("got %+v", th)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestCreateThread(t *testing.T) {
	_, mock, s := setupMockDB(t)
	mock.ExpectQuery("INSERT INTO threads").
		WithArgs("org-1", "Ann", "ann@example.com", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	th := &store.Thread{OrganizationID: "org-1", ContactName: "Ann", ContactIdentifier: "ann@example.com"}
	if err := s.CreateThread(context.Background(), th); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if th.ID != 42 || !th.IsOpen {
		t.Errorf("got id=%d open=%v, want 42 true", th.ID, th.IsOpen)
	}
}

func TestUpdateRunStatus(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "applied", affected: 1},
		{name: "backward move rejected", affected: 0, wantErr: store.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, s := setupMockDB(t)
			mock.ExpectExec("UPDATE runs SET status").
				WithArgs("running", sqlmock.AnyArg(), int64(3), "org-1", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := s.UpdateRunStatus(context.Background(), "org-1", 3, store.RunStatusRunning)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpireRuns(t *testing.T) {
	_, mock, s := setupMockDB(t)
	mock.ExpectExec("UPDATE runs SET status").
		WithArgs("expired", sqlmock.AnyArg(), int64(9), "org-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.ExpireRuns(context.Background(), "org-1", 9)
	if err != nil {
		t.Fatalf("ExpireRuns: %v", err)
	}
	if n != 2 {
		t.Errorf("expired = %d, want 2", n)
	}
}

func TestGetValidThreadMessages(t *testing.T) {
	_, mock, s := setupMockDB(t)
	now := time.Now()
	cols := []string{"id", "thread_id", "message_type", "content", "created_at", "tool_call_id", "tool_call_name", "run_status"}
	mock.ExpectQuery("FROM messages m").
		WithArgs(int64(5), "org-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), int64(5), "human", []byte(`[{"type":"text","text":"hi"}]`), now, nil, nil, nil).
			AddRow(int64(2), int64(5), "tool_answer", []byte(`[{"type":"text","text":"42"}]`), now, "call_1", "lookup", "running"))

	msgs, err := s.GetValidThreadMessages(context.Background(), "org-1", 5)
	if err != nil {
		t.Fatalf("GetValidThreadMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Type != store.MessageTypeHuman || msgs[0].Text() != "hi" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].ToolCallID != "call_1" || msgs[1].ToolCallName != "lookup" || msgs[1].RunStatus != store.RunStatusRunning {
		t.Errorf("second message = %+v", msgs[1])
	}
}

func TestAddMessageRejectsUnknownType(t *testing.T) {
	_, _, s := setupMockDB(t)
	err := s.AddMessage(context.Background(), &store.Message{Type: "robot"})
	if err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestRemoveMessageNotFound(t *testing.T) {
	_, mock, s := setupMockDB(t)
	mock.ExpectExec("UPDATE messages SET is_valid = false").
		WithArgs(int64(11), int64(5), "org-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RemoveMessage(context.Background(), "org-1", 5, 11)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetAgentSettings(t *testing.T) {
	_, mock, s := setupMockDB(t)
	cols := []string{"id", "version_id", "delay", "hide_tool_messages", "include_last_24h_history",
		"mcp_url", "mcp_headers", "core", "cond", "vis", "emb"}
	mock.ExpectQuery("FROM agent_settings s").
		WithArgs("org-1", "v1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(1), int64(10), true, false, true,
			"https://tools.example.com/mcp", []byte(`{"Authorization":"Bearer x"}`),
			[]byte(`{"id":1,"provider":"openai","model_name":"gpt-4o","api_key":"sk"}`),
			nil, nil,
			[]byte(`{"id":2,"provider":"openai","model_name":"text-embedding-3-small"}`),
		))

	as, err := s.GetAgentSettings(context.Background(), "org-1", "v1")
	if err != nil {
		t.Fatalf("GetAgentSettings: %v", err)
	}
	if as.CoreLLM == nil || as.CoreLLM.Name != "gpt-4o" {
		t.Errorf("core llm = %+v", as.CoreLLM)
	}
	if as.CondenseLLM != nil || as.VisionLLM != nil {
		t.Errorf("expected nil condense/vision, got %+v / %+v", as.CondenseLLM, as.VisionLLM)
	}
	if as.Embeddings == nil || as.Embeddings.Name != "text-embedding-3-small" {
		t.Errorf("embeddings = %+v", as.Embeddings)
	}
	if as.MCP == nil || as.MCP.Headers["Authorization"] != "Bearer x" {
		t.Errorf("mcp = %+v", as.MCP)
	}
	if !as.Delay || as.HideToolMessages || !as.IncludeLast24hHistory {
		t.Errorf("flags = %+v", as)
	}
}

func TestAcquireReleasesOnce(t *testing.T) {
	db, mock, _ := setupMockDB(t)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	s, release, err := Acquire(context.Background(), db)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	var one int
	if err := s.db.QueryRowContext(context.Background(), "SELECT 1").Scan(&one); err != nil {
		t.Fatalf("query on acquired conn: %v", err)
	}
	release()
	release()

	if stats := db.Stats(); stats.InUse != 0 {
		t.Errorf("connections in use after release = %d, want 0", stats.InUse)
	}
}

func TestSearchKnowledge(t *testing.T) {
	_, mock, s := setupMockDB(t)
	mock.ExpectQuery("SELECT id, source, content, 1 - \\(embedding <=> \\$1::vector\\)").
		WithArgs("[0.5,-1,0.25]", "org-1", int64(3), 0.3, int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "source", "content", "score"}).
			AddRow(int64(11), "faq.md", "Opening hours are 9 to 5.", 0.91).
			AddRow(int64(12), nil, "We ship worldwide.", 0.42))

	chunks, err := s.SearchKnowledge(context.Background(), store.KnowledgeQuery{
		OrganizationID: "org-1",
		VersionID:      3,
		Embedding:      []float32{0.5, -1, 0.25},
		TopK:           2,
		Threshold:      0.3,
	})
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Source != "faq.md" || chunks[1].Source != "" {
		t.Errorf("chunks = %+v", chunks)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEncodeEmbedding(t *testing.T) {
	tests := []struct {
		in   []float32
		want string
	}{
		{nil, "[]"},
		{[]float32{1}, "[1]"},
		{[]float32{0.1, 2.5, -3}, "[0.1,2.5,-3]"},
	}
	for _, tt := range tests {
		if got := encodeEmbedding(tt.in); got != tt.want {
			t.Errorf("encodeEmbedding(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
