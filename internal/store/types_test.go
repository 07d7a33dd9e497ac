package store

import (
	"slices"
	"testing"
)

func TestRunStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunStatusCreated, RunStatusRunning, true},
		{RunStatusCreated, RunStatusCompleted, true},
		{RunStatusCreated, RunStatusExpired, true},
		{RunStatusRunning, RunStatusError, true},
		{RunStatusRunning, RunStatusCreated, false},
		{RunStatusCompleted, RunStatusRunning, false},
		{RunStatusExpired, RunStatusError, false},
		{RunStatusError, RunStatusCompleted, false},
		{RunStatusRunning, RunStatusRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSourcesFor(t *testing.T) {
	got := SourcesFor(RunStatusRunning)
	want := []string{"running", "created"}
	if !slices.Equal(got, want) {
		t.Errorf("SourcesFor(running) = %v, want %v", got, want)
	}

	got = SourcesFor(RunStatusError)
	want = []string{"error", "created", "running"}
	if !slices.Equal(got, want) {
		t.Errorf("SourcesFor(error) = %v, want %v", got, want)
	}
}

func TestMessageTextAndToolUses(t *testing.T) {
	m := Message{
		Type: MessageTypeAI,
		Content: []MessageContent{
			TextContent("first"),
			ToolUseContent("call_1", "lookup", map[string]any{"q": "x"}),
			TextContent("second"),
		},
	}
	if got := m.Text(); got != "first\n\nsecond" {
		t.Errorf("Text() = %q, want %q", got, "first\n\nsecond")
	}
	uses := m.ToolUses()
	if len(uses) != 1 || uses[0].Name != "lookup" {
		t.Fatalf("ToolUses() = %+v, want one lookup call", uses)
	}
}
