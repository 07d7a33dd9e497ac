package tools

import (
	"context"
	"errors"
	"testing"
)

type echoTool struct{ name string }

func (e echoTool) Name() string                       { return e.name }
func (e echoTool) Description() string                { return "echo" }
func (e echoTool) Parameters() map[string]interface{} { return nil }
func (e echoTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	s, _ := args["text"].(string)
	return NewResult(s)
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool{name: "echo"})
	r.Register(NewHandoffTool())

	res, err := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ForLLM != "hi" {
		t.Errorf("ForLLM = %q, want %q", res.ForLLM, "hi")
	}

	if _, err := r.Execute(context.Background(), "missing", nil); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("err = %v, want ErrToolNotFound", err)
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool{name: "zeta"})
	r.Register(echoTool{name: "alpha"})
	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Function.Name != "alpha" || defs[1].Function.Name != "zeta" {
		t.Fatalf("defs = %+v", defs)
	}
	if got := r.Names(); len(got) != 2 || got[0] != "alpha" {
		t.Errorf("names = %v", got)
	}
}

func TestHandoffTool(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"with reason", map[string]interface{}{"reason": " refund request "}, "refund request"},
		{"blank reason", map[string]interface{}{"reason": "  "}, DefaultHandoffReason},
		{"no args", nil, DefaultHandoffReason},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewHandoffTool().Execute(context.Background(), tt.args)
			if res.Handoff != tt.want {
				t.Errorf("Handoff = %q, want %q", res.Handoff, tt.want)
			}
		})
	}
}
