package tools

import (
	"context"
	"errors"
	"testing"
)

// fakeModule is a minimal module for registry tests.
type fakeModule struct {
	group string
	tools []string
}

func (f *fakeModule) Group() string { return f.group }

func (f *fakeModule) Definitions() []Definition {
	defs := make([]Definition, len(f.tools))
	for i, name := range f.tools {
		defs[i] = Definition{Name: name}
	}
	return defs
}

func (f *fakeModule) Execute(ctx context.Context, call CallContext, name string, args map[string]any) (any, error) {
	return map[string]any{"tool": name, "group": f.group}, nil
}

func TestRegisterDuplicateGroup(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&fakeModule{group: "alpha"}); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	err := reg.Register(&fakeModule{group: "alpha"})
	if !errors.Is(err, ErrGroupAlreadyRegistered) {
		t.Fatalf("got %v, want ErrGroupAlreadyRegistered", err)
	}
}

func TestRegisterEmptyGroup(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&fakeModule{}); !errors.Is(err, ErrGroupEmpty) {
		t.Fatalf("got %v, want ErrGroupEmpty", err)
	}
}

func TestDispatchRespectsAllowedGroups(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&fakeModule{group: "alpha", tools: []string{"alpha_tool"}})
	reg.MustRegister(&fakeModule{group: "beta", tools: []string{"beta_tool"}})
	d := NewDispatcher(reg)

	call := CallContext{AgentID: "a1", AllowedGroups: []string{"alpha"}}

	res, err := d.Dispatch(context.Background(), call, "alpha_tool", nil)
	if err != nil {
		t.Fatalf("allowed tool failed: %v", err)
	}
	if res.(map[string]any)["group"] != "alpha" {
		t.Errorf("dispatch reached wrong module: %v", res)
	}

	// A tool in an unallowed group is indistinguishable from a missing one.
	_, err = d.Dispatch(context.Background(), call, "beta_tool", nil)
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want *ToolError", err)
	}
	if te.Kind != FailureValidation || te.Code != "unknown_tool" {
		t.Errorf("got kind=%s code=%s, want validation/unknown_tool", te.Kind, te.Code)
	}
}

func TestDefinitionsFor(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&fakeModule{group: "alpha", tools: []string{"a1", "a2"}})
	reg.MustRegister(&fakeModule{group: "beta", tools: []string{"b1"}})

	defs := reg.DefinitionsFor([]string{"alpha", "missing"})
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
}

func TestToolErrorTaxonomy(t *testing.T) {
	tests := []struct {
		err  *ToolError
		kind FailureKind
	}{
		{Validation("bad_args", "x"), FailureValidation},
		{Runtime("exec_failed", "x"), FailureRuntime},
		{MissingContext("no_agent", "x"), FailureMissingContext},
		{TargetNotFound("no_session", "x"), FailureTargetNotFound},
	}
	for _, tt := range tests {
		if tt.err.Kind != tt.kind {
			t.Errorf("constructor produced kind %s, want %s", tt.err.Kind, tt.kind)
		}
	}
}
