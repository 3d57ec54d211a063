package uibridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthive/internal/tools"
)

// answeringSession auto-resolves every delivered frame through the broker.
type answeringSession struct {
	fakeSession
	broker *Broker
	answer func(CommandFrame) ResultFrame
}

func (a *answeringSession) Deliver(frame CommandFrame) error {
	if err := a.fakeSession.Deliver(frame); err != nil {
		return err
	}
	go a.broker.resolveFrame(a.answer(frame))
	return nil
}

func uiCall(ui tools.UIBroker) tools.CallContext {
	return tools.CallContext{
		AgentID:       "agent-1",
		AllowedGroups: []string{tools.GroupUI},
		UI:            ui,
	}
}

func TestUIModuleEvalJS(t *testing.T) {
	b := NewBroker()
	s := &answeringSession{fakeSession: fakeSession{id: "s1"}, broker: b}
	s.answer = func(f CommandFrame) ResultFrame {
		assert.Equal(t, "eval_js", f.Type)
		assert.Equal(t, "1+1", f.Payload["script"])
		return ResultFrame{ID: f.ID, OK: true, Result: float64(2)}
	}
	b.Attach(s)

	m := NewUIModule()
	res, err := m.Execute(context.Background(), uiCall(b), "eval_js", map[string]any{"script": "1+1"})
	require.NoError(t, err)
	assert.Equal(t, float64(2), res.(map[string]any)["result"])
}

func TestUIModuleNoClient(t *testing.T) {
	m := NewUIModule()

	_, err := m.Execute(context.Background(), uiCall(NewBroker()), "get_content", map[string]any{})
	var te *tools.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, tools.FailureMissingContext, te.Kind)
	assert.Equal(t, "ui_client_not_connected", te.Code)
}

func TestUIModuleTimeoutCode(t *testing.T) {
	b := NewBroker()
	b.Attach(&fakeSession{id: "silent"})

	m := NewUIModule()
	_, err := m.Execute(context.Background(), uiCall(b), "eval_js", map[string]any{
		"script":     "while(true){}",
		"timeout_ms": 30,
	})
	var te *tools.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, tools.FailureRuntime, te.Kind)
	assert.Equal(t, "ui_timeout", te.Code)
}

func TestUIModuleDomPatchValidation(t *testing.T) {
	b := NewBroker()
	b.Attach(&fakeSession{id: "s1"})
	m := NewUIModule()

	_, err := m.Execute(context.Background(), uiCall(b), "dom_patch", map[string]any{"selector": "#x"})
	var te *tools.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, tools.FailureValidation, te.Kind)

	_, err = m.Execute(context.Background(), uiCall(b), "dom_patch", map[string]any{
		"operations": []any{map[string]any{"html": "<p>hi</p>"}},
	})
	require.True(t, errors.As(err, &te))
	assert.Equal(t, tools.FailureValidation, te.Kind)
}

func TestUIModuleDomPatchForwardsOperations(t *testing.T) {
	b := NewBroker()
	s := &answeringSession{fakeSession: fakeSession{id: "s1"}, broker: b}
	s.answer = func(f CommandFrame) ResultFrame {
		ops := f.Payload["operations"].([]any)
		assert.Len(t, ops, 2)
		return ResultFrame{ID: f.ID, OK: true, Result: "patched"}
	}
	b.Attach(s)

	m := NewUIModule()
	res, err := m.Execute(context.Background(), uiCall(b), "dom_patch", map[string]any{
		"operations": []any{
			map[string]any{"selector": "#status", "html": "<b>done</b>", "mode": "replace"},
			map[string]any{"selector": "#log", "html": "<li>step</li>", "mode": "append"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "patched", res.(map[string]any)["result"])
}

func TestUIModuleClientError(t *testing.T) {
	b := NewBroker()
	s := &answeringSession{fakeSession: fakeSession{id: "s1"}, broker: b}
	s.answer = func(f CommandFrame) ResultFrame {
		return ResultFrame{ID: f.ID, OK: false, Error: &FrameError{
			Message: "no such element",
			Details: map[string]any{"selector": "#ghost", "matches": float64(0)},
		}}
	}
	b.Attach(s)

	m := NewUIModule()
	_, err := m.Execute(context.Background(), uiCall(b), "get_content", map[string]any{"selector": "#ghost"})
	var te *tools.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, tools.FailureRuntime, te.Kind)
	assert.Equal(t, "ui_command_failed", te.Code)
	assert.Contains(t, te.Message, "no such element")
	assert.Equal(t, "#ghost", te.Details["selector"])
}
