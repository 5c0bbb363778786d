package ctldash

import (
	"context"
	"strings"
	"testing"

	tea "charm.land/bubbletea/v2"
)

func TestRefreshPopulatesRows(t *testing.T) {
	rows := []DeploymentStatus{
		{Name: "swerex-1", Image: "python:3.11", State: "running", Port: 8000, Alive: true},
	}
	m := New(context.Background(), func(ctx context.Context) ([]DeploymentStatus, error) {
		return rows, nil
	})

	updated, cmd := m.Update(refreshMsg{rows: rows})
	model := updated.(Model)
	if len(model.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(model.rows))
	}
	if cmd != nil {
		t.Fatal("refreshMsg handling should not schedule another command")
	}
}

func TestQuitKeyStopsProgram(t *testing.T) {
	m := New(context.Background(), func(ctx context.Context) ([]DeploymentStatus, error) { return nil, nil })
	_, cmd := m.Update(tea.KeyPressMsg{Code: 'q', Text: "q"})
	if cmd == nil {
		t.Fatal("expected a tea.Quit command")
	}
}

func TestCursorClampsWhenRowsShrink(t *testing.T) {
	m := New(context.Background(), nil)
	m.cursor = 3
	updated, _ := m.Update(refreshMsg{rows: []DeploymentStatus{{Name: "only-one"}}})
	model := updated.(Model)
	if model.cursor != 0 {
		t.Fatalf("cursor = %d, want 0", model.cursor)
	}
}

func TestViewRendersEmptyState(t *testing.T) {
	m := New(context.Background(), nil)
	content := m.render()
	if !strings.Contains(content, "no active deployments") {
		t.Fatalf("expected empty-state message, got: %s", content)
	}
}

func TestViewRendersRows(t *testing.T) {
	m := New(context.Background(), nil)
	m.rows = []DeploymentStatus{
		{Name: "swerex-1", Image: "python:3.11", State: "running", Port: 8000, Alive: true},
	}
	content := m.render()
	for _, want := range []string{"swerex-1", "python:3.11", "running", "alive", "8000"} {
		if !strings.Contains(content, want) {
			t.Fatalf("rendered view missing %q:\n%s", want, content)
		}
	}
}
