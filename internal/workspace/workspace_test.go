package workspace

import (
	"testing"
	"time"
)

func TestCreateAndLoadWorkspace(t *testing.T) {
	m := NewManager(t.TempDir())

	ws, err := m.CreateWorkspace("my project", "/tmp/proj", "claude-x")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if ws.ID == "" {
		t.Fatal("created workspace has no id")
	}

	loaded, err := m.LoadWorkspace(ws.ID)
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}
	if loaded.Name != "my project" || loaded.Model != "claude-x" {
		t.Errorf("loaded %+v, want name and model preserved", loaded)
	}
}

func TestGetAllWorkspacesSortedByLastOpened(t *testing.T) {
	m := NewManager(t.TempDir())

	older, err := m.CreateWorkspace("older", "/tmp/a", "")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	newer, err := m.CreateWorkspace("newer", "/tmp/b", "")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	// Re-saving refreshes LastOpened, so the second workspace sorts first.
	time.Sleep(5 * time.Millisecond)
	loaded, err := m.LoadWorkspace(newer.ID)
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}
	if err := m.SaveWorkspace(loaded); err != nil {
		t.Fatalf("SaveWorkspace: %v", err)
	}

	all, err := m.GetAllWorkspaces()
	if err != nil {
		t.Fatalf("GetAllWorkspaces: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d workspaces, want 2", len(all))
	}
	if all[0].ID != newer.ID || all[1].ID != older.ID {
		t.Errorf("order = %s, %s; want most recently opened first", all[0].Name, all[1].Name)
	}
}

func TestGetAllWorkspacesEmptyIsNotNil(t *testing.T) {
	m := NewManager(t.TempDir())

	all, err := m.GetAllWorkspaces()
	if err != nil {
		t.Fatalf("GetAllWorkspaces: %v", err)
	}
	if all == nil {
		t.Error("empty workspace list is nil, want empty slice")
	}
}

func TestDeleteWorkspaceClearsCurrentPointer(t *testing.T) {
	m := NewManager(t.TempDir())

	ws, err := m.CreateWorkspace("doomed", "/tmp/c", "")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if err := m.SetCurrentWorkspace(ws.ID); err != nil {
		t.Fatalf("SetCurrentWorkspace: %v", err)
	}

	if err := m.DeleteWorkspace(ws.ID); err != nil {
		t.Fatalf("DeleteWorkspace: %v", err)
	}

	if _, err := m.LoadWorkspace(ws.ID); err == nil {
		t.Error("deleted workspace still loads")
	}
	current, err := m.GetCurrentWorkspaceID()
	if err != nil {
		t.Fatalf("GetCurrentWorkspaceID: %v", err)
	}
	if current != "" {
		t.Errorf("current pointer = %q after delete, want empty", current)
	}
}

func TestDeleteMissingWorkspaceIsNoop(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.DeleteWorkspace("does-not-exist"); err != nil {
		t.Errorf("DeleteWorkspace on missing id: %v", err)
	}
}
