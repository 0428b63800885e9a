package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/marshallshelly/crudschemas/pkg/migration"
)

type fakeRunner struct {
	status []migration.MigrationRecord
	ran    []string
	failOn string
}

func (f *fakeRunner) GetStatus(context.Context, []migration.Migration) ([]migration.MigrationRecord, error) {
	return f.status, nil
}

func (f *fakeRunner) Apply(_ context.Context, m migration.Migration, _ bool) error {
	if m.Version == f.failOn {
		return errors.New("boom")
	}
	f.ran = append(f.ran, "up "+m.Version)
	return nil
}

func (f *fakeRunner) Rollback(_ context.Context, m migration.Migration, _ bool) error {
	f.ran = append(f.ran, "down "+m.Version)
	return nil
}

var migrations = []migration.Migration{
	{Version: "1", Name: "qa"},
	{Version: "2", Name: "cinema"},
	{Version: "3", Name: "rental"},
}

func loaded(t *testing.T, action Action, r *fakeRunner) MigrateModel {
	t.Helper()
	m := NewMigrateModel(action, r, migrations)
	next, _ := m.Update(m.loadStatus()())
	return next.(MigrateModel)
}

func key(s string) tea.KeyMsg {
	if s == "enter" {
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// drive feeds msg to the model and runs the resulting commands to completion.
func drive(m MigrateModel, msg tea.Msg) MigrateModel {
	next, cmd := m.Update(msg)
	m = next.(MigrateModel)
	for cmd != nil {
		out := cmd()
		if _, ok := out.(migrationDoneMsg); !ok {
			return m
		}
		next, cmd = m.Update(out)
		m = next.(MigrateModel)
	}
	return m
}

func TestSelectionAll(t *testing.T) {
	r := &fakeRunner{status: []migration.MigrationRecord{
		{Version: "1", Status: migration.StatusApplied},
		{Version: "2", Status: migration.StatusApplied},
		{Version: "3", Status: migration.StatusPending},
	}}

	up := loaded(t, ActionUp, r).selection(true)
	if len(up) != 1 || up[0].Version != "3" {
		t.Errorf("up selection = %v, want [3]", up)
	}

	down := loaded(t, ActionDown, r).selection(true)
	if len(down) != 2 || down[0].Version != "2" || down[1].Version != "1" {
		t.Errorf("down selection = %v, want newest first", down)
	}
}

func TestSelectedRowMustBeEligible(t *testing.T) {
	r := &fakeRunner{status: []migration.MigrationRecord{
		{Version: "1", Status: migration.StatusApplied},
	}}
	if got := loaded(t, ActionUp, r).selection(false); len(got) != 0 {
		t.Errorf("applied row selected for up: %v", got)
	}
}

func TestRunAllPending(t *testing.T) {
	r := &fakeRunner{status: []migration.MigrationRecord{
		{Version: "1", Status: migration.StatusApplied},
		{Version: "2", Status: migration.StatusPending},
		{Version: "3", Status: migration.StatusPending},
	}}
	m := loaded(t, ActionUp, r)

	m = drive(m, key("a"))
	if m.mode != modeConfirm {
		t.Fatalf("mode = %v, want confirm", m.mode)
	}
	m = drive(m, key("y"))

	if m.mode != modeComplete {
		t.Fatalf("mode = %v, want complete (err %v)", m.mode, m.err)
	}
	if len(r.ran) != 2 || r.ran[0] != "up 2" || r.ran[1] != "up 3" {
		t.Errorf("ran %v", r.ran)
	}
}

func TestDeclineReturnsToList(t *testing.T) {
	r := &fakeRunner{status: []migration.MigrationRecord{{Version: "1", Status: migration.StatusPending}}}
	m := drive(loaded(t, ActionUp, r), key("a"))
	m = drive(m, key("n"))

	if m.mode != modeList {
		t.Errorf("mode = %v, want list", m.mode)
	}
	if len(r.ran) != 0 {
		t.Errorf("ran %v after declining", r.ran)
	}
}

func TestFailureStopsBatch(t *testing.T) {
	r := &fakeRunner{
		status: []migration.MigrationRecord{
			{Version: "1", Status: migration.StatusPending},
			{Version: "2", Status: migration.StatusPending},
		},
		failOn: "1",
	}
	m := drive(loaded(t, ActionUp, r), key("a"))
	m = drive(m, key("y"))

	if m.mode != modeError {
		t.Fatalf("mode = %v, want error", m.mode)
	}
	if m.Err() == nil {
		t.Error("Err() = nil after a failed migration")
	}
	if len(r.ran) != 0 {
		t.Errorf("ran %v after the first migration failed", r.ran)
	}
}

func TestEnterDefaultsToNo(t *testing.T) {
	r := &fakeRunner{status: []migration.MigrationRecord{{Version: "1", Status: migration.StatusPending}}}
	m := drive(loaded(t, ActionUp, r), key("a"))
	m = drive(m, key("enter"))

	if m.mode != modeList || len(r.ran) != 0 {
		t.Errorf("mode = %v ran = %v, want list with nothing run", m.mode, r.ran)
	}
}

func TestFormatProgressBar(t *testing.T) {
	if got := FormatProgressBar(1, 2, 10); !strings.Contains(got, "1/2") {
		t.Errorf("FormatProgressBar = %q, want count", got)
	}
	if got := FormatProgressBar(0, 0, 4); strings.Contains(got, "/") {
		t.Errorf("empty bar shows a count: %q", got)
	}
}
