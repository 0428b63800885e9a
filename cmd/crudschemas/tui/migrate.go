// Package tui is the interactive migration picker.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marshallshelly/crudschemas/pkg/migration"
)

// Action is the direction migrations run in.
type Action string

const (
	ActionUp   Action = "up"
	ActionDown Action = "down"
)

// eligible is the status a migration must have for the action to run it.
func (a Action) eligible() migration.MigrationStatus {
	if a == ActionDown {
		return migration.StatusApplied
	}
	return migration.StatusPending
}

// Runner is the part of *migration.Executor the UI drives.
type Runner interface {
	GetStatus(ctx context.Context, migrations []migration.Migration) ([]migration.MigrationRecord, error)
	Apply(ctx context.Context, m migration.Migration, dryRun bool) error
	Rollback(ctx context.Context, m migration.Migration, dryRun bool) error
}

type mode int

const (
	modeList mode = iota
	modeConfirm
	modeExecuting
	modeComplete
	modeError
)

// MigrateModel is the Bubbletea model for interactive migrations.
type MigrateModel struct {
	mode         mode
	action       Action
	list         list.Model
	confirmation ConfirmationDialog
	progress     ProgressView
	logs         LogView
	err          error
	width        int
	height       int

	runner     Runner
	migrations map[string]migration.Migration
	ordered    []migration.Migration
	status     []migration.MigrationRecord
	queue      []migration.Migration
}

func NewMigrateModel(action Action, runner Runner, migrations []migration.Migration) MigrateModel {
	l := list.New(nil, MigrationItemDelegate{}, 0, 0)
	l.Title = "Migrations " + strings.ToUpper(string(action))
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle

	byVersion := make(map[string]migration.Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}
	return MigrateModel{
		mode:       modeList,
		action:     action,
		list:       l,
		logs:       NewLogView(10),
		runner:     runner,
		migrations: byVersion,
		ordered:    migrations,
	}
}

type statusLoadedMsg struct {
	status []migration.MigrationRecord
}

type migrationDoneMsg struct {
	version string
	err     error
}

type errorMsg struct {
	err error
}

func (m MigrateModel) Init() tea.Cmd {
	return tea.Batch(m.loadStatus(), tea.EnterAltScreen)
}

func (m MigrateModel) loadStatus() tea.Cmd {
	return func() tea.Msg {
		status, err := m.runner.GetStatus(context.Background(), m.ordered)
		if err != nil {
			return errorMsg{err: fmt.Errorf("failed to get migration status: %w", err)}
		}
		return statusLoadedMsg{status: status}
	}
}

func (m MigrateModel) run(mig migration.Migration) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		var err error
		if m.action == ActionUp {
			err = m.runner.Apply(ctx, mig, false)
		} else {
			err = m.runner.Rollback(ctx, mig, false)
		}
		return migrationDoneMsg{version: mig.Version, err: err}
	}
}

// selection returns the migrations to run for the highlighted row, or with
// everything set, every eligible migration in execution order.
func (m MigrateModel) selection(everything bool) []migration.Migration {
	want := m.action.eligible()
	var out []migration.Migration
	if !everything {
		idx := m.list.Index()
		if idx < 0 || idx >= len(m.status) || m.status[idx].Status != want {
			return nil
		}
		if mig, ok := m.migrations[m.status[idx].Version]; ok {
			out = append(out, mig)
		}
		return out
	}
	for _, r := range m.status {
		if r.Status != want {
			continue
		}
		if mig, ok := m.migrations[r.Version]; ok {
			out = append(out, mig)
		}
	}
	if m.action == ActionDown {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func (m MigrateModel) confirm(queue []migration.Migration) MigrateModel {
	names := make([]string, len(queue))
	for i, mig := range queue {
		names[i] = "  " + mig.Version + " - " + mig.Name
	}
	m.queue = queue
	m.confirmation = NewConfirmationDialog(
		fmt.Sprintf("Confirm migrate %s", m.action),
		fmt.Sprintf("Run %d migration(s) %s?\n%s", len(queue), m.action, strings.Join(names, "\n")),
	)
	m.mode = modeConfirm
	return m
}

func (m MigrateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case statusLoadedMsg:
		m.status = msg.status
		items := make([]list.Item, len(msg.status))
		for i, s := range msg.status {
			appliedAt := ""
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			items[i] = MigrationItem{Version: s.Version, Name: s.Name, Status: string(s.Status), AppliedAt: appliedAt}
		}
		return m, m.list.SetItems(items)

	case migrationDoneMsg:
		if msg.err != nil {
			m.mode = modeError
			m.err = fmt.Errorf("%s: %w", msg.version, msg.err)
			m.logs.AddLog(dangerStyle.Render("✗ " + msg.version))
			return m, nil
		}
		m.logs.AddLog(successStyle.Render("✓ " + msg.version))
		m.progress.Current++
		if m.progress.Current >= m.progress.Total {
			m.mode = modeComplete
			return m, nil
		}
		next := m.queue[m.progress.Current]
		m.progress.Message = "Running " + next.Version + " - " + next.Name
		return m, m.run(next)

	case errorMsg:
		m.mode = modeError
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case modeList:
			if m.list.FilterState() == list.Filtering {
				break
			}
			switch msg.String() {
			case "ctrl+c", "q":
				return m, tea.Quit
			case "enter", " ":
				if queue := m.selection(false); len(queue) > 0 {
					return m.confirm(queue), nil
				}
				return m, nil
			case "a":
				if queue := m.selection(true); len(queue) > 0 {
					return m.confirm(queue), nil
				}
				return m, nil
			}

		case modeConfirm:
			if s := msg.String(); s == "esc" || s == "q" || s == "ctrl+c" {
				m.mode = modeList
				return m, nil
			}
			answered, yes := m.confirmation.Update(msg)
			if !answered {
				return m, nil
			}
			if !yes {
				m.mode = modeList
				return m, nil
			}
			m.mode = modeExecuting
			m.progress = ProgressView{
				Total:   len(m.queue),
				Message: "Running " + m.queue[0].Version + " - " + m.queue[0].Name,
			}
			return m, m.run(m.queue[0])

		case modeComplete, modeError:
			switch msg.String() {
			case "ctrl+c", "q", "enter":
				return m, tea.Quit
			}
		}
	}

	if m.mode == modeList {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m MigrateModel) View() string {
	center := func(s string) string {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, s)
	}

	switch m.mode {
	case modeConfirm:
		return center(m.confirmation.View())

	case modeExecuting:
		return center(lipgloss.JoinVertical(lipgloss.Left, m.progress.View(), "", m.logs.View()))

	case modeComplete:
		return center(boxStyle.Render(
			titleStyle.Render("Migration Complete") + "\n\n" +
				successStyle.Render(fmt.Sprintf("Ran %d migration(s) %s", m.progress.Total, m.action)) + "\n" +
				helpLine([2]string{"enter/q", "exit"}),
		))

	case modeError:
		return center(boxStyle.Render(
			titleStyle.Render("Migration Failed") + "\n\n" +
				dangerStyle.Render(m.err.Error()) + "\n\n" +
				m.logs.View() + "\n" +
				helpLine([2]string{"enter/q", "exit"}),
		))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.list.View(),
		helpLine([2]string{"↑/↓", "navigate"}, [2]string{"enter", "run selected"}, [2]string{"a", "run all " + string(m.action.eligible())}, [2]string{"/", "filter"}, [2]string{"q", "quit"}),
	)
}

// Err reports the failure the session ended with, if any.
func (m MigrateModel) Err() error {
	return m.err
}

// RunMigrateUI runs the picker until the user quits.
func RunMigrateUI(action Action, runner Runner, migrations []migration.Migration) error {
	final, err := tea.NewProgram(NewMigrateModel(action, runner, migrations)).Run()
	if err != nil {
		return err
	}
	if m, ok := final.(MigrateModel); ok {
		return m.Err()
	}
	return nil
}
